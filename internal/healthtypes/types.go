// Package healthtypes defines the plain data types shared between the probe
// clients, the orchestrator, the circuit breaker, and the health registry.
// None of these types carry behavior beyond small derived-field helpers;
// they are the wire/record shapes described by the coordinator's data model.
package healthtypes

import "time"

// OverallStatus is the aggregated health verdict for one server in one cycle.
type OverallStatus string

const (
	StatusHealthy   OverallStatus = "HEALTHY"
	StatusDegraded  OverallStatus = "DEGRADED"
	StatusUnhealthy OverallStatus = "UNHEALTHY"
	StatusUnknown   OverallStatus = "UNKNOWN"
)

// ErrorKind classifies a probe failure for retry policy and metrics, per the
// coordinator's error taxonomy. It never crosses a component boundary as a
// Go error value once attached to a probe result.
type ErrorKind string

const (
	ErrTransport      ErrorKind = "TransportError"
	ErrTimeout        ErrorKind = "Timeout"
	ErrHTTPServer     ErrorKind = "HttpServerError"
	ErrHTTPClient     ErrorKind = "HttpClientError"
	ErrAuth           ErrorKind = "AuthError"
	ErrParse          ErrorKind = "ParseError"
	ErrValidation     ErrorKind = "ValidationError"
	ErrMCPProtocol    ErrorKind = "McpProtocolError"
	ErrCancelled      ErrorKind = "Cancelled"
	ErrConfig         ErrorKind = "ConfigError"
)

// Retryable reports whether a probe attempt classified with this kind may be
// retried under the orchestrator's backoff policy.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrTransport, ErrTimeout, ErrHTTPServer, ErrParse:
		return true
	default:
		return false
	}
}

// MCPError mirrors a JSON-RPC 2.0 error object.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ValidationOutcome records schema/envelope validation findings for a probe.
type ValidationOutcome struct {
	IsValid   bool     `json:"is_valid"`
	SchemasOK bool     `json:"schemas_ok,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// MCPProbeResult is the outcome of one ProbeMCP call.
type MCPProbeResult struct {
	ServerName         string             `json:"server_name"`
	Timestamp          time.Time          `json:"timestamp"`
	Success            bool               `json:"success"`
	LatencyMS          int64              `json:"latency_ms"`
	RequestID          string             `json:"request_id"`
	JSONRPCVersion     string             `json:"jsonrpc_version,omitempty"`
	ToolsCount         int                `json:"tools_count,omitempty"`
	ExpectedToolsFound []string           `json:"expected_tools_found,omitempty"`
	MissingTools       []string           `json:"missing_tools,omitempty"`
	MCPError           *MCPError          `json:"mcp_error,omitempty"`
	ConnectionError    string             `json:"connection_error,omitempty"`
	Validation         *ValidationOutcome `json:"validation,omitempty"`
	ErrorKind          ErrorKind          `json:"error_kind,omitempty"`
}

// RESTValidation records the status-field checks performed on a REST probe body.
type RESTValidation struct {
	HasStatusField bool     `json:"has_status_field"`
	StatusValue    string   `json:"status_value,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

// RESTProbeResult is the outcome of one ProbeREST call.
type RESTProbeResult struct {
	ServerName      string          `json:"server_name"`
	Timestamp       time.Time       `json:"timestamp"`
	Success         bool            `json:"success"`
	LatencyMS       int64           `json:"latency_ms"`
	HTTPStatus      int             `json:"http_status,omitempty"`
	Body            string          `json:"body,omitempty"`
	BodyTruncated   bool            `json:"body_truncated,omitempty"`
	Validation      *RESTValidation `json:"validation,omitempty"`
	ConnectionError string          `json:"connection_error,omitempty"`
	ErrorKind       ErrorKind       `json:"error_kind,omitempty"`
}

// DualHealthResult is the canonical per-server, per-cycle record produced by
// the orchestrator and written to the registry.
type DualHealthResult struct {
	ServerName string    `json:"server_name"`
	Timestamp  time.Time `json:"timestamp"`

	MCPResult  *MCPProbeResult  `json:"mcp_result,omitempty"`
	RESTResult *RESTProbeResult `json:"rest_result,omitempty"`

	MCPSuccess  bool `json:"mcp_success"`
	RESTSuccess bool `json:"rest_success"`

	OverallStatus  OverallStatus `json:"overall_status"`
	OverallSuccess bool          `json:"overall_success"`
	CombinedLatMS  int64         `json:"combined_latency_ms"`
	HealthScore    float64       `json:"health_score"`
	AvailablePaths []string      `json:"available_paths"`

	SkippedReason string `json:"skipped_reason,omitempty"`
}

// AvailablePathsFrom computes the available_paths set from per-path success
// booleans and enabled flags, per spec.md §4.3's aggregation rule.
func AvailablePathsFrom(mcpEnabled, restEnabled, mcpOK, restOK bool) []string {
	mcpUp := mcpEnabled && mcpOK
	restUp := restEnabled && restOK
	switch {
	case mcpUp && restUp:
		return []string{"both"}
	case mcpUp:
		return []string{"mcp"}
	case restUp:
		return []string{"rest"}
	default:
		return []string{"none"}
	}
}

// PathState is the state of one path's sub-breaker.
type PathState string

const (
	PathClosed   PathState = "CLOSED"
	PathOpen     PathState = "OPEN"
	PathHalfOpen PathState = "HALF_OPEN"
)

// OverallBreakerState is the derived two-path circuit state.
type OverallBreakerState string

const (
	OverallClosed   OverallBreakerState = "CLOSED"
	OverallOpen     OverallBreakerState = "OPEN"
	OverallMCPOnly  OverallBreakerState = "MCP_ONLY"
	OverallRESTOnly OverallBreakerState = "REST_ONLY"
	OverallDegraded OverallBreakerState = "DEGRADED"
)

// CircuitState is the read snapshot of a server's dual circuit breaker.
type CircuitState struct {
	ServerName   string              `json:"server_name"`
	MCPState     PathState           `json:"mcp_state"`
	RESTState    PathState           `json:"rest_state"`
	OverallState OverallBreakerState `json:"overall_state"`
	LastChangeAt time.Time           `json:"last_change_at"`
}

// Sample is one entry in a per-path metrics window.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
	LatencyMS int64     `json:"latency_ms"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}
