// Package config defines the coordinator's configuration document: the
// monitored-server list and the global aggregation/circuit-breaker/scheduler/
// retention sections described in spec.md §3 and §6.
package config

import "time"

// AuthType enumerates the supported authentication strategies for a monitored
// server, per spec.md §3's AuthConfig tagged variant.
type AuthType string

const (
	AuthNone          AuthType = "NONE"
	AuthJWT           AuthType = "JWT"
	AuthBearer        AuthType = "BEARER"
	AuthAPIKey        AuthType = "API_KEY"
	AuthBasic         AuthType = "BASIC"
	AuthOAuth2        AuthType = "OAUTH2"
	AuthCustomHeaders AuthType = "CUSTOM_HEADERS"
)

// AuthConfig describes how the credential provider authenticates probes for
// one server. Only the fields relevant to Type are expected to be populated;
// Validate enforces the invariants from spec.md §3.
type AuthConfig struct {
	Type AuthType `yaml:"type" json:"type"`

	// JWT / OAUTH2 client-credentials
	StaticToken  string `yaml:"static_token,omitempty" json:"static_token,omitempty"`
	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	DiscoveryURL string `yaml:"discovery_url,omitempty" json:"discovery_url,omitempty"`
	TokenURL     string `yaml:"token_url,omitempty" json:"token_url,omitempty"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`

	// BEARER
	BearerToken string `yaml:"bearer_token,omitempty" json:"bearer_token,omitempty"`

	// API_KEY
	Key        string `yaml:"key,omitempty" json:"key,omitempty"`
	HeaderName string `yaml:"header_name,omitempty" json:"header_name,omitempty"`

	// BASIC
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// CUSTOM_HEADERS
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	RefreshBufferSeconds int `yaml:"refresh_buffer_seconds,omitempty" json:"refresh_buffer_seconds,omitempty"`
	MaxRefreshAttempts   int `yaml:"max_refresh_attempts,omitempty" json:"max_refresh_attempts,omitempty"`
}

// RefreshBuffer returns the configured refresh buffer, defaulting to 30s.
func (a *AuthConfig) RefreshBuffer() time.Duration {
	if a.RefreshBufferSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(a.RefreshBufferSeconds) * time.Second
}

// MaxAttempts returns the configured max refresh attempts, defaulting to 5.
func (a *AuthConfig) MaxAttempts() int {
	if a.MaxRefreshAttempts <= 0 {
		return 5
	}
	return a.MaxRefreshAttempts
}

// AggregationMode selects how per-path successes combine into a health score.
type AggregationMode string

const (
	ModeWeightedAverage AggregationMode = "weighted_average"
	ModeMinimum         AggregationMode = "minimum"
	ModeMaximum         AggregationMode = "maximum"
)

// ServerConfig is one monitored agent, per spec.md §3.
type ServerConfig struct {
	Name string `yaml:"name" json:"name"`

	MCPEndpointURL        string `yaml:"mcp_endpoint_url" json:"mcp_endpoint_url"`
	RESTHealthEndpointURL string `yaml:"rest_health_endpoint_url" json:"rest_health_endpoint_url"`

	MCPEnabled  bool `yaml:"mcp_enabled" json:"mcp_enabled"`
	RESTEnabled bool `yaml:"rest_enabled" json:"rest_enabled"`

	MCPExpectedTools []string `yaml:"mcp_expected_tools,omitempty" json:"mcp_expected_tools,omitempty"`

	MCPTimeoutMS int `yaml:"mcp_timeout_ms,omitempty" json:"mcp_timeout_ms,omitempty"`
	RESTTimeoutMS int `yaml:"rest_timeout_ms,omitempty" json:"rest_timeout_ms,omitempty"`

	MCPRetryAttempts  int `yaml:"mcp_retry_attempts,omitempty" json:"mcp_retry_attempts,omitempty"`
	RESTRetryAttempts int `yaml:"rest_retry_attempts,omitempty" json:"rest_retry_attempts,omitempty"`

	MCPPriorityWeight  float64 `yaml:"mcp_priority_weight,omitempty" json:"mcp_priority_weight,omitempty"`
	RESTPriorityWeight float64 `yaml:"rest_priority_weight,omitempty" json:"rest_priority_weight,omitempty"`

	RequireBothSuccessForHealthy bool `yaml:"require_both_success_for_healthy" json:"require_both_success_for_healthy"`

	AggregationMode AggregationMode `yaml:"aggregation_mode,omitempty" json:"aggregation_mode,omitempty"`

	Auth AuthConfig `yaml:"auth" json:"auth"`
}

// MCPTimeout returns the configured MCP timeout, defaulting to 10s.
func (s *ServerConfig) MCPTimeout() time.Duration {
	if s.MCPTimeoutMS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.MCPTimeoutMS) * time.Millisecond
}

// RESTTimeout returns the configured REST timeout, defaulting to 8s.
func (s *ServerConfig) RESTTimeout() time.Duration {
	if s.RESTTimeoutMS <= 0 {
		return 8 * time.Second
	}
	return time.Duration(s.RESTTimeoutMS) * time.Millisecond
}

// MCPRetries returns the configured MCP retry attempt count, defaulting to 3.
func (s *ServerConfig) MCPRetries() int {
	if s.MCPRetryAttempts <= 0 {
		return 3
	}
	return s.MCPRetryAttempts
}

// RESTRetries returns the configured REST retry attempt count, defaulting to 3.
func (s *ServerConfig) RESTRetries() int {
	if s.RESTRetryAttempts <= 0 {
		return 3
	}
	return s.RESTRetryAttempts
}

// Weights returns the normalized (mcp, rest) priority weights for the
// currently enabled paths, defaulting to 0.6/0.4 when unset.
func (s *ServerConfig) Weights() (mcp, rest float64) {
	return s.WeightsFor(s.MCPEnabled, s.RESTEnabled)
}

// WeightsFor is Weights but normalizes over caller-supplied path
// availability rather than the static config flags, so a path skipped for
// one cycle (e.g. its circuit is open) drops out of the weight
// normalization the same way a permanently-disabled path does, per
// spec.md §4.3's aggregation rule restricted to "enabled-path" results.
func (s *ServerConfig) WeightsFor(mcpAvailable, restAvailable bool) (mcp, rest float64) {
	mcp, rest = s.MCPPriorityWeight, s.RESTPriorityWeight
	if mcp == 0 && rest == 0 {
		mcp, rest = 0.6, 0.4
	}
	if !mcpAvailable {
		mcp = 0
	}
	if !restAvailable {
		rest = 0
	}
	total := mcp + rest
	if total <= 0 {
		return 0, 0
	}
	return mcp / total, rest / total
}

// AggregationConfig holds the global thresholds used by the orchestrator's
// aggregation rule, per spec.md §4.3.
type AggregationConfig struct {
	FailureThreshold  float64         `yaml:"failure_threshold" json:"failure_threshold"`
	DegradedThreshold float64         `yaml:"degraded_threshold" json:"degraded_threshold"`
	DefaultMode       AggregationMode `yaml:"default_mode,omitempty" json:"default_mode,omitempty"`
}

// CircuitBreakerConfig holds the global per-path breaker defaults, per spec.md §4.4.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" json:"failure_threshold"`
	OpenDuration     time.Duration `yaml:"open_duration" json:"open_duration"`
}

// SchedulerConfig holds the global bounded-concurrency caps, per spec.md §4.3.
type SchedulerConfig struct {
	MaxConcurrentServers      int           `yaml:"max_concurrent_servers" json:"max_concurrent_servers"`
	MaxConcurrentProbesPerSvr int           `yaml:"max_concurrent_probes_per_server" json:"max_concurrent_probes_per_server"`
	CycleInterval             time.Duration `yaml:"cycle_interval" json:"cycle_interval"`
	ProbeGrace                time.Duration `yaml:"probe_grace" json:"probe_grace"`
}

// RetentionConfig holds registry retention settings, per spec.md §4.5.
type RetentionConfig struct {
	WindowCapacity  int           `yaml:"window_capacity" json:"window_capacity"`
	RetentionHours  time.Duration `yaml:"retention_hours" json:"retention_hours"`
}

// Config is the full configuration document: the server list plus global
// sections, per spec.md §6.
type Config struct {
	Servers []ServerConfig `yaml:"servers" json:"servers"`

	Aggregation    AggregationConfig    `yaml:"aggregation" json:"aggregation"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" json:"circuit_breaker"`
	Scheduler      SchedulerConfig      `yaml:"scheduler" json:"scheduler"`
	Retention      RetentionConfig      `yaml:"retention" json:"retention"`

	DataDir  string `yaml:"data_dir,omitempty" json:"data_dir,omitempty"`
	LogLevel string `yaml:"log_level,omitempty" json:"log_level,omitempty"`
}

// DefaultConfig returns a Config populated with the defaults named throughout
// spec.md §3/§4.
func DefaultConfig() *Config {
	return &Config{
		Servers: nil,
		Aggregation: AggregationConfig{
			FailureThreshold:  0.5,
			DegradedThreshold: 0.7,
			DefaultMode:       ModeWeightedAverage,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			OpenDuration:     30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentServers:      10,
			MaxConcurrentProbesPerSvr: 2,
			CycleInterval:             30 * time.Second,
			ProbeGrace:                500 * time.Millisecond,
		},
		Retention: RetentionConfig{
			WindowCapacity: 100,
			RetentionHours: 24 * time.Hour,
		},
	}
}

// LogConfig mirrors the teacher's logging configuration shape, used by
// internal/logs.SetupLogger.
type LogConfig struct {
	Level         string `yaml:"level" json:"level"`
	EnableFile    bool   `yaml:"enable_file" json:"enable_file"`
	EnableConsole bool   `yaml:"enable_console" json:"enable_console"`
	Filename      string `yaml:"filename" json:"filename"`
	LogDir        string `yaml:"log_dir" json:"log_dir"`
	MaxSize       int    `yaml:"max_size" json:"max_size"`
	MaxBackups    int    `yaml:"max_backups" json:"max_backups"`
	MaxAge        int    `yaml:"max_age" json:"max_age"`
	Compress      bool   `yaml:"compress" json:"compress"`
	JSONFormat    bool   `yaml:"json_format" json:"json_format"`
}
