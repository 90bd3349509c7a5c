// Package mcp implements the MCP JSON-RPC health probe (C2's MCP leg): one
// tools/list request per call, turned into a healthtypes.MCPProbeResult.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	mcpsdk "github.com/mark3labs/mcp-go/mcp"

	"github.com/nestymook/healthcoord/internal/config"
	"github.com/nestymook/healthcoord/internal/healthtypes"
)

// jsonrpcRequest is the JSON-RPC 2.0 envelope the coordinator sends, per
// spec.md §4.2.1 step 2. It mirrors mcp-go's wire shape; the method name is
// the literal "tools/list", and mcp-go is used only to type the decoded
// result (mcpsdk.ListToolsResult), never for its client/transport.
type jsonrpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
}

// jsonrpcResponse decodes the envelope's jsonrpc/id/error fields strictly
// but keeps result as raw bytes: a malformed individual tool entry (wrong
// type for name/description/inputSchema) must surface as a schema
// validation finding (step 8), not as a top-level ErrParse that a typed
// decode straight into mcpsdk.ListToolsResult would produce.
type jsonrpcResponse struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      string                `json:"id"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *healthtypes.MCPError `json:"error,omitempty"`
}

func (r jsonrpcResponse) hasResult() bool {
	return len(r.Result) > 0 && string(r.Result) != "null"
}

// Client issues MCP tools/list probes over plain HTTP POST.
//
// Grounded on the teacher's internal/upstream.Client.ListTools: same
// tools/list request and the same "count tools, diff against an
// expected set" validation shape, but stripped of the teacher's cached-tools
// fast path and session/transport machinery, since each health probe must hit
// the wire exactly once per spec.md's "one probe, one request" contract.
type Client struct {
	httpClient *http.Client
}

// NewClient builds an MCP probe client. The caller supplies per-call
// timeouts via context, so the underlying http.Client carries no default
// timeout of its own.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{}}
}

// Probe issues a single tools/list request against server and returns the
// populated MCPProbeResult. It never returns a Go error for a probe failure
// (connection refused, timeout, malformed JSON, JSON-RPC error object) —
// those are recorded in the result's fields per spec.md §7's error taxonomy.
// A non-nil error return means the call could not be attempted at all (e.g.
// a nil server).
func (c *Client) Probe(ctx context.Context, server *config.ServerConfig, headers map[string]string) (*healthtypes.MCPProbeResult, error) {
	if server == nil {
		return nil, fmt.Errorf("mcp probe: nil server config")
	}

	requestID := uuid.NewString()
	start := time.Now()

	result := &healthtypes.MCPProbeResult{
		ServerName:     server.Name,
		Timestamp:      start,
		RequestID:      requestID,
		JSONRPCVersion: "2.0",
	}

	body, err := json.Marshal(jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  "tools/list",
	})
	if err != nil {
		result.ErrorKind = healthtypes.ErrValidation
		result.ConnectionError = err.Error()
		return result, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server.MCPEndpointURL, bytes.NewReader(body))
	if err != nil {
		result.ErrorKind = healthtypes.ErrConfig
		result.ConnectionError = err.Error()
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	result.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		classifyTransportError(ctx, err, result)
		return result, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		result.ErrorKind = healthtypes.ErrTransport
		result.ConnectionError = err.Error()
		return result, nil
	}

	// spec.md §4.2.1 step 4: on HTTP >= 400, a response that still carries a
	// JSON-RPC error object wins (handled below alongside a 200 response's
	// error object); otherwise synthesize mcp_error{-32000} from the status
	// and truncated body rather than treating it as a bare connection error.
	if resp.StatusCode >= 400 {
		var errBody jsonrpcResponse
		if err := json.Unmarshal(raw, &errBody); err == nil && errBody.Error != nil {
			result.MCPError = errBody.Error
			result.ErrorKind = healthtypes.ErrMCPProtocol
			return result, nil
		}
		result.ErrorKind = httpStatusErrorKind(resp.StatusCode)
		result.MCPError = &healthtypes.MCPError{
			Code:    -32000,
			Message: fmt.Sprintf("HTTP %d", resp.StatusCode),
			Data:    truncateBody(raw, maxErrorBodyCapture),
		}
		return result, nil
	}

	var rpc jsonrpcResponse
	if err := json.Unmarshal(raw, &rpc); err != nil {
		result.ErrorKind = healthtypes.ErrParse
		result.ConnectionError = fmt.Sprintf("invalid JSON-RPC envelope: %v", err)
		result.Validation = &healthtypes.ValidationOutcome{IsValid: false, Errors: []string{err.Error()}}
		return result, nil
	}

	// spec.md §4.2.1 step 6: jsonrpc version and id echo are validated
	// unconditionally, even when the envelope otherwise parses and carries
	// a result; an id mismatch is a validation error, not a silent accept.
	var envelopeErrs []string
	if rpc.JSONRPC != "2.0" {
		envelopeErrs = append(envelopeErrs, fmt.Sprintf("unexpected jsonrpc version %q", rpc.JSONRPC))
	}
	if rpc.ID != requestID {
		envelopeErrs = append(envelopeErrs, fmt.Sprintf("response id %q does not match request id %q", rpc.ID, requestID))
	}
	hasResult := rpc.hasResult()
	if hasResult && rpc.Error != nil {
		envelopeErrs = append(envelopeErrs, "response carries both result and error")
	}
	if !hasResult && rpc.Error == nil {
		envelopeErrs = append(envelopeErrs, "response carries neither result nor error")
	}
	if len(envelopeErrs) > 0 {
		result.ErrorKind = healthtypes.ErrValidation
		result.Validation = &healthtypes.ValidationOutcome{IsValid: false, Errors: envelopeErrs}
		return result, nil
	}

	if rpc.Error != nil {
		result.MCPError = rpc.Error
		result.ErrorKind = healthtypes.ErrMCPProtocol
		return result, nil
	}

	// Best-effort typed decode for tool names/count: a malformed individual
	// tool (e.g. a numeric name) may leave listResult.Tools partially
	// populated, but validateToolSchemas below is authoritative for
	// schemasOK/errors, not this decode's success.
	var listResult mcpsdk.ListToolsResult
	_ = json.Unmarshal(rpc.Result, &listResult)

	result.ToolsCount = len(listResult.Tools)
	found, missing, toolsValid, toolErrs := validateExpectedTools(listResult.Tools, server.MCPExpectedTools)
	result.ExpectedToolsFound = found
	result.MissingTools = missing

	schemasOK, schemaErrs := validateToolSchemas(rpc.Result)

	allErrs := append(append([]string{}, toolErrs...), schemaErrs...)
	valid := toolsValid && schemasOK
	result.Validation = &healthtypes.ValidationOutcome{IsValid: valid, SchemasOK: schemasOK, Errors: allErrs}
	result.Success = valid
	if !valid {
		result.ErrorKind = healthtypes.ErrValidation
	}
	return result, nil
}

// httpStatusErrorKind maps an HTTP status code to the coordinator's error
// taxonomy (spec.md §7), for the HTTP-level failure synthesized as
// mcp_error at step 4.
func httpStatusErrorKind(status int) healthtypes.ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return healthtypes.ErrAuth
	case status == http.StatusTooManyRequests || status >= 500:
		return healthtypes.ErrHTTPServer
	default:
		return healthtypes.ErrHTTPClient
	}
}

const maxErrorBodyCapture = 4096

// truncateBody returns raw capped to n bytes, for the mcp_error.data payload
// spec.md §4.2.1 step 4 requires truncated to 4 KiB.
func truncateBody(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n])
}

// toolShape is the loosely-typed view of one tools/list entry used to check
// required keys and their types without trusting a pre-typed SDK struct to
// distinguish "field absent" from "field present but zero", per spec.md
// §4.2.1 step 8 and SPEC_FULL.md's ToolSchemaCheck design note.
type toolShape map[string]any

// validateToolSchemas parses the raw "result" object's tools array and
// checks, for each tool entry, that name and description are present
// strings and that inputSchema, if present, is an object. It returns
// schemasOK=false and a human-readable error per violation; a tool the
// best-effort SDK-typed decode accepted (e.g. by zeroing a mistyped field)
// can still fail this pass.
func validateToolSchemas(rawResult json.RawMessage) (schemasOK bool, errs []string) {
	var result struct {
		Tools []toolShape `json:"tools"`
	}
	if err := json.Unmarshal(rawResult, &result); err != nil {
		return false, []string{fmt.Sprintf("could not parse tools for schema validation: %v", err)}
	}

	schemasOK = true
	for i, tool := range result.Tools {
		label := fmt.Sprintf("tool[%d]", i)
		if nameVal, ok := tool["name"]; !ok {
			schemasOK = false
			errs = append(errs, label+`: missing required key "name"`)
		} else if name, ok := nameVal.(string); !ok {
			schemasOK = false
			errs = append(errs, label+`: "name" must be a string`)
		} else {
			label = fmt.Sprintf("tool %q", name)
		}

		if descVal, ok := tool["description"]; !ok {
			schemasOK = false
			errs = append(errs, label+`: missing required key "description"`)
		} else if _, ok := descVal.(string); !ok {
			schemasOK = false
			errs = append(errs, label+`: "description" must be a string`)
		}

		if schemaVal, ok := tool["inputSchema"]; ok {
			if _, ok := schemaVal.(map[string]any); !ok {
				schemasOK = false
				errs = append(errs, label+`: "inputSchema" must be an object`)
			}
		}
	}
	return schemasOK, errs
}

// validateExpectedTools compares the tool set returned by the server against
// the configured expected set using set semantics, order-insensitive — per
// SPEC_FULL.md's resolution of spec.md §9 Open Question 2. found/missing are
// returned in the order expectedTools was declared, for stable output.
func validateExpectedTools(tools []mcpsdk.Tool, expectedTools []string) (found, missing []string, valid bool, errs []string) {
	if len(expectedTools) == 0 {
		return nil, nil, true, nil
	}
	present := make(map[string]bool, len(tools))
	for _, t := range tools {
		present[t.Name] = true
	}
	for _, name := range expectedTools {
		if present[name] {
			found = append(found, name)
		} else {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, fmt.Sprintf("missing expected tools: %v", missing))
		return found, missing, false, errs
	}
	return found, missing, true, nil
}

func classifyTransportError(ctx context.Context, err error, result *healthtypes.MCPProbeResult) {
	if ctx.Err() != nil {
		if ctx.Err() == context.DeadlineExceeded {
			result.ErrorKind = healthtypes.ErrTimeout
		} else {
			result.ErrorKind = healthtypes.ErrCancelled
		}
		result.ConnectionError = ctx.Err().Error()
		return
	}
	result.ErrorKind = healthtypes.ErrTransport
	result.ConnectionError = err.Error()
}
