// Package rest implements the REST health probe (C2's REST leg): a single
// GET against a server's health endpoint, turned into a
// healthtypes.RESTProbeResult.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nestymook/healthcoord/internal/config"
	"github.com/nestymook/healthcoord/internal/healthtypes"
)

const maxBodyCapture = 16384

// maxRedirects caps the redirect chain http.Client will follow before the
// probe is classified a failure, per spec.md §4.2.2's "redirect chains
// beyond 3 hops" edge case.
const maxRedirects = 3

// degradedStatusValues are status-field values the probed server may report
// that still count as a successful probe, with a validation warning attached
// — SPEC_FULL.md's resolution of spec.md §9 Open Question 1 ("degraded"
// health-check responses are a successful probe of an unhealthy server, not
// a probe failure).
var degradedStatusValues = map[string]bool{
	"degraded": true,
	"warning":  true,
}

// Client issues REST GET /health probes.
//
// Grounded on the teacher's internal/observability/health.go HealthResponse
// shape, read here as the client-side counterpart: the coordinator probes a
// remote agent's /health the same way the teacher's own HealthzHandler
// serves one.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a REST probe client.
func NewClient() *Client {
	return &Client{httpClient: &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}}
}

var errTooManyRedirects = fmt.Errorf("too many redirects")

type healthBody struct {
	Status string `json:"status"`
}

// Probe issues a single GET against server.RESTHealthEndpointURL. As with
// the MCP probe, failures are recorded in the result rather than returned as
// a Go error; a non-nil error means the call could not be attempted.
func (c *Client) Probe(ctx context.Context, server *config.ServerConfig, headers map[string]string) (*healthtypes.RESTProbeResult, error) {
	if server == nil {
		return nil, fmt.Errorf("rest probe: nil server config")
	}

	start := time.Now()
	result := &healthtypes.RESTProbeResult{
		ServerName: server.Name,
		Timestamp:  start,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.RESTHealthEndpointURL, nil)
	if err != nil {
		result.ErrorKind = healthtypes.ErrConfig
		result.ConnectionError = err.Error()
		return result, nil
	}
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

	result.HTTPStatus = resp.StatusCode

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyCapture+1))
	if err != nil {
		result.ErrorKind = healthtypes.ErrTransport
		result.ConnectionError = err.Error()
		return result, nil
	}
	if len(raw) > maxBodyCapture {
		raw = raw[:maxBodyCapture]
		result.BodyTruncated = true
	}
	result.Body = string(raw)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		result.ErrorKind = healthtypes.ErrAuth
		return result, nil
	}
	if resp.StatusCode >= 500 {
		result.ErrorKind = healthtypes.ErrHTTPServer
		return result, nil
	}
	if resp.StatusCode >= 400 {
		result.ErrorKind = healthtypes.ErrHTTPClient
		return result, nil
	}

	// spec.md §4.2.2 step 4 gates body parsing on a JSON Content-Type; a 2xx
	// response with a missing (or non-JSON) Content-Type is still a success,
	// just with a validation warning rather than a parsed status field.
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		result.Success = true
		warning := "response Content-Type is not application/json; treating 2xx as success with warning"
		if contentType == "" {
			warning = "response missing Content-Type header; treating 2xx as success with warning"
		}
		result.Validation = &healthtypes.RESTValidation{Errors: []string{warning}}
		return result, nil
	}

	var body healthBody
	if err := json.Unmarshal(raw, &body); err != nil {
		result.ErrorKind = healthtypes.ErrParse
		result.Validation = &healthtypes.RESTValidation{HasStatusField: false, Errors: []string{err.Error()}}
		return result, nil
	}

	result.Validation = &healthtypes.RESTValidation{
		HasStatusField: body.Status != "",
		StatusValue:    body.Status,
	}

	normalized := strings.ToLower(body.Status)
	switch {
	case body.Status == "":
		result.Validation.Errors = []string{"response body missing status field"}
		result.ErrorKind = healthtypes.ErrValidation
	case normalized == "healthy":
		result.Success = true
	case degradedStatusValues[normalized]:
		result.Validation.Errors = []string{fmt.Sprintf("server reported degraded status %q", body.Status)}
		result.Success = true
	default:
		result.Validation.Errors = []string{fmt.Sprintf("unrecognized status value %q", body.Status)}
		result.ErrorKind = healthtypes.ErrValidation
	}
	return result, nil
}

func classifyTransportError(ctx context.Context, err error, result *healthtypes.RESTProbeResult) {
	if errors.Is(err, errTooManyRedirects) {
		result.ErrorKind = healthtypes.ErrTransport
		result.ConnectionError = "too many redirects"
		return
	}
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
