package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// serverNameBody enforces spec.md §3's ServerConfig.name character set:
// 3-64 chars of [A-Za-z0-9_-]. The no-leading/trailing-hyphen rule is
// checked separately in validate() since a single regexp for "3-64 chars,
// set S, not starting/ending with one element of S" reads far less clearly
// than splitting the two checks.
var serverNameBody = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// reservedOAuthParams mirrors the teacher's ValidateOAuthExtraParams guard:
// these keys are set by the client-credentials exchange itself and are
// rejected as OAUTH2 scope entries. CUSTOM_HEADERS keys are not checked
// against this list.
var reservedOAuthParams = map[string]bool{
	"grant_type":    true,
	"client_id":     true,
	"client_secret": true,
	"code":          true,
	"redirect_uri":  true,
}

// Validate checks the full document's invariants, per spec.md §3/§6: unique
// non-empty server names, sane URLs, weight sums, threshold ordering, and
// per-auth-type required fields. It is called by the loader before a Config
// is published, never after.
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return fmt.Errorf("config: at least one server must be configured")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i := range c.Servers {
		s := &c.Servers[i]
		if err := s.validate(); err != nil {
			return fmt.Errorf("config: server[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate server name %q", s.Name)
		}
		seen[s.Name] = true
	}

	if c.Aggregation.FailureThreshold < 0 || c.Aggregation.FailureThreshold > 1 {
		return fmt.Errorf("config: aggregation.failure_threshold must be in [0,1]")
	}
	if c.Aggregation.DegradedThreshold < 0 || c.Aggregation.DegradedThreshold > 1 {
		return fmt.Errorf("config: aggregation.degraded_threshold must be in [0,1]")
	}
	if c.Aggregation.FailureThreshold >= c.Aggregation.DegradedThreshold {
		return fmt.Errorf("config: aggregation.failure_threshold must be lower than degraded_threshold")
	}
	switch c.Aggregation.DefaultMode {
	case "", ModeWeightedAverage, ModeMinimum, ModeMaximum:
	default:
		return fmt.Errorf("config: unknown aggregation.default_mode %q", c.Aggregation.DefaultMode)
	}

	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("config: circuit_breaker.failure_threshold must be >= 1")
	}
	if c.CircuitBreaker.OpenDuration <= 0 {
		return fmt.Errorf("config: circuit_breaker.open_duration must be positive")
	}

	if c.Scheduler.MaxConcurrentServers < 1 {
		return fmt.Errorf("config: scheduler.max_concurrent_servers must be >= 1")
	}
	if c.Scheduler.MaxConcurrentProbesPerSvr < 1 {
		return fmt.Errorf("config: scheduler.max_concurrent_probes_per_server must be >= 1")
	}
	if c.Scheduler.CycleInterval <= 0 {
		return fmt.Errorf("config: scheduler.cycle_interval must be positive")
	}

	if c.Retention.WindowCapacity < 1 {
		return fmt.Errorf("config: retention.window_capacity must be >= 1")
	}
	if c.Retention.RetentionHours <= 0 {
		return fmt.Errorf("config: retention.retention_hours must be positive")
	}

	return nil
}

func (s *ServerConfig) validate() error {
	if !serverNameBody.MatchString(s.Name) {
		return fmt.Errorf("invalid server name %q (expected 3-64 chars of [A-Za-z0-9_-])", s.Name)
	}
	if strings.HasPrefix(s.Name, "-") || strings.HasSuffix(s.Name, "-") {
		return fmt.Errorf("invalid server name %q: must not start or end with '-'", s.Name)
	}
	if !s.MCPEnabled && !s.RESTEnabled {
		return fmt.Errorf("server %q: at least one of mcp_enabled/rest_enabled must be true", s.Name)
	}
	if s.MCPEnabled {
		if err := validateURL(s.MCPEndpointURL); err != nil {
			return fmt.Errorf("server %q: mcp_endpoint_url: %w", s.Name, err)
		}
	}
	if s.RESTEnabled {
		if err := validateURL(s.RESTHealthEndpointURL); err != nil {
			return fmt.Errorf("server %q: rest_health_endpoint_url: %w", s.Name, err)
		}
	}
	if s.MCPPriorityWeight < 0 || s.RESTPriorityWeight < 0 {
		return fmt.Errorf("server %q: priority weights must be non-negative", s.Name)
	}
	if s.MCPPriorityWeight > 0 || s.RESTPriorityWeight > 0 {
		if s.MCPPriorityWeight+s.RESTPriorityWeight > 1.0001 {
			return fmt.Errorf("server %q: mcp_priority_weight + rest_priority_weight must not exceed 1", s.Name)
		}
	}
	switch s.AggregationMode {
	case "", ModeWeightedAverage, ModeMinimum, ModeMaximum:
	default:
		return fmt.Errorf("server %q: unknown aggregation_mode %q", s.Name, s.AggregationMode)
	}
	if err := s.Auth.validate(); err != nil {
		return fmt.Errorf("server %q: auth: %w", s.Name, err)
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q (want http/https)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func (a *AuthConfig) validate() error {
	switch a.Type {
	case AuthNone:
	case AuthJWT:
		haveStatic := a.StaticToken != "" || a.BearerToken != ""
		haveClientCreds := a.ClientID != "" && a.ClientSecret != "" && a.DiscoveryURL != ""
		if !haveStatic && !haveClientCreds {
			return fmt.Errorf("type JWT requires static_token/bearer_token or (client_id, client_secret, discovery_url)")
		}
	case AuthBearer:
		if a.StaticToken == "" && a.BearerToken == "" {
			return fmt.Errorf("type %s requires static_token or bearer_token", a.Type)
		}
	case AuthAPIKey:
		if a.Key == "" {
			return fmt.Errorf("type API_KEY requires key")
		}
		if a.HeaderName == "" {
			return fmt.Errorf("type API_KEY requires header_name")
		}
	case AuthBasic:
		if a.Username == "" {
			return fmt.Errorf("type BASIC requires username")
		}
	case AuthOAuth2:
		if a.ClientID == "" || a.ClientSecret == "" {
			return fmt.Errorf("type OAUTH2 requires client_id and client_secret")
		}
		if a.TokenURL == "" && a.DiscoveryURL == "" {
			return fmt.Errorf("type OAUTH2 requires token_url or discovery_url")
		}
		if err := validateReservedParams(a.Scopes); err != nil {
			return err
		}
	case AuthCustomHeaders:
		if len(a.Headers) == 0 {
			return fmt.Errorf("type CUSTOM_HEADERS requires at least one header")
		}
	default:
		return fmt.Errorf("unknown auth type %q", a.Type)
	}
	return nil
}

func validateReservedParams(scopes []string) error {
	for _, s := range scopes {
		if reservedOAuthParams[strings.ToLower(s)] {
			return fmt.Errorf("scope %q collides with a reserved OAuth grant parameter", s)
		}
	}
	return nil
}
