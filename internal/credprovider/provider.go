// Package credprovider implements the coordinator's credential lifecycle
// (C1): it caches per-server tokens, refreshes them ahead of expiry with a
// single in-flight refresh per server, and renders the auth headers that
// internal/probe attaches to outbound probes.
package credprovider

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nestymook/healthcoord/internal/config"
)

// Refresh backoff shares spec.md §4.3's base/cap shape (no separate values
// are given for credential refresh in spec.md §4.1, which only specifies
// "capped exponential backoff").
const (
	refreshBackoffBase = 500 * time.Millisecond
	refreshBackoffCap  = 8 * time.Second
)

// refreshBackoffDelay returns the capped exponential backoff with
// multiplicative jitter in [0.8, 1.2] for refresh retry attempt (0-indexed).
func refreshBackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(refreshBackoffBase) * math.Pow(2, float64(attempt))
	delay *= 0.8 + rand.Float64()*0.4
	if delay > float64(refreshBackoffCap) || delay <= 0 {
		return refreshBackoffCap
	}
	return time.Duration(delay)
}

// TokenInfo is the cached credential state for one server, per spec.md §3.
type TokenInfo struct {
	ServerName  string
	AccessToken string
	ExpiresAt   time.Time
	ObtainedAt  time.Time
	FetchCount  int
	LastError   string
}

// expiringSoon reports whether the token needs refreshing given buffer.
func (t *TokenInfo) expiringSoon(buffer time.Duration, now time.Time) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false // static credential, never expires
	}
	return now.Add(buffer).After(t.ExpiresAt)
}

// Provider owns the per-server token cache and refresh coordination.
//
// Grounded on the teacher's internal/oauth/refresh_manager.go RefreshManager:
// one schedule/cache entry per server, threshold-based refresh trigger, and
// retry backoff on failed refreshes — generalized here from MCP upstream
// OAuth tokens to the coordinator's full AuthConfig variant set.
type Provider struct {
	log *zap.Logger

	mu     sync.RWMutex
	tokens map[string]*TokenInfo

	group singleflight.Group

	now func() time.Time
}

// NewProvider builds a credential provider. log should already be scoped
// (e.g. via zap.L().Named("credprovider")).
func NewProvider(log *zap.Logger) *Provider {
	return &Provider{
		log:    log,
		tokens: make(map[string]*TokenInfo),
		now:    time.Now,
	}
}

// AuthHeaders returns the HTTP headers to attach to a probe against server,
// refreshing the cached credential first if it is absent or within its
// refresh buffer of expiry. Exactly one goroutine performs the underlying
// refresh call per server even when many probes race on it concurrently
// (the coordinator's single-flight invariant, spec.md §8).
func (p *Provider) AuthHeaders(ctx context.Context, server *config.ServerConfig) (map[string]string, error) {
	if server.Auth.Type == config.AuthNone {
		return nil, nil
	}
	if server.Auth.Type == config.AuthCustomHeaders {
		out := make(map[string]string, len(server.Auth.Headers))
		for k, v := range server.Auth.Headers {
			out[k] = v
		}
		return out, nil
	}
	if server.Auth.Type == config.AuthAPIKey {
		return map[string]string{server.Auth.HeaderName: server.Auth.Key}, nil
	}
	if server.Auth.Type == config.AuthBasic {
		return map[string]string{"Authorization": basicAuthHeader(server.Auth.Username, server.Auth.Password)}, nil
	}

	tok, err := p.EnsureFresh(ctx, server)
	if err != nil {
		return nil, err
	}
	return map[string]string{"Authorization": "Bearer " + tok.AccessToken}, nil
}

// EnsureFresh returns a non-expiring-soon TokenInfo for server, refreshing it
// through singleflight.Group if needed so concurrent callers for the same
// server share one refresh.
func (p *Provider) EnsureFresh(ctx context.Context, server *config.ServerConfig) (*TokenInfo, error) {
	p.mu.RLock()
	cur := p.tokens[server.Name]
	p.mu.RUnlock()

	if !cur.expiringSoon(server.Auth.RefreshBuffer(), p.now()) {
		return cur, nil
	}

	v, err, _ := p.group.Do(server.Name, func() (any, error) {
		return p.refresh(ctx, server)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TokenInfo), nil
}

func (p *Provider) refresh(ctx context.Context, server *config.ServerConfig) (*TokenInfo, error) {
	log := p.log.With(zap.String("server", server.Name), zap.String("auth_type", string(server.Auth.Type)))

	if server.Auth.Type == config.AuthJWT && (server.Auth.StaticToken != "" || server.Auth.ClientID == "") {
		// Static/bearer-held tokens never hit the network; there is nothing
		// transient to retry here.
		token := server.Auth.StaticToken
		if token == "" {
			token = server.Auth.BearerToken
		}
		expiry, err := expiryFromJWT(token)
		if err != nil {
			// Not every bearer token is a JWT; a non-JWT static token never expires.
			expiry = time.Time{}
		}
		return p.commit(server, log, token, expiry, nil)
	}
	if server.Auth.Type == config.AuthBearer {
		token := server.Auth.StaticToken
		if token == "" {
			token = server.Auth.BearerToken
		}
		expiry, err := expiryFromJWT(token)
		if err != nil {
			expiry = time.Time{}
		}
		return p.commit(server, log, token, expiry, nil)
	}
	if server.Auth.Type != config.AuthJWT && server.Auth.Type != config.AuthOAuth2 {
		return nil, fmt.Errorf("credprovider: refresh not applicable to auth type %s", server.Auth.Type)
	}

	// client_id/client_secret/discovery_url variant (JWT or OAuth2), per
	// spec.md §3's AuthConfig invariant and §4.1's "retries up to
	// max_refresh_attempts with capped exponential backoff" requirement.
	var (
		token  string
		expiry time.Time
		err    error
	)
	maxAttempts := maxInt(1, server.Auth.MaxAttempts())
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				return p.commit(server, log, token, expiry, err)
			case <-time.After(refreshBackoffDelay(attempt - 1)):
			}
		}
		token, expiry, err = fetchClientCredentialsToken(ctx, server.Auth)
		if err == nil {
			break
		}
		log.Warn("credential refresh attempt failed", zap.Int("attempt", attempt+1), zap.Int("max_attempts", maxAttempts), zap.Error(err))
	}

	return p.commit(server, log, token, expiry, err)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// commit records the outcome of a refresh attempt (success or exhausted
// retries) into the token cache.
func (p *Provider) commit(server *config.ServerConfig, log *zap.Logger, token string, expiry time.Time, err error) (*TokenInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing := p.tokens[server.Name]
	fetchCount := 1
	if existing != nil {
		fetchCount = existing.FetchCount + 1
	}

	if err != nil {
		log.Warn("credential refresh failed", zap.Error(err))
		if existing != nil {
			existing.LastError = err.Error()
			return existing, fmt.Errorf("credprovider: refresh server %s: %w", server.Name, err)
		}
		return nil, fmt.Errorf("credprovider: refresh server %s: %w", server.Name, err)
	}

	info := &TokenInfo{
		ServerName:  server.Name,
		AccessToken: token,
		ExpiresAt:   expiry,
		ObtainedAt:  p.now(),
		FetchCount:  fetchCount,
	}
	p.tokens[server.Name] = info
	log.Debug("credential refreshed", zap.Time("expires_at", expiry))
	return info, nil
}

// Snapshot returns the current cached TokenInfo for server without
// triggering a refresh, for diagnostics/read endpoints.
func (p *Provider) Snapshot(name string) (*TokenInfo, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tokens[name]
	return t, ok
}
