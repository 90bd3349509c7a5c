package credprovider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/nestymook/healthcoord/internal/config"
)

func basicEncode(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

// oauthServerMetadata is the subset of RFC 8414 Authorization Server
// Metadata the provider needs to locate a token endpoint.
type oauthServerMetadata struct {
	TokenEndpoint string `json:"token_endpoint"`
}

// discoverTokenURL resolves discoveryURL (an RFC 8414 issuer or a direct
// metadata document) to a token endpoint, trying the well-known path
// conventions the teacher's discovery.go enumerates.
//
// Grounded on internal/oauth/discovery.go's BuildRFC8414MetadataURLs /
// FindWorkingMetadataURL; simplified to a single best-effort fetch since the
// coordinator only needs the token_endpoint, not the full metadata document.
func discoverTokenURL(ctx context.Context, issuer string) (string, error) {
	candidates := rfc8414MetadataURLs(issuer)
	var lastErr error
	client := &http.Client{Timeout: 5 * time.Second}
	for _, candidate := range candidates {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		var meta oauthServerMetadata
		decErr := json.NewDecoder(resp.Body).Decode(&meta)
		resp.Body.Close()
		if decErr != nil || meta.TokenEndpoint == "" {
			lastErr = fmt.Errorf("no usable metadata at %s", candidate)
			continue
		}
		return meta.TokenEndpoint, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no metadata URLs derivable from %s", issuer)
	}
	return "", fmt.Errorf("credprovider: discovery failed for %s: %w", issuer, lastErr)
}

func rfc8414MetadataURLs(issuer string) []string {
	trimmed := strings.TrimSuffix(issuer, "/")
	return []string{
		trimmed + "/.well-known/oauth-authorization-server",
		trimmed + "/.well-known/openid-configuration",
	}
}

// fetchClientCredentialsToken performs an OAuth2 client-credentials grant
// against auth.TokenURL (discovering it via auth.DiscoveryURL first if the
// static URL is absent) and returns the access token and its expiry.
func fetchClientCredentialsToken(ctx context.Context, auth config.AuthConfig) (string, time.Time, error) {
	tokenURL := auth.TokenURL
	if tokenURL == "" {
		discovered, err := discoverTokenURL(ctx, auth.DiscoveryURL)
		if err != nil {
			return "", time.Time{}, err
		}
		tokenURL = discovered
	}

	cc := &clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       auth.Scopes,
	}

	tok, err := cc.Token(ctx)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("client-credentials grant: %w", err)
	}
	return tok.AccessToken, tok.Expiry, nil
}
