package credprovider

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryFromJWT parses the unverified claims of a JWT to recover its exp
// claim. The coordinator is a relying party here, not a verifier: it never
// checks the signature of a credential it was handed to present to other
// servers, only reads the expiry so it knows when to ask for a new one.
//
// Grounded on tests/oauthserver/jwt.go's TokenClaims/jwt.RegisteredClaims
// usage, read in the opposite direction (parse instead of mint).
func expiryFromJWT(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := &jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}

func basicAuthHeader(username, password string) string {
	return "Basic " + basicEncode(username, password)
}
