package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultLeeway is the clock skew tolerated on token expiry.
const DefaultLeeway = 2 * time.Second

// RequestAuthenticator resolves the player behind an HTTP or upgrade request.
type RequestAuthenticator struct {
	verifier *HMACTokenVerifier
	audience string
}

// NewRequestAuthenticator verifies tokens signed with secret. A non-empty audience is enforced.
func NewRequestAuthenticator(secret, audience string) (*RequestAuthenticator, error) {
	verifier, err := NewHMACTokenVerifier(secret, DefaultLeeway)
	if err != nil {
		return nil, err
	}
	return &RequestAuthenticator{verifier: verifier, audience: strings.TrimSpace(audience)}, nil
}

// Verifier exposes the underlying token verifier.
func (a *RequestAuthenticator) Verifier() *HMACTokenVerifier {
	return a.verifier
}

// Authenticate returns the token subject. Requests carrying no token are anonymous and yield
// an empty subject with no error.
func (a *RequestAuthenticator) Authenticate(r *http.Request) (string, error) {
	if a == nil || a.verifier == nil {
		return "", errors.New("verifier not configured")
	}
	token := RequestToken(r)
	if token == "" {
		return "", nil
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	if a.audience != "" && claims.Audience != a.audience {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// RequestToken extracts a token from the auth_token query, the X-Auth-Token header or a bearer
// Authorization header, in that order.
func RequestToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := strings.TrimSpace(r.URL.Query().Get("auth_token")); token != "" {
		return token
	}
	if token := strings.TrimSpace(r.Header.Get("X-Auth-Token")); token != "" {
		return token
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
