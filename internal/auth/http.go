// ABOUTME: HTTP middleware guarding the socket upgrade endpoint
// ABOUTME: Supports the none, token, and ssh authentication modes

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnauthenticated is the base error for every rejected request.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator checks one upgrade request and names its principal.
type Authenticator interface {
	// Authenticate returns the principal for the request, or an error
	// wrapping ErrUnauthenticated when the request must be rejected.
	Authenticate(r *http.Request) (*AuthContext, error)
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// NoneAuthenticator admits every request as the anonymous principal.
type NoneAuthenticator struct{}

func (NoneAuthenticator) Authenticate(r *http.Request) (*AuthContext, error) {
	return &AuthContext{PrincipalID: "anonymous", Method: "none"}, nil
}

// TokenAuthenticator requires a valid JWT bearer token on the upgrade.
type TokenAuthenticator struct {
	Verifier TokenVerifier
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (*AuthContext, error) {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnauthenticated, errMsg)
	}
	principalID, err := a.Verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return &AuthContext{PrincipalID: principalID, Method: "token"}, nil
}

// SSHAuthenticator requires a valid SSH signature in the upgrade headers.
type SSHAuthenticator struct {
	Verifier *SSHVerifier
}

func (a *SSHAuthenticator) Authenticate(r *http.Request) (*AuthContext, error) {
	req := ExtractSSHAuthFromHeader(r.Header)
	if req == nil {
		return nil, fmt.Errorf("%w: missing ssh auth headers", ErrUnauthenticated)
	}
	fingerprint, err := a.Verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return &AuthContext{PrincipalID: fingerprint, Method: "ssh"}, nil
}

// Middleware wraps an endpoint with the authenticator. Rejections get a
// 401 JSON body; accepted requests carry their AuthContext in the
// request context.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, err := a.Authenticate(r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprintf(w, `{"error":%q}`+"\n", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
