package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"codegen-agent/internal/domain"
	"codegen-agent/internal/infra/config"
)

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name string
}

// Authenticator validates incoming gateway requests.
type Authenticator interface {
	Authenticate(token string) (*ClientInfo, error)
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison to prevent timing attacks.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from configured tokens.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{
		entries: make([]authEntry, len(tokens)),
	}
	for i, t := range tokens {
		name := t.Name
		if name == "" {
			name = "client"
		}
		a.entries[i] = authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: name},
		}
	}
	return a
}

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	if token == "" {
		return nil, domain.ErrGatewayAuthFailed
	}
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			return e.info, nil
		}
	}
	return nil, domain.ErrGatewayAuthFailed
}

// NewAuthenticator returns the authenticator for cfg, or nil when the
// gateway is open.
func NewAuthenticator(cfg config.AuthConfig) Authenticator {
	if cfg.Type != "static" || len(cfg.Tokens) == 0 {
		return nil
	}
	return NewStaticTokenAuth(cfg.Tokens)
}

// requestToken reads a bearer token from the Authorization header, falling
// back to the token query parameter for websocket clients.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// requireAuth rejects requests without a valid token. A nil authenticator
// lets everything through.
func requireAuth(auth Authenticator, next http.Handler) http.Handler {
	if auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.Authenticate(requestToken(r)); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
