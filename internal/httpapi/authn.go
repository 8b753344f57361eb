package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"crewdesk.org/internal/audit"
	"crewdesk.org/internal/auth"
	"crewdesk.org/internal/obs"
)

const (
	authHeader      = "Authorization"
	bearer          = "Bearer "
	authTokenCookie = "authToken"
)

var publicPaths = []string{
	"/v1/auth/signup",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// withAuth authenticates every non-public request. The Authorization header
// takes precedence; the authToken cookie is consulted only when no header is
// present. Every failure maps to the same 401 so clients cannot distinguish
// a missing credential from a forged one.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := extractCredential(r)
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		principal, err := a.codec.Decode(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidSignature):
				obs.ObserveTokenVerification("bad_signature")
				// A bad signature means a forged or foreign token, not a
				// client mistake.
				_ = audit.LogEvent(r.Context(), "auth.token.signature_invalid", map[string]any{
					"path": r.URL.Path,
				})
			case errors.Is(err, auth.ErrExpiredToken):
				obs.ObserveTokenVerification("expired")
			default:
				obs.ObserveTokenVerification("malformed")
			}
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		if !principal.IsActive {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		obs.ObserveTokenVerification("ok")

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractCredential finds the access token for the request: the bearer
// header when set, otherwise the auth cookie. Returns empty when neither
// carries a usable value.
func extractCredential(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get(authHeader)); header != "" {
		if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
			return ""
		}
		return strings.TrimSpace(header[len(bearer):])
	}
	if c, err := r.Cookie(authTokenCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
