package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/tokend/pkg/jwtx"
)

// Authorizer checks a presented access token.
type Authorizer interface {
	Authorize(ctx context.Context, accessToken string) (jwtx.ClaimSet, error)
}

// AuthnMiddleware requires a valid bearer access token and stores its claims
// in the request context. Every failure gets the same RFC 6750 reply; the
// Authorizer is expected to log the detail.
func AuthnMiddleware(a Authorizer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				WriteBearerError(w)
				return
			}

			claims, err := a.Authorize(r.Context(), raw)
			if err != nil {
				WriteBearerError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WriteBearerError writes the generic 401 for any credential failure.
func WriteBearerError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	WriteError(w, http.StatusUnauthorized, "invalid_token", "unauthorized")
}
