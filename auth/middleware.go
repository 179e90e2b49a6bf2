package auth

import (
	"net/http"

	"github.com/dockside/warehouse/backend/httpx"
)

// Authenticator attaches the caller's identity to the request context when
// the presented credentials are valid. Invalid or missing credentials are
// ignored here; RequireIdentity rejects them.
func Authenticator(v Validator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()) != nil {
				next.ServeHTTP(w, r)
				return
			}

			res := Check(r.Context(), v, CredentialsFromRequest(r, cookieName))
			if !res.Valid {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), res.Identity)))
		})
	}
}

// RequireIdentity rejects requests without an authenticated identity.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			httpx.Unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// VerifyHandler reports whether the bearer token on the request is valid.
func VerifyHandler(v Validator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := Check(r.Context(), v, Credentials{Token: BearerToken(r), Source: SourceBearer})
		if !res.Valid {
			httpx.WriteJSON(w, http.StatusUnauthorized, verifyResponse{Valid: false})
			return
		}
		httpx.WriteJSON(w, http.StatusOK, verifyResponse{Valid: true})
	}
}
