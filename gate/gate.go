// Package gate enforces route classification and session validation before
// any page handler runs.
package gate

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/routes"
)

// LoginPath is the login entry point unauthenticated callers are sent to.
const LoginPath = "/login"

// Gate is the server-side access gate. It holds no per-request state and is
// safe for concurrent use.
type Gate struct {
	table      routes.Table
	validator  auth.Validator
	cookieName string
	logger     *zap.Logger
}

// New builds a gate over the route table and validator.
func New(table routes.Table, validator auth.Validator, cookieName string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{table: table, validator: validator, cookieName: cookieName, logger: logger}
}

// Middleware passes ignored and public paths through untouched, validates the
// session for everything else and redirects to the login page when the
// session is not valid. Valid identities are attached to the request
// context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if g.table.Ignored(path) {
			next.ServeHTTP(w, r)
			return
		}

		class := g.table.Classify(path)
		if !class.RequiresSession() {
			next.ServeHTTP(w, r)
			return
		}

		res := auth.Check(r.Context(), g.validator, auth.CredentialsFromRequest(r, g.cookieName))
		if !res.Valid {
			g.logger.Debug("gate redirect",
				zap.String("path", path),
				zap.Stringer("class", class),
				zap.String("reason", string(res.Reason)),
			)
			http.Redirect(w, r, LoginURL(path), http.StatusFound)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), res.Identity)))
	})
}

// LoginURL builds the login redirect carrying the original path as the
// return target.
func LoginURL(returnPath string) string {
	return LoginPath + "?returnUrl=" + url.QueryEscape(returnPath)
}
