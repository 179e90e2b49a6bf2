package authstate

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/httpx"
	"github.com/dockside/warehouse/backend/rbac"
)

// CookieClearer removes the session cookie from a response.
type CookieClearer interface {
	Clear(w http.ResponseWriter)
}

type contextKey string

const snapshotKey contextKey = "authSnapshot"

// SnapshotFromContext returns the snapshot computed by RequireView.
func SnapshotFromContext(ctx context.Context) (Snapshot, bool) {
	snap, ok := ctx.Value(snapshotKey).(Snapshot)
	return snap, ok
}

// Guard applies the auth-state transition to individual requests.
type Guard struct {
	eval     *Evaluator
	sessions CookieClearer
	logger   *zap.Logger
}

// NewGuard creates a guard. A policy violation clears the session cookie on
// the response being written.
func NewGuard(eval *Evaluator, sessions CookieClearer, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{eval: eval, sessions: sessions, logger: logger}
}

func (g *Guard) evaluate(w http.ResponseWriter, r *http.Request) Snapshot {
	signOut := func(context.Context, *auth.Identity) {
		if g.sessions != nil {
			g.sessions.Clear(w)
		}
	}
	return g.eval.Evaluate(r.Context(), auth.FromContext(r.Context()), signOut)
}

// RequireView wraps a page handler with the protected-view decision.
// Loading states still serve the page; the client keeps polling the session
// endpoint until the role resolves.
func (g *Guard) RequireView(capability rbac.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := g.evaluate(w, r)
			verdict := Decide(snap, capability, r.URL.Path)
			w.Header().Set("X-Auth-State", snap.State.String())

			switch verdict.Kind {
			case Render, Loading:
				ctx := context.WithValue(r.Context(), snapshotKey, snap)
				next.ServeHTTP(w, r.WithContext(ctx))
			default:
				g.logger.Debug("view redirect",
					zap.String("path", r.URL.Path),
					zap.Stringer("verdict", verdict.Kind),
					zap.String("location", verdict.Location),
				)
				http.Redirect(w, r, verdict.Location, http.StatusFound)
			}
		})
	}
}

// Session reports the caller's identity, role record and state.
func (g *Guard) Session(w http.ResponseWriter, r *http.Request) {
	if auth.FromContext(r.Context()) == nil {
		httpx.Unauthorized(w)
		return
	}

	snap := g.evaluate(w, r)
	if snap.State == Unauthenticated {
		httpx.Unauthorized(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, snap)
}
