package rbac

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/httpx"
)

// Deriver resolves the role record for an identity.
type Deriver interface {
	Derive(ctx context.Context, identity *auth.Identity) (*RoleRecord, error)
}

// Policy decides whether an identity may hold a session at all.
// auth.DomainPolicy satisfies it.
type Policy interface {
	Check(identity *auth.Identity) error
}

type contextKey string

const recordKey contextKey = "rbacRecord"

// RecordFromContext returns the role record resolved by Authorize.
func RecordFromContext(ctx context.Context) *RoleRecord {
	record, _ := ctx.Value(recordKey).(*RoleRecord)
	return record
}

// Enforcer coordinates capability checks for API handlers.
type Enforcer struct {
	roles  Deriver
	policy Policy
	logger *zap.Logger
}

// EnforcerOption customizes an Enforcer.
type EnforcerOption func(*Enforcer)

// WithPolicy rejects identities that fail the policy before any role is
// derived.
func WithPolicy(p Policy) EnforcerOption {
	return func(e *Enforcer) { e.policy = p }
}

// NewEnforcer constructs an enforcer with the provided role deriver.
func NewEnforcer(roles Deriver, logger *zap.Logger, opts ...EnforcerOption) *Enforcer {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Enforcer{roles: roles, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Authorize ensures the caller holds the capability. Requests without an
// identity, or whose identity fails the policy, are rejected with 401;
// pending and under-privileged callers with 403 and a code telling them
// apart.
func (e *Enforcer) Authorize(capability Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.FromContext(r.Context())
			if identity == nil {
				httpx.Unauthorized(w)
				return
			}
			if e.policy != nil {
				if err := e.policy.Check(identity); err != nil {
					e.logger.Warn("domain policy violation", zap.String("email", identity.Email), zap.Error(err))
					httpx.Unauthorized(w)
					return
				}
			}

			record, err := e.roles.Derive(r.Context(), identity)
			if err != nil {
				e.logger.Warn("role derivation failed", zap.String("email", identity.Email), zap.Error(err))
				record = nil
			}

			if record == nil || !record.Approved {
				httpx.ErrorCode(w, http.StatusForbidden, "account awaiting approval", "APPROVAL_PENDING")
				return
			}

			if !HasPermission(record, capability) {
				httpx.ErrorCode(w, http.StatusForbidden, "insufficient permissions", "PERMISSION_DENIED")
				return
			}

			ctx := context.WithValue(r.Context(), recordKey, record)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
