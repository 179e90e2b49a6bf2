package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/dockside/warehouse/backend/auth"
)

// AccountLookup finds the persisted account for an email address.
type AccountLookup interface {
	AccountByEmail(ctx context.Context, email string) (Account, error)
}

// Resolver derives role records from identities.
type Resolver struct {
	lookup      AccountLookup
	superAdmins map[string]struct{}
}

// NewResolver builds a resolver. Emails in superAdmins are approved super
// admins without a lookup.
func NewResolver(lookup AccountLookup, superAdmins []string) *Resolver {
	admins := make(map[string]struct{}, len(superAdmins))
	for _, email := range superAdmins {
		email = strings.ToLower(strings.TrimSpace(email))
		if email != "" {
			admins[email] = struct{}{}
		}
	}
	return &Resolver{lookup: lookup, superAdmins: admins}
}

// Derive returns the role record for the identity. A nil record with a nil
// error means the account is not provisioned yet.
func (r *Resolver) Derive(ctx context.Context, identity *auth.Identity) (*RoleRecord, error) {
	if identity == nil {
		return nil, nil
	}

	email := identity.Key()
	if _, ok := r.superAdmins[email]; ok {
		return &RoleRecord{Role: RoleSuperAdmin, Approved: true}, nil
	}

	if r.lookup == nil {
		return nil, nil
	}

	account, err := r.lookup.AccountByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account.Record(), nil
}

// Record derives the role record stored for the account.
func (a Account) Record() *RoleRecord {
	role, err := ParseRole(string(a.Role))
	if err != nil {
		role = RolePending
	}
	approved := a.Approved && role != RolePending
	return &RoleRecord{
		Role:        role,
		Approved:    approved,
		Permissions: effectivePermissions(role, a.Permissions),
	}
}
