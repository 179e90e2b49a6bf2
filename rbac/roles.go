package rbac

import (
	"fmt"
	"strings"
)

// Role represents a logical capability grouping for authenticated users.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleManager    Role = "manager"
	RoleOperator   Role = "operator"
	RoleViewer     Role = "viewer"
	RolePending    Role = "pending"
)

// Roles lists every known role, most privileged first.
var Roles = []Role{RoleSuperAdmin, RoleManager, RoleOperator, RoleViewer, RolePending}

// ParseRole normalizes a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Roles {
		if role == known {
			return role, nil
		}
	}
	return "", fmt.Errorf("rbac: unknown role %q", raw)
}

// Capability represents an actionable verb within the dashboard.
type Capability string

const (
	CapabilityViewDashboard    Capability = "dashboard:view"
	CapabilityViewReports      Capability = "reports:view"
	CapabilityViewPackages     Capability = "packages:view"
	CapabilityManagePackages   Capability = "packages:manage"
	CapabilityViewPallets      Capability = "pallets:view"
	CapabilityManagePallets    Capability = "pallets:manage"
	CapabilityPerformReceiving Capability = "receiving:perform"
	CapabilitySubmitFeedback   Capability = "feedback:submit"
	CapabilityViewFeedback     Capability = "feedback:view"
	CapabilityViewIssues       Capability = "issues:view"
	CapabilityManageIssues     Capability = "issues:manage"
	CapabilityManageUsers      Capability = "users:manage"
)

// DefaultPermissions enumerates what each role may do before per-account
// grants are added. Super admins are absent: they pass every check.
var DefaultPermissions = map[Role][]Capability{
	RoleManager: {
		CapabilityViewDashboard,
		CapabilityViewReports,
		CapabilityViewPackages,
		CapabilityManagePackages,
		CapabilityViewPallets,
		CapabilityManagePallets,
		CapabilityPerformReceiving,
		CapabilitySubmitFeedback,
		CapabilityViewFeedback,
		CapabilityViewIssues,
		CapabilityManageIssues,
		CapabilityManageUsers,
	},
	RoleOperator: {
		CapabilityViewDashboard,
		CapabilityViewPackages,
		CapabilityViewPallets,
		CapabilityPerformReceiving,
		CapabilitySubmitFeedback,
		CapabilityViewIssues,
	},
	RoleViewer: {
		CapabilityViewDashboard,
		CapabilityViewReports,
		CapabilityViewPackages,
		CapabilityViewPallets,
		CapabilitySubmitFeedback,
	},
	RolePending: nil,
}

// RoleRecord is the authorization profile derived for an identity.
type RoleRecord struct {
	Role        Role         `json:"role"`
	Approved    bool         `json:"approved"`
	Permissions []Capability `json:"permissions"`
}

// HasPermission reports whether the record grants the capability. Absent and
// unapproved records grant nothing; approved super admins are granted
// everything.
func HasPermission(record *RoleRecord, capability Capability) bool {
	if record == nil || !record.Approved {
		return false
	}
	if record.Role == RoleSuperAdmin {
		return true
	}
	for _, granted := range record.Permissions {
		if granted == capability {
			return true
		}
	}
	return false
}

// IsPending reports whether the record exists but is awaiting approval.
func IsPending(record *RoleRecord) bool {
	return record != nil && !record.Approved
}

// effectivePermissions unions the role defaults with explicit grants,
// preserving order and dropping duplicates.
func effectivePermissions(role Role, grants []string) []Capability {
	seen := make(map[Capability]struct{})
	out := make([]Capability, 0, len(DefaultPermissions[role])+len(grants))
	add := func(c Capability) {
		if c == "" {
			return
		}
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, c := range DefaultPermissions[role] {
		add(c)
	}
	for _, g := range grants {
		add(Capability(strings.TrimSpace(g)))
	}
	return out
}
