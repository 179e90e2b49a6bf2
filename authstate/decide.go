package authstate

import (
	"github.com/dockside/warehouse/backend/gate"
	"github.com/dockside/warehouse/backend/rbac"
)

const (
	// PendingApprovalPath is where signed-in users without an approved role
	// are sent.
	PendingApprovalPath = "/pending-approval"
	// UnauthorizedPath is where approved users lacking a capability are sent.
	UnauthorizedPath = "/unauthorized"
)

// VerdictKind is the outcome of a protected view decision.
type VerdictKind int

const (
	Loading VerdictKind = iota
	Render
	RedirectLogin
	RedirectPending
	RedirectUnauthorized
)

func (k VerdictKind) String() string {
	switch k {
	case Loading:
		return "loading"
	case Render:
		return "render"
	case RedirectLogin:
		return "redirect_login"
	case RedirectPending:
		return "redirect_pending"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	default:
		return "unknown"
	}
}

// Verdict tells a protected view what to do. Location is set for redirects.
type Verdict struct {
	Kind     VerdictKind
	Location string
}

// Decide maps a snapshot onto a verdict for a view that requires the
// capability. An empty capability only requires an approved account.
// returnPath is carried on login redirects.
func Decide(snap Snapshot, capability rbac.Capability, returnPath string) Verdict {
	switch snap.State {
	case Initializing, PendingRole:
		return Verdict{Kind: Loading}
	case Unauthenticated:
		return Verdict{Kind: RedirectLogin, Location: gate.LoginURL(returnPath)}
	case PendingApproval:
		return Verdict{Kind: RedirectPending, Location: PendingApprovalPath}
	case Approved:
		if capability == "" || snap.Can(capability) {
			return Verdict{Kind: Render}
		}
		return Verdict{Kind: RedirectUnauthorized, Location: UnauthorizedPath}
	default:
		return Verdict{Kind: RedirectLogin, Location: gate.LoginURL(returnPath)}
	}
}
