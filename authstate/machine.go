// Package authstate tracks identity, role and approval for a signed-in
// session and turns them into view decisions.
package authstate

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/rbac"
)

// State is the auth-state of a session.
type State int

const (
	Initializing State = iota
	Unauthenticated
	PendingRole
	PendingApproval
	Approved
)

var stateNames = map[State]string{
	Initializing:    "initializing",
	Unauthenticated: "unauthenticated",
	PendingRole:     "pending_role",
	PendingApproval: "pending_approval",
	Approved:        "approved",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is the observable state at one point in time.
type Snapshot struct {
	State    State            `json:"state"`
	Identity *auth.Identity   `json:"identity,omitempty"`
	Role     *rbac.RoleRecord `json:"role,omitempty"`
}

// Can reports whether the snapshot grants the capability.
func (s Snapshot) Can(capability rbac.Capability) bool {
	return s.State == Approved && rbac.HasPermission(s.Role, capability)
}

// Source delivers identity change notifications one at a time. A nil
// identity means signed out. The returned function cancels the subscription;
// once it returns no further callbacks run.
type Source interface {
	Subscribe(onChange func(*auth.Identity)) (unsubscribe func())
}

// Policy decides whether an identity may hold a session at all.
type Policy interface {
	Check(identity *auth.Identity) error
}

// SignOutFunc invalidates the session of an identity that failed policy.
type SignOutFunc func(ctx context.Context, identity *auth.Identity)

// Evaluator is the transition function shared by the streaming machine and
// the per-request view guard.
type Evaluator struct {
	policy Policy
	roles  rbac.Deriver
	logger *zap.Logger
}

// NewEvaluator builds an evaluator.
func NewEvaluator(policy Policy, roles rbac.Deriver, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{policy: policy, roles: roles, logger: logger}
}

// Evaluate computes the state for an identity notification. Identities that
// fail the domain policy are signed out and never reach an authenticated
// state.
func (e *Evaluator) Evaluate(ctx context.Context, identity *auth.Identity, signOut SignOutFunc) Snapshot {
	if identity == nil {
		return Snapshot{State: Unauthenticated}
	}

	if err := e.policy.Check(identity); err != nil {
		e.logger.Warn("domain policy violation, forcing sign-out", zap.String("email", identity.Email))
		if signOut != nil {
			signOut(ctx, identity)
		}
		return Snapshot{State: Unauthenticated}
	}

	record, err := e.roles.Derive(ctx, identity)
	switch {
	case err != nil:
		e.logger.Warn("role derivation failed, treating as pending", zap.String("email", identity.Email), zap.Error(err))
		return Snapshot{State: PendingApproval, Identity: identity, Role: &rbac.RoleRecord{Role: rbac.RolePending}}
	case record == nil:
		return Snapshot{State: PendingRole, Identity: identity}
	case !record.Approved:
		return Snapshot{State: PendingApproval, Identity: identity, Role: record}
	default:
		return Snapshot{State: Approved, Identity: identity, Role: record}
	}
}

// Machine owns one subscription to an identity source and keeps the current
// snapshot. Transitions are serialized; watchers run in transition order
// and must not call back into the machine.
type Machine struct {
	eval    *Evaluator
	source  Source
	signOut SignOutFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	snap        Snapshot
	watchers    []func(Snapshot)
	unsubscribe func()
	started     bool
	closed      bool
}

// NewMachine creates a machine in the Initializing state.
func NewMachine(ctx context.Context, eval *Evaluator, source Source, signOut SignOutFunc) *Machine {
	ctx, cancel := context.WithCancel(ctx)
	return &Machine{
		eval:    eval,
		source:  source,
		signOut: signOut,
		ctx:     ctx,
		cancel:  cancel,
		snap:    Snapshot{State: Initializing},
	}
}

// Watch registers fn to receive every new snapshot.
func (m *Machine) Watch(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// Start subscribes to the source. Calling it more than once, or after Close,
// does nothing.
func (m *Machine) Start() {
	m.mu.Lock()
	if m.started || m.closed {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	unsubscribe := m.source.Subscribe(m.handle)

	m.mu.Lock()
	closed := m.closed
	if !closed {
		m.unsubscribe = unsubscribe
	}
	m.mu.Unlock()

	// Closed while subscribing.
	if closed {
		unsubscribe()
	}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Can reports whether the current state grants the capability.
func (m *Machine) Can(capability rbac.Capability) bool {
	return m.Snapshot().Can(capability)
}

// Close tears the subscription down. No watcher runs after Close returns.
func (m *Machine) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	m.cancel()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (m *Machine) handle(identity *auth.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.snap = m.eval.Evaluate(m.ctx, identity, m.signOut)
	for _, fn := range m.watchers {
		fn(m.snap)
	}
}
