package identityfeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/authstate"
	"github.com/dockside/warehouse/backend/rbac"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu  sync.Mutex
	got []*auth.Identity
}

func (c *collector) add(identity *auth.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, identity)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func (c *collector) snapshot() []*auth.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*auth.Identity(nil), c.got...)
}

func TestHubDeliversInOrderToMatchingKey(t *testing.T) {
	hub := NewHub()
	var mine, other collector
	unsubMine := hub.Source("ana@dockside.example").Subscribe(mine.add)
	unsubOther := hub.Source("bo@dockside.example").Subscribe(other.add)
	defer unsubOther()

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, " ANA@dockside.example", &auth.Identity{ID: "1", Email: "ana@dockside.example"}))
	require.NoError(t, hub.Publish(ctx, "ana@dockside.example", nil))

	require.Eventually(t, func() bool { return mine.len() == 2 }, time.Second, 5*time.Millisecond)
	unsubMine()

	got := mine.snapshot()
	assert.Equal(t, "ana@dockside.example", got[0].Email)
	assert.Nil(t, got[1])
	assert.Zero(t, other.len())
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	var c collector
	unsubscribe := hub.Source("ana@dockside.example").Subscribe(c.add)
	assert.Equal(t, 1, hub.Subscribers("ana@dockside.example"))

	unsubscribe()
	unsubscribe()
	assert.Zero(t, hub.Subscribers("ana@dockside.example"))

	require.NoError(t, hub.Publish(context.Background(), "ana@dockside.example", nil))
	assert.Zero(t, c.len())
}

func TestHubPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	hub := NewHub()
	release := make(chan struct{})
	var c collector
	unsubscribe := hub.Source("ana@dockside.example").Subscribe(func(identity *auth.Identity) {
		<-release
		c.add(identity)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriptionBuffer*4; i++ {
			_ = hub.Publish(context.Background(), "ana@dockside.example", &auth.Identity{Email: "ana@dockside.example"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(release)
	require.Eventually(t, func() bool { return c.len() > 0 }, time.Second, 5*time.Millisecond)
	unsubscribe()
	assert.LessOrEqual(t, c.len(), subscriptionBuffer+1)
}

func TestMachineOnHubSignsOutAndTearsDown(t *testing.T) {
	hub := NewHub()
	policy, err := auth.NewDomainPolicy([]string{"dockside.example"}, nil, false)
	require.NoError(t, err)
	eval := authstate.NewEvaluator(policy, rbacStub{}, nil)

	// Sign-out publishes back onto the hub from inside a transition.
	signOut := func(ctx context.Context, id *auth.Identity) {
		_ = hub.Publish(ctx, "user@unapproved-domain.com", nil)
	}
	m := authstate.NewMachine(context.Background(), eval, hub.Source("user@unapproved-domain.com"), signOut)
	var mu sync.Mutex
	var states []authstate.State
	m.Watch(func(s authstate.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
	})
	m.Start()

	require.NoError(t, hub.Publish(context.Background(), "user@unapproved-domain.com", &auth.Identity{ID: "x", Email: "user@unapproved-domain.com"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 2
	}, time.Second, 5*time.Millisecond)

	m.Close()
	assert.Zero(t, hub.Subscribers("user@unapproved-domain.com"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []authstate.State{authstate.Unauthenticated, authstate.Unauthenticated}, states)
}

type rbacStub struct{}

func (rbacStub) Derive(context.Context, *auth.Identity) (*rbac.RoleRecord, error) {
	return &rbac.RoleRecord{Role: rbac.RoleManager, Approved: true}, nil
}
