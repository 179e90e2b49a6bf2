package authstate_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/authstate"
	"github.com/dockside/warehouse/backend/identityfeed"
	"github.com/dockside/warehouse/backend/rbac"
)

type fixedDeriver struct{ record *rbac.RoleRecord }

func (d fixedDeriver) Derive(context.Context, *auth.Identity) (*rbac.RoleRecord, error) {
	return d.record, nil
}

type wireSnapshot struct {
	State    string         `json:"state"`
	Identity *auth.Identity `json:"identity"`
}

func TestStreamPushesStateChanges(t *testing.T) {
	policy, err := auth.NewDomainPolicy([]string{"dockside.example"}, nil, false)
	require.NoError(t, err)
	eval := authstate.NewEvaluator(policy, fixedDeriver{record: &rbac.RoleRecord{Role: rbac.RoleViewer, Approved: true}}, nil)

	hub := identityfeed.NewHub()
	identity := &auth.Identity{ID: "sub-1", Email: "Lee@Dockside.example"}
	stream := authstate.NewStreamHandler(eval, hub, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), identity)))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var first wireSnapshot
	require.NoError(t, wsjson.Read(ctx, conn, &first))
	assert.Equal(t, "approved", first.State)
	require.NotNil(t, first.Identity)
	assert.Equal(t, "Lee@Dockside.example", first.Identity.Email)

	require.Eventually(t, func() bool { return hub.Subscribers("lee@dockside.example") == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(ctx, "lee@dockside.example", nil))

	var next wireSnapshot
	require.NoError(t, wsjson.Read(ctx, conn, &next))
	assert.Equal(t, "unauthenticated", next.State)

	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))

	require.Eventually(t, func() bool { return hub.Subscribers("lee@dockside.example") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamRequiresIdentity(t *testing.T) {
	stream := authstate.NewStreamHandler(nil, identityfeed.NewHub(), nil, nil)
	rec := httptest.NewRecorder()
	stream.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/stream", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
