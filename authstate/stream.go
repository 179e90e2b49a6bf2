package authstate

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/httpx"
)

const streamWriteTimeout = 5 * time.Second

// Feed fans identity changes out to live sessions.
type Feed interface {
	Publish(ctx context.Context, key string, identity *auth.Identity) error
	Source(key string) Source
}

// StreamHandler pushes auth-state snapshots to the browser over a websocket.
// Each connection owns one Machine, closed when the connection ends.
type StreamHandler struct {
	eval           *Evaluator
	feed           Feed
	originPatterns []string
	logger         *zap.Logger
}

// NewStreamHandler creates a stream handler. originPatterns is passed to the
// websocket handshake for cross-origin dashboards.
func NewStreamHandler(eval *Evaluator, feed Feed, originPatterns []string, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{eval: eval, feed: feed, originPatterns: originPatterns, logger: logger}
}

func (s *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := auth.FromContext(r.Context())
	if identity == nil {
		httpx.Unauthorized(w)
		return
	}
	if s.feed == nil {
		httpx.Error(w, http.StatusServiceUnavailable, "stream unavailable")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	// Client messages are not expected; CloseRead cancels ctx on disconnect.
	ctx := conn.CloseRead(r.Context())

	key := identity.Key()
	updates := make(chan Snapshot, 8)
	signOut := func(ctx context.Context, id *auth.Identity) {
		if err := s.feed.Publish(ctx, key, nil); err != nil {
			s.logger.Warn("sign-out publish failed", zap.String("email", id.Email), zap.Error(err))
		}
	}

	machine := NewMachine(ctx, s.eval, withInitial(identity, s.feed.Source(key)), signOut)
	machine.Watch(func(snap Snapshot) { pushLatest(updates, snap) })
	machine.Start()
	defer machine.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(writeCtx, conn, snap)
			cancel()
			if err != nil {
				s.logger.Debug("auth stream write failed", zap.Error(err))
				return
			}
			if snap.State == Unauthenticated {
				_ = conn.Close(websocket.StatusNormalClosure, "signed out")
				return
			}
		}
	}
}

// pushLatest queues snap, discarding the oldest queued snapshot when the
// consumer lags. Only the newest state matters to the client.
func pushLatest(ch chan Snapshot, snap Snapshot) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// initialSource replays the identity known at connect time before relaying
// changes from the underlying source.
type initialSource struct {
	identity *auth.Identity
	next     Source
}

func withInitial(identity *auth.Identity, next Source) Source {
	return initialSource{identity: identity, next: next}
}

func (s initialSource) Subscribe(onChange func(*auth.Identity)) func() {
	onChange(s.identity)
	return s.next.Subscribe(onChange)
}
