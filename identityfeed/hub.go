// Package identityfeed fans identity changes out to live auth-state machines.
package identityfeed

import (
	"context"
	"strings"
	"sync"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/authstate"
)

const subscriptionBuffer = 16

// Hub is an in-process feed for single-instance deployments.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscription]struct{})}
}

// Publish delivers identity to every subscriber of key. Delivery is
// asynchronous, so publishing from inside a callback is safe.
func (h *Hub) Publish(_ context.Context, key string, identity *auth.Identity) error {
	key = normalizeKey(key)
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[key] {
		sub.offer(cloneIdentity(identity))
	}
	return nil
}

// Source returns the notification source for key.
func (h *Hub) Source(key string) authstate.Source {
	return hubSource{hub: h, key: normalizeKey(key)}
}

// Subscribers reports how many live subscriptions key has.
func (h *Hub) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[normalizeKey(key)])
}

func (h *Hub) add(key string, sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[key] = set
	}
	set[sub] = struct{}{}
}

func (h *Hub) remove(key string, sub *subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[key], sub)
	if len(h.subs[key]) == 0 {
		delete(h.subs, key)
	}
}

type hubSource struct {
	hub *Hub
	key string
}

func (s hubSource) Subscribe(onChange func(*auth.Identity)) func() {
	sub := newSubscription()
	s.hub.add(s.key, sub)
	go sub.run(onChange)

	return func() {
		sub.once.Do(func() {
			s.hub.remove(s.key, sub)
			close(sub.stop)
		})
		<-sub.done
	}
}

// subscription delivers updates one at a time on its own goroutine.
type subscription struct {
	updates chan *auth.Identity
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscription() *subscription {
	return &subscription{
		updates: make(chan *auth.Identity, subscriptionBuffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// offer never blocks. When the subscriber lags the oldest update is dropped.
func (s *subscription) offer(identity *auth.Identity) {
	for {
		select {
		case s.updates <- identity:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

func (s *subscription) run(onChange func(*auth.Identity)) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case identity := <-s.updates:
			select {
			case <-s.stop:
				return
			default:
			}
			onChange(identity)
		}
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func cloneIdentity(identity *auth.Identity) *auth.Identity {
	if identity == nil {
		return nil
	}
	c := *identity
	return &c
}
