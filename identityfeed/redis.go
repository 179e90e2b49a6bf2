package identityfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dockside/warehouse/backend/auth"
	"github.com/dockside/warehouse/backend/authstate"
)

const subscribeTimeout = 5 * time.Second

// Redis shares identity changes between instances over pub/sub.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis creates a Redis-backed feed.
func NewRedis(client *redis.Client, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{client: client, prefix: "identity:", logger: logger}
}

type message struct {
	Identity *auth.Identity `json:"identity"`
}

func (r *Redis) channel(key string) string {
	return r.prefix + normalizeKey(key)
}

// Publish announces identity on the key's channel. A nil identity means the
// session signed out.
func (r *Redis) Publish(ctx context.Context, key string, identity *auth.Identity) error {
	payload, err := encodeMessage(identity)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel(key), payload).Err(); err != nil {
		return fmt.Errorf("identityfeed: publish: %w", err)
	}
	return nil
}

// Source returns the notification source for key.
func (r *Redis) Source(key string) authstate.Source {
	return redisSource{feed: r, channel: r.channel(key)}
}

type redisSource struct {
	feed    *Redis
	channel string
}

func (s redisSource) Subscribe(onChange func(*auth.Identity)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := s.feed.client.Subscribe(ctx, s.channel)

	// Wait for the server to confirm so nothing published after Subscribe
	// returns is missed. On failure the client keeps retrying in the
	// background.
	confirmCtx, stop := context.WithTimeout(ctx, subscribeTimeout)
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		s.feed.logger.Warn("identity subscription not confirmed", zap.String("channel", s.channel), zap.Error(err))
	}
	stop()

	done := make(chan struct{})

	go func() {
		defer close(done)
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				identity, err := decodeMessage(msg.Payload)
				if err != nil {
					s.feed.logger.Warn("discarding identity message", zap.String("channel", s.channel), zap.Error(err))
					continue
				}
				if ctx.Err() != nil {
					return
				}
				onChange(identity)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := pubsub.Close(); err != nil {
				s.feed.logger.Debug("pubsub close", zap.String("channel", s.channel), zap.Error(err))
			}
		})
		<-done
	}
}

func encodeMessage(identity *auth.Identity) (string, error) {
	data, err := json.Marshal(message{Identity: identity})
	if err != nil {
		return "", fmt.Errorf("identityfeed: encode: %w", err)
	}
	return string(data), nil
}

func decodeMessage(payload string) (*auth.Identity, error) {
	var msg message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("identityfeed: decode: %w", err)
	}
	return msg.Identity, nil
}
