package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	redis "github.com/redis/go-redis/v9"
)

// Redis fans change signals out to every instance through Redis pub/sub.
// Listeners are kept locally; Run forwards channel messages to them.
type Redis struct {
	client *redis.Client
	prefix string
	local  *Local
	logger *slog.Logger
}

// NewRedis creates a Redis-backed transport publishing on prefix+path channels
func NewRedis(client *redis.Client, prefix string, logger *slog.Logger) *Redis {
	if prefix == "" {
		prefix = "neo-chat:doc:"
	}
	return &Redis{
		client: client,
		prefix: prefix,
		local:  NewLocal(),
		logger: logger,
	}
}

var _ Transport = (*Redis)(nil)

// SubscribeDocument registers onChange for path on this instance
func (r *Redis) SubscribeDocument(ctx context.Context, path string, onChange func()) (func(), error) {
	return r.local.SubscribeDocument(ctx, path, onChange)
}

// NotifyDocument publishes a change signal for path to all instances
func (r *Redis) NotifyDocument(ctx context.Context, path string) error {
	if err := r.client.Publish(ctx, r.prefix+path, "changed").Err(); err != nil {
		return fmt.Errorf("publishing change for %s: %w", path, err)
	}
	return nil
}

// Run consumes change signals until ctx is cancelled
func (r *Redis) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to change channels: %w", err)
	}
	r.logger.Info("realtime redis transport started", "pattern", r.prefix+"*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.local.dispatch(strings.TrimPrefix(msg.Channel, r.prefix))
		}
	}
}
