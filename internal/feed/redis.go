package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBroadcaster relays envelopes over a Redis pub/sub channel.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisBroadcaster returns a broadcaster on channel.
func NewRedisBroadcaster(client *redis.Client, channel string, logger *slog.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, channel: channel, logger: logger}
}

func (r *RedisBroadcaster) Broadcast(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return r.client.Publish(ctx, r.channel, body).Err()
}

// Listen subscribes to the channel.  go-redis reconnects the underlying
// subscription on its own, so this only returns when ctx is done.
func (r *RedisBroadcaster) Listen(ctx context.Context, handle func(Envelope)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("feed relay subscribed", "transport", "redis", "channel", r.channel)

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("feed relay: bad envelope", "error", err)
				continue
			}
			handle(env)
		}
	}
}
