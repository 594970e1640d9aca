// Package escrow — Redis fan-out sink for escrow/settlement hooks.
//
// A thin fire-and-forget publisher: it republishes the event bus's
// CloudEvents onto a Redis channel so a second process can tail settlements
// without coupling the relay's hot path to network I/O.
package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ocx/agentchat-relay/internal/events"
)

// RedisSink republishes every CloudEvent it receives from an in-process
// subscription onto a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
	log     *slog.Logger
}

// NewRedisSink dials dsn and returns a sink publishing to channel.
func NewRedisSink(dsn, channel string, log *slog.Logger) (*RedisSink, error) {
	opt, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return &RedisSink{
		client:  redis.NewClient(opt),
		channel: channel,
		log:     log,
	}, nil
}

// Attach subscribes to bus and republishes every event it receives until ctx
// is cancelled. Intended to be run in its own goroutine.
func (s *RedisSink) Attach(ctx context.Context, bus *events.EventBus) {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.publish(ctx, ev)
		}
	}
}

func (s *RedisSink) publish(ctx context.Context, ev *events.CloudEvent) {
	body, err := ev.JSON()
	if err != nil {
		s.log.Warn("escrow: failed to encode event for redis sink", "error", err)
		return
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Publish(pctx, s.channel, body).Err(); err != nil {
		s.log.Warn("escrow: redis publish failed", "error", err, "channel", s.channel)
	}
}

// Close releases the underlying Redis client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
