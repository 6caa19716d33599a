package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisClient broadcasts wakes with PUBLISH.
type RedisClient struct {
	rdb     redis.UniversalClient
	channel string
	sender  string
}

// NewRedisClient creates a RedisClient. sender identifies this process so
// its own listener can drop the echo; an empty channel uses DefaultChannel.
func NewRedisClient(rdb redis.UniversalClient, channel, sender string) *RedisClient {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisClient{rdb: rdb, channel: channel, sender: sender}
}

// BroadcastWake publishes one wake message. peers is ignored.
func (c *RedisClient) BroadcastWake(ctx context.Context, _ []string) error {
	payload, err := encodeMessage(c.sender)
	if err != nil {
		return fmt.Errorf("periodic/notify: encode wake: %w", err)
	}
	if err := c.rdb.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("periodic/notify: publish wake: %w", err)
	}
	return nil
}

// RedisListener receives wakes with SUBSCRIBE.
type RedisListener struct {
	rdb     redis.UniversalClient
	channel string
	self    string
	logger  *slog.Logger
}

// NewRedisListener creates a RedisListener. Messages sent by self are
// ignored.
func NewRedisListener(rdb redis.UniversalClient, channel, self string, logger *slog.Logger) *RedisListener {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisListener{rdb: rdb, channel: channel, self: self, logger: logger}
}

// Listen subscribes and calls onWake for each foreign message until ctx is
// done. go-redis reconnects the subscription on its own.
func (l *RedisListener) Listen(ctx context.Context, onWake func()) error {
	sub := l.rdb.Subscribe(ctx, l.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("periodic/notify: subscribe %s: %w", l.channel, err)
	}

	l.logger.Debug("periodic: listening for wakes",
		slog.String("transport", "redis"),
		slog.String("channel", l.channel),
	)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if fromSelf(msg.Payload, l.self) {
				continue
			}
			onWake()
		}
	}
}
