package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/periodic/backoff"
)

// PostgresClient broadcasts wakes with pg_notify.
type PostgresClient struct {
	pool    *pgxpool.Pool
	channel string
	sender  string
}

// NewPostgresClient creates a PostgresClient. An empty channel uses
// DefaultChannel.
func NewPostgresClient(pool *pgxpool.Pool, channel, sender string) *PostgresClient {
	if channel == "" {
		channel = DefaultChannel
	}
	return &PostgresClient{pool: pool, channel: channel, sender: sender}
}

// BroadcastWake sends one notification. peers is ignored.
func (c *PostgresClient) BroadcastWake(ctx context.Context, _ []string) error {
	payload, err := encodeMessage(c.sender)
	if err != nil {
		return fmt.Errorf("periodic/notify: encode wake: %w", err)
	}
	if _, err := c.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, c.channel, payload); err != nil {
		return fmt.Errorf("periodic/notify: pg_notify: %w", err)
	}
	return nil
}

// PostgresListener receives wakes with LISTEN on a dedicated pooled
// connection. A dropped connection is re-established with backoff.
type PostgresListener struct {
	pool    *pgxpool.Pool
	channel string
	self    string
	logger  *slog.Logger
	backoff backoff.Strategy
}

// NewPostgresListener creates a PostgresListener. Notifications sent by
// self are ignored.
func NewPostgresListener(pool *pgxpool.Pool, channel, self string, logger *slog.Logger) *PostgresListener {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresListener{
		pool:    pool,
		channel: channel,
		self:    self,
		logger:  logger,
		backoff: backoff.NewExponential(500*time.Millisecond, 30*time.Second),
	}
}

// Listen blocks until ctx is done, reconnecting after connection errors.
// A reconnect also fires onWake, since notifications sent while
// disconnected are lost.
func (l *PostgresListener) Listen(ctx context.Context, onWake func()) error {
	attempt := 0
	for {
		err := l.listenOnce(ctx, onWake, func() { attempt = 0 })
		if ctx.Err() != nil {
			return nil
		}
		attempt++
		delay := l.backoff.Delay(attempt)
		l.logger.Warn("periodic: wake listener disconnected",
			slog.String("transport", "postgres"),
			slog.String("channel", l.channel),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		onWake()
	}
}

func (l *PostgresListener) listenOnce(ctx context.Context, onWake, connected func()) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	// The connection carries LISTEN state, so it is never returned.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	connected()

	l.logger.Debug("periodic: listening for wakes",
		slog.String("transport", "postgres"),
		slog.String("channel", l.channel),
	)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		if n.Channel != l.channel || fromSelf(n.Payload, l.self) {
			continue
		}
		onWake()
	}
}
