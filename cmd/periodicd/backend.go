package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/periodic/id"
	"github.com/xraph/periodic/notify"
	"github.com/xraph/periodic/store"
	"github.com/xraph/periodic/store/memory"
	"github.com/xraph/periodic/store/postgres"
	redisstore "github.com/xraph/periodic/store/redis"
	"github.com/xraph/periodic/store/sqlite"
)

// backend holds the store and wake transports selected by configuration,
// plus every connection they own.
type backend struct {
	store     store.Store
	notifier  notify.Client
	listeners []notify.Listener

	pgPool  *pgxpool.Pool
	rdb     *goredis.Client
	closers []func() error
}

// openStore connects the configured store.
func openStore(ctx context.Context, c storeConfig, logger *slog.Logger) (*backend, error) {
	b := &backend{}

	switch c.Driver {
	case "memory":
		b.store = memory.New()

	case "postgres":
		pool, err := pgxpool.New(ctx, c.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.pgPool = pool
		b.closers = append(b.closers, func() error { pool.Close(); return nil })
		b.store = postgres.NewFromPool(pool, postgres.WithLogger(logger))

	case "sqlite":
		s, err := sqlite.New(ctx, c.DSN, sqlite.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, s.Close)
		b.store = s

	case "redis":
		rdb, err := newRedisClient(c.DSN)
		if err != nil {
			return nil, err
		}
		b.rdb = rdb
		b.closers = append(b.closers, rdb.Close)
		b.store = redisstore.New(rdb, redisstore.WithLogger(logger))

	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Driver)
	}
	return b, nil
}

// openNotify selects the wake transport. Redis and postgres transports
// reuse the store connection unless c.DSN names another one.
func (b *backend) openNotify(ctx context.Context, c notifyConfig, self id.InstanceID, logger *slog.Logger) error {
	sender := self.String()

	switch c.Transport {
	case "", "none":
		return nil

	case "http":
		timeout, err := durationOrDefault("notify.timeout", c.Timeout, 5*time.Second)
		if err != nil {
			return err
		}
		b.notifier = notify.NewHTTPClient(notify.WithRequestTimeout(timeout))

	case "redis":
		rdb := b.rdb
		if c.DSN != "" {
			var err error
			if rdb, err = newRedisClient(c.DSN); err != nil {
				return err
			}
			b.closers = append(b.closers, rdb.Close)
		}
		if rdb == nil {
			return errors.New("notify: redis transport needs a redis connection")
		}
		b.notifier = notify.NewRedisClient(rdb, c.Channel, sender)
		b.listeners = append(b.listeners, notify.NewRedisListener(rdb, c.Channel, sender, logger))

	case "postgres":
		pool := b.pgPool
		if c.DSN != "" {
			var err error
			if pool, err = pgxpool.New(ctx, c.DSN); err != nil {
				return fmt.Errorf("connect notify postgres: %w", err)
			}
			p := pool
			b.closers = append(b.closers, func() error { p.Close(); return nil })
		}
		if pool == nil {
			return errors.New("notify: postgres transport needs a postgres connection")
		}
		b.notifier = notify.NewPostgresClient(pool, c.Channel, sender)
		b.listeners = append(b.listeners, notify.NewPostgresListener(pool, c.Channel, sender, logger))

	default:
		return fmt.Errorf("unknown notify transport %q", c.Transport)
	}

	every, err := durationOrDefault("notify.throttle", c.Throttle, 0)
	if err != nil {
		return err
	}
	if every > 0 {
		burst := c.Burst
		if burst <= 0 {
			burst = 1
		}
		b.notifier = notify.NewThrottled(b.notifier, every, burst, logger)
	}
	return nil
}

// close releases every connection in reverse order of acquisition.
func (b *backend) close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newRedisClient(dsn string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return goredis.NewClient(opts), nil
}
