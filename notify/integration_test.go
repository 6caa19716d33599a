//go:build integration

package notify_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/periodic/notify"
)

func waitForWakes(t *testing.T, n *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for n.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d wakes, got %d", want, n.Load())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRedisTransport(t *testing.T) {
	ctx := context.Background()

	container, err := redismodule.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	rdb := goredis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	var wakes atomic.Int32
	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- notify.NewRedisListener(rdb, "", "inst_b", nil).Listen(listenCtx, func() { wakes.Add(1) })
	}()
	time.Sleep(200 * time.Millisecond)

	self := notify.NewRedisClient(rdb, "", "inst_b")
	peer := notify.NewRedisClient(rdb, "", "inst_a")
	if err := self.BroadcastWake(ctx, nil); err != nil {
		t.Fatalf("publish self: %v", err)
	}
	if err := peer.BroadcastWake(ctx, nil); err != nil {
		t.Fatalf("publish peer: %v", err)
	}
	waitForWakes(t, &wakes, 1)

	time.Sleep(200 * time.Millisecond)
	if got := wakes.Load(); got != 1 {
		t.Fatalf("own broadcast should be ignored, got %d wakes", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Listen returned %v", err)
	}
}

func TestPostgresTransport(t *testing.T) {
	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("periodic_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	var wakes atomic.Int32
	listenCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- notify.NewPostgresListener(pool, "", "inst_b", nil).Listen(listenCtx, func() { wakes.Add(1) })
	}()
	time.Sleep(300 * time.Millisecond)

	if err := notify.NewPostgresClient(pool, "", "inst_b").BroadcastWake(ctx, nil); err != nil {
		t.Fatalf("notify self: %v", err)
	}
	if err := notify.NewPostgresClient(pool, "", "inst_a").BroadcastWake(ctx, nil); err != nil {
		t.Fatalf("notify peer: %v", err)
	}
	waitForWakes(t, &wakes, 1)

	time.Sleep(200 * time.Millisecond)
	if got := wakes.Load(); got != 1 {
		t.Fatalf("own notification should be ignored, got %d wakes", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Listen returned %v", err)
	}
}
