package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/store"
	"github.com/xraph/periodic/store/sqlite"
	"github.com/xraph/periodic/store/storetest"
)

var _ store.Store = (*sqlite.Store)(nil)

func newStore(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()

	s, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "periodic.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, newStore)
}

func TestMigrateIdempotent(t *testing.T) {
	s := newStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := sqlite.New(context.Background(), " "); !errors.Is(err, periodic.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestPing(t *testing.T) {
	if err := newStore(t).Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
