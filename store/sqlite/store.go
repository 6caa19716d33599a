package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register the "sqlite" driver

	"github.com/xraph/periodic"
	"github.com/xraph/periodic/cluster"
	"github.com/xraph/periodic/job"
	"github.com/xraph/periodic/task"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ task.Store    = (*Store)(nil)
	_ job.Store     = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db          *sql.DB
	logger      *slog.Logger
	busyTimeout time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBusyTimeout sets how long a statement waits on a locked database
// held by another process.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) { s.busyTimeout = d }
}

// New opens the database file at path, creating it if needed.
func New(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", periodic.ErrInvalidConfig)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("periodic/sqlite: open: %w", err)
	}
	// One connection serializes every statement, which is what makes each
	// conditional update atomic across goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:          db,
		logger:      slog.Default(),
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("periodic/sqlite: %s: %w", p, err)
		}
	}
	return s, nil
}

// Migrate runs all embedded SQL migration files in order.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS periodic_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: create migrations table: %w", periodic.ErrMigrationFailed, err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: read migrations: %w", periodic.ErrMigrationFailed, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var applied bool
		err = s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM periodic_migrations WHERE filename = ?)`,
			entry.Name(),
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("%w: check %s: %w", periodic.ErrMigrationFailed, entry.Name(), err)
		}
		if applied {
			continue
		}

		data, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return fmt.Errorf("%w: read %s: %w", periodic.ErrMigrationFailed, entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("%w: execute %s: %w", periodic.ErrMigrationFailed, entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO periodic_migrations (filename, applied_at) VALUES (?, ?)`,
			entry.Name(), millis(time.Now()),
		); err != nil {
			return fmt.Errorf("%w: record %s: %w", periodic.ErrMigrationFailed, entry.Name(), err)
		}

		s.logger.Info("periodic/sqlite: applied migration", slog.String("file", entry.Name()))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", periodic.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}
