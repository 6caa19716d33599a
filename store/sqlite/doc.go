// Package sqlite implements store.Store on SQLite through the pure-Go
// modernc.org/sqlite driver. It suits embedded and single-host
// deployments, CLI tools and tests.
//
// The database runs in WAL mode with a single open connection, so every
// statement is serialized. A task claim is one UPDATE ... RETURNING whose
// target is chosen by a subquery, which makes it atomic without explicit
// transactions. Timestamps are stored as Unix milliseconds.
//
//	st, err := sqlite.New(ctx, "/var/lib/periodic/periodic.db")
//	if err != nil { ... }
//	if err := st.Migrate(ctx); err != nil { ... }
package sqlite
