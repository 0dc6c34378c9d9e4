// Package sqlite is the embedded-store backend: schema, forward-only
// migration, the durable request queue, and the entity upserter, all on
// top of the pure-Go ncruces/go-sqlite3 driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the embedded database handle. A Store is safe for
// concurrent use; database/sql pools reads, and writers that need a
// single-connection transaction (the queue and the upserter) acquire a
// dedicated *sql.Conn.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite file at path, applies
// the schema and any pending migrations, and returns a ready Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for read-only queries issued by
// callers outside this package (e.g. stats collection).
func (s *Store) DB() *sql.DB {
	return s.db
}

// beginImmediateWithRetry acquires a RESERVED lock on conn via a raw
// BEGIN IMMEDIATE, retrying with exponential backoff when SQLite
// reports the database as busy. database/sql's BeginTx does not expose
// transaction modes, and the default DEFERRED mode would let a writer
// discover at its first write, rather than at transaction start, that
// another writer got there first — too late to retry cheaply.
func beginImmediateWithRetry(ctx context.Context, conn *sql.Conn) error {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err != nil && isBusy(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, b)
}

// isBusy reports whether err is SQLite's "database is locked"/"busy"
// condition, which is worth retrying, as opposed to a real failure.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withTx runs fn inside a dedicated-connection BEGIN IMMEDIATE
// transaction, committing on success and rolling back on error. fn
// issues its statements against conn directly (raw BEGIN IMMEDIATE
// cannot be handed to database/sql's own *sql.Tx wrapper without it
// attempting to start a second, nested transaction).
func withTx(ctx context.Context, db *sql.DB, fn func(conn *sql.Conn) error) (retErr error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediateWithRetry(ctx, conn); err != nil {
		return fmt.Errorf("begin immediate: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// now returns the wall-clock time. EnsureShared's closed_at "now
// fallback" does not read it; it uses the nowFn its caller passes.
var now = func() time.Time { return time.Now() }
