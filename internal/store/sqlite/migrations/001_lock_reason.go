// Package migrations holds forward-only, numbered schema upgrades applied
// to databases created by an older compiled schema version. Each
// migration must be idempotent: safe to run against a database that
// already has the column or index it introduces.
package migrations

import (
	"database/sql"
	"errors"
	"fmt"
)

// MigrateLockReason introduces the shared.lock_reason column, replacing
// the v0 boolean `locked` column. Per the v1 default-value policy: a
// previously locked row (locked=1) gets lock_reason='' (locked, no
// stated reason recorded under the old schema); an unlocked row
// (locked=0) gets lock_reason=NULL.
func MigrateLockReason(db *sql.DB) (retErr error) {
	hasLockReason, err := columnExists(db, "shared", "lock_reason")
	if err != nil {
		return fmt.Errorf("failed to check schema: %w", err)
	}
	if hasLockReason {
		return nil
	}

	hasLocked, err := columnExists(db, "shared", "locked")
	if err != nil {
		return fmt.Errorf("failed to check schema: %w", err)
	}

	if _, err := db.Exec(`ALTER TABLE shared ADD COLUMN lock_reason TEXT`); err != nil {
		return fmt.Errorf("failed to add lock_reason column: %w", err)
	}

	if hasLocked {
		if _, err := db.Exec(`UPDATE shared SET lock_reason = '' WHERE locked = 1`); err != nil {
			return fmt.Errorf("failed to backfill lock_reason from locked: %w", err)
		}
	}

	return nil
}

// columnExists reports whether table has a column named column, via
// PRAGMA table_info. Rows must be fully drained and closed before any
// further statement executes against db, since the driver serializes
// access to a single connection.
func columnExists(db *sql.DB, table, column string) (exists bool, retErr error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			retErr = errors.Join(retErr, closeErr)
		}
	}()

	for rows.Next() {
		var cid int
		var name, typ string
		var notnull, pk int
		var dflt *string
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			exists = true
		}
	}
	return exists, rows.Err()
}
