package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common database conditions
var (
	// ErrNotFound indicates the requested resource was not found in the database
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a unique constraint violation or conflicting state
	ErrConflict = errors.New("conflict")

	// ErrSchemaTooNew indicates the store was written by a newer compiled
	// schema version than this binary knows how to read.
	ErrSchemaTooNew = errors.New("store schema newer than compiled schema")

	// ErrPoisonPayload indicates a queued request row's data column could
	// not be deserialized into its declared variant.
	ErrPoisonPayload = errors.New("poison request payload")
)

// wrapDBError wraps a database error with operation context. It
// converts sql.ErrNoRows to ErrNotFound and a unique/primary-key
// constraint violation to ErrConflict, so callers that care can tell
// those two conditions apart with errors.Is without inspecting driver
// internals.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if isConstraintViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// wrapDBErrorf wraps a database error with formatted operation context.
// See wrapDBError for the ErrNotFound/ErrConflict translation.
func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	op := fmt.Sprintf(format, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if isConstraintViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isConstraintViolation reports whether err is SQLite's UNIQUE or
// PRIMARY KEY constraint failure. ncruces/go-sqlite3 surfaces these as
// plain errors carrying SQLite's own message text rather than a typed
// error value, so matching the message is the portable way to detect
// them regardless of which driver wraps the C library.
func isConstraintViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}
