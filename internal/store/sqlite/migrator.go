package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/ghsync/ghmirror/internal/store/sqlite/migrations"
)

// compiledSchemaVersion is the highest schema version this binary knows
// how to read and write. The migrator refuses to open a store stamped
// with a newer version.
const compiledSchemaVersion = 1

// migration is one forward-only step from version-1 to version.
type migration struct {
	version int
	apply   func(*sql.DB) error
}

var migrationSteps = []migration{
	{version: 1, apply: migrations.MigrateLockReason},
}

// Migrate applies schema.go (idempotent CREATE TABLE IF NOT EXISTS) and
// then any pending numbered migrations, in order, bringing the store up
// to compiledSchemaVersion. It refuses to touch a store whose recorded
// version is newer than compiledSchemaVersion.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}

	current, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > compiledSchemaVersion {
		return fmt.Errorf("store schema version %d newer than compiled version %d: %w", current, compiledSchemaVersion, ErrSchemaTooNew)
	}

	for _, step := range migrationSteps {
		if step.version <= current {
			continue
		}
		if err := step.apply(db); err != nil {
			return fmt.Errorf("migration %d: %w", step.version, err)
		}
		if err := setSchemaVersion(db, step.version); err != nil {
			return fmt.Errorf("record schema version %d: %w", step.version, err)
		}
		current = step.version
	}

	return nil
}

func schemaVersion(db *sql.DB) (int, error) {
	var raw string
	err := db.QueryRow(`SELECT value FROM config WHERE key = 'schema_version'`).Scan(&raw)
	if err != nil {
		return 0, err
	}
	var version int
	if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
		return 0, fmt.Errorf("parse schema_version %q: %w", raw, err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	_, err := db.Exec(`INSERT INTO config (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, fmt.Sprintf("%d", version))
	return err
}
