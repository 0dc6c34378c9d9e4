package sqlite

import "database/sql"

// nullableInt64 converts a *int64 observed attribute into a sql.NullInt64
// for a parameterized query argument.
func nullableInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

// nullableString converts a *string observed attribute into a
// sql.NullString for a parameterized query argument. This is how
// lock_reason's three-state policy (nil / empty / upstream string) is
// threaded through to the database: the Valid flag distinguishes
// "not locked" (NULL) from "locked, no reason" ("").
func nullableString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// nullableBool converts a *bool observed attribute (e.g. PullRequest
// Mergeable/Rebaseable, which the upstream sometimes reports as null
// while it computes the value) into a query argument.
func nullableBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

// stringPtr reads a nullable text column back into a *string.
func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
