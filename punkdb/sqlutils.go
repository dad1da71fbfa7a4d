package punkdb

import (
	"database/sql"

	"golang.org/x/exp/constraints"
)

// sqlStr turns a string into the NullString that sql uses when a text
// field can be permitted to be NULL. An empty string maps to NULL.
func sqlStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}

	return sql.NullString{
		String: s,
		Valid:  true,
	}
}

// extractSqlStr turns a NullString back into a plain string, mapping NULL
// to the empty string.
func extractSqlStr(s sql.NullString) string {
	if !s.Valid {
		return ""
	}

	return s.String
}

// sqlInt64 turns a numerical integer type into the NullInt64 that sql uses
// when an integer field can be permitted to be NULL.
//
// We use this constraints.Integer constraint here which maps to all signed
// and unsigned integer types.
func sqlInt64[T constraints.Integer](num T) sql.NullInt64 {
	return sql.NullInt64{
		Int64: int64(num),
		Valid: true,
	}
}

// extractSqlInt64 turns a NullInt64 into a numerical type. This can be
// useful when reading directly from the database, as this function handles
// extracting the inner value from the "option"-like struct.
func extractSqlInt64[T constraints.Integer](num sql.NullInt64) T {
	return T(num.Int64)
}
