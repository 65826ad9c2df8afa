// Package sqlite implements the repository contracts on the SQLCipher
// database opened by internal/database.
package sqlite

import (
	"strings"
	"time"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// utc normalizes timestamps so lexical DATETIME comparisons stay ordered.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
