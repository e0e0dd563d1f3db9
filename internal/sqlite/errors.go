package sqlite

import "strings"

// isUniqueViolation reports whether an insert failed on a primary key or
// unique constraint. The driver does not export a stable error type for
// this, so we match the sqlite message.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
