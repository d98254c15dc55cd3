package store

import "strings"

// IsBusyError checks if the error is a SQLITE_BUSY error.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsLockedError checks if the error is a "database is locked" error.
func IsLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsConflictError reports SQLite concurrency errors that warrant a retry.
func IsConflictError(err error) bool {
	return IsBusyError(err) || IsLockedError(err)
}
