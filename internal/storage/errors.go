// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

// =============================================================================
// ERRORS
// =============================================================================

// Use errors.Is to check for these errors; they are usually wrapped.
var (
	// ErrQuotaExceeded is returned by a Backend whose byte quota would be exceeded.
	ErrQuotaExceeded = &StorageError{Message: "storage quota exceeded"}

	// ErrStorageFull is returned by SaveSession when a write still fails
	// after eviction and one retry.
	ErrStorageFull = &StorageError{Message: "storage full"}

	// ErrInvalidFormat is returned by ImportAll when the payload is not a JSON array.
	ErrInvalidFormat = &StorageError{Message: "invalid session data format"}

	// ErrWatchUnsupported is returned by Watch for backends without change notification.
	ErrWatchUnsupported = &StorageError{Message: "backend does not support watching"}
)

// StorageError represents a storage-related error.
// It implements the error interface and can be compared using errors.Is.
type StorageError struct {
	Message string
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing storage errors.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
