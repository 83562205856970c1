package pomelo

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the pomelo package.
var (
	// ErrNotFound is returned when the backing file does not exist and
	// initialization was not requested, or when an update query matches
	// no record.
	ErrNotFound = errors.New("not found")

	// ErrCorruptStore is returned when the persisted structure is malformed.
	ErrCorruptStore = errors.New("corrupt store")

	// ErrUnsupportedType is returned when a value has no codec mapping.
	ErrUnsupportedType = errors.New("unsupported value type")

	// ErrStorageUnavailable is returned when the backing file cannot be
	// opened or written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidQuery is returned when a query matches none of the
	// recognized query forms.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrClosed is returned when operations are attempted on a closed
	// backend or client.
	ErrClosed = errors.New("closed")
)

// StorageErrorType categorizes storage errors.
type StorageErrorType int

const (
	// StorageErrorTypeUnknown is an unclassified storage error.
	StorageErrorTypeUnknown StorageErrorType = iota
	// StorageErrorTypeOpen indicates the backing file could not be opened.
	StorageErrorTypeOpen
	// StorageErrorTypeRead indicates a read failure.
	StorageErrorTypeRead
	// StorageErrorTypeWrite indicates a write failure.
	StorageErrorTypeWrite
	// StorageErrorTypeCorruption indicates a malformed persisted structure.
	StorageErrorTypeCorruption
	// StorageErrorTypeMissing indicates the backing file does not exist.
	StorageErrorTypeMissing
)

// StorageError provides detailed information about persistence failures.
type StorageError struct {
	Type    StorageErrorType
	Message string
	Path    string
	Cause   error
}

func (e *StorageError) Error() string {
	if e.Path != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s [%s]: %v", e.Message, e.Path, e.Cause)
		}
		return fmt.Sprintf("%s [%s]", e.Message, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for StorageError.
func (e *StorageError) Is(target error) bool {
	switch e.Type {
	case StorageErrorTypeOpen, StorageErrorTypeRead, StorageErrorTypeWrite:
		return target == ErrStorageUnavailable
	case StorageErrorTypeCorruption:
		return target == ErrCorruptStore
	case StorageErrorTypeMissing:
		return target == ErrNotFound
	}
	return false
}

// newStorageError creates a new StorageError.
func newStorageError(errType StorageErrorType, message, path string, cause error) *StorageError {
	return &StorageError{
		Type:    errType,
		Message: message,
		Path:    path,
		Cause:   cause,
	}
}
