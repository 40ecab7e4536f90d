package store

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrSchemaConflict is returned when a table with the expected name
	// already exists with an incompatible column set
	ErrSchemaConflict = errors.New("incompatible schema already exists")

	// ErrEmptyContent is returned when a chunk is inserted without content
	ErrEmptyContent = errors.New("chunk content cannot be empty")

	// ErrDimensionMismatch is returned when a vector's length disagrees
	// with the store's configured dimensionality
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrNotFound is returned when a referenced chunk id does not exist
	ErrNotFound = errors.New("chunk not found")

	// ErrIndexNotBuilt is returned when searching before any index build
	ErrIndexNotBuilt = errors.New("similarity index not built")

	// ErrStoreBusy is returned when a write is attempted during maintenance
	ErrStoreBusy = errors.New("store is in maintenance mode")

	// ErrMigrationAborted is returned when existing embeddings violate the
	// target dimensionality of a migration
	ErrMigrationAborted = errors.New("migration aborted: embeddings disagree with target dimensionality")

	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("store is closed")
)

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("chunkstore: %v", e.Err)
	}
	return fmt.Sprintf("chunkstore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
