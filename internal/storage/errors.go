package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionFailed indicates the database connection could not be
	// established or was lost.
	ErrConnectionFailed = errors.New("storage: connection failed")

	// ErrQueryFailed indicates a query or insert failed to execute.
	ErrQueryFailed = errors.New("storage: query failed")

	// ErrMigrationFailed indicates a schema migration did not apply.
	ErrMigrationFailed = errors.New("storage: migration failed")

	// ErrInvalidAlert indicates an alert failed validation before insert.
	ErrInvalidAlert = errors.New("storage: invalid alert")
)

// StorageError wraps an underlying error with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// WrapConnectionError wraps err as a connection failure for the given
// operation.
func WrapConnectionError(op string, err error) error {
	return &StorageError{Op: op, Err: fmt.Errorf("%w: %v", ErrConnectionFailed, err)}
}

// WrapQueryError wraps err as a query failure for the given operation.
func WrapQueryError(op string, err error) error {
	return &StorageError{Op: op, Err: fmt.Errorf("%w: %v", ErrQueryFailed, err)}
}

// WrapMigrationError wraps err as a migration failure for the given
// operation.
func WrapMigrationError(op string, err error) error {
	return &StorageError{Op: op, Err: fmt.Errorf("%w: %v", ErrMigrationFailed, err)}
}
