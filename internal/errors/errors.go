// Package errors provides error code definitions for the GapDay sync core.
package errors

import "fmt"

// ErrorCode represents a unique error code surfaced across the core's
// component boundaries.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local store errors. Local I/O failures are the only class that
	// escalates past the store boundary.
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrLocalIO    ErrorCode = "LOCAL_IO_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Remote sync errors (all recoverable)
	ErrRemoteUnreachable ErrorCode = "REMOTE_UNREACHABLE"
	ErrOffline           ErrorCode = "OFFLINE"
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
	ErrSyncConflict      ErrorCode = "SYNC_CONFLICT"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
	ErrReconcileFailed   ErrorCode = "RECONCILE_FAILED"

	// Backup errors
	ErrBackupFailed     ErrorCode = "BACKUP_FAILED"
	ErrRestoreFailed    ErrorCode = "RESTORE_FAILED"
	ErrInvalidPassword  ErrorCode = "INVALID_PASSWORD"
	ErrCorruptedArchive ErrorCode = "CORRUPTED_ARCHIVE"
	ErrCryptoFailed     ErrorCode = "CRYPTO_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error is of a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// Recoverable reports whether an error code describes a condition the
// sync layer absorbs (pending/retry) rather than escalates.
func Recoverable(code ErrorCode) bool {
	switch code {
	case ErrRemoteUnreachable, ErrOffline, ErrSyncFailed, ErrSyncConflict,
		ErrRateLimited, ErrReconcileFailed:
		return true
	}
	return false
}
