package repositories

import "fmt"

// ErrorCode enumerates persistence failure categories surfaced to services.
type ErrorCode string

const (
	// ErrorUnknown represents an unspecified failure.
	ErrorUnknown ErrorCode = "unknown"
	// ErrorNotFound indicates the requested row does not exist.
	ErrorNotFound ErrorCode = "not_found"
	// ErrorConflict indicates a uniqueness or concurrent-update violation.
	ErrorConflict ErrorCode = "conflict"
	// ErrorUnavailable indicates the datastore could not be reached.
	ErrorUnavailable ErrorCode = "unavailable"
)

// Error wraps low-level persistence failures with machine readable categorisation.
type Error struct {
	Op   string
	Code ErrorCode
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

// Unwrap exposes the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound reports whether the failure represents a missing row.
func (e *Error) IsNotFound() bool {
	return e != nil && e.Code == ErrorNotFound
}

// IsConflict reports whether the failure represents a constraint violation.
func (e *Error) IsConflict() bool {
	return e != nil && e.Code == ErrorConflict
}

// IsUnavailable reports whether the datastore was unreachable.
func (e *Error) IsUnavailable() bool {
	return e != nil && e.Code == ErrorUnavailable
}

// NewError constructs a categorised repository error.
func NewError(op string, code ErrorCode, err error) *Error {
	if code == "" {
		code = ErrorUnknown
	}
	return &Error{Op: op, Code: code, Err: err}
}

// IsNotFound reports whether err carries the not-found category.
func IsNotFound(err error) bool {
	repoErr, ok := err.(RepositoryError)
	return ok && repoErr.IsNotFound()
}

// IsConflict reports whether err carries the conflict category.
func IsConflict(err error) bool {
	repoErr, ok := err.(RepositoryError)
	return ok && repoErr.IsConflict()
}
