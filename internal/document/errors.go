package document

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is matched by every *ValidationError.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrExternalService is matched by every *ExternalServiceError.
	ErrExternalService = errors.New("external service error")
	// ErrDatabase is matched by every *DatabaseError.
	ErrDatabase = errors.New("database error")
	// ErrForbidden is matched by every *ForbiddenError.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError represents malformed input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// Is lets errors.Is(err, ErrInvalidInput) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NotFoundError reports an unknown document or user id.
type NotFoundError struct {
	Resource string
	ID       string
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ForbiddenError reports a caller that may not act on a resource.
type ForbiddenError struct {
	Resource string
	ID       string
}

// NewForbiddenError creates a ForbiddenError.
func NewForbiddenError(resource, id string) *ForbiddenError {
	return &ForbiddenError{Resource: resource, ID: id}
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("access to %s %s denied", e.Resource, e.ID)
}

// Is lets errors.Is(err, ErrForbidden) match.
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

// ExternalServiceError wraps a failure or timeout of the vector index,
// the blob store or the generation service.
type ExternalServiceError struct {
	Service string
	Err     error
}

// NewExternalServiceError wraps err as a failure of service.
func NewExternalServiceError(service string, err error) *ExternalServiceError {
	return &ExternalServiceError{Service: service, Err: err}
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrExternalService) match.
func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalService
}

// DatabaseError wraps a metadata store failure with the failing operation.
type DatabaseError struct {
	Op  string
	Err error
}

// NewDatabaseError wraps err as a failure of op.
func NewDatabaseError(op string, err error) *DatabaseError {
	return &DatabaseError{Op: op, Err: err}
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrDatabase) match.
func (e *DatabaseError) Is(target error) bool {
	return target == ErrDatabase
}

// WrapError wraps an error with additional context.
func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Message returns the human-readable text stored in status_message for err.
func Message(err error) string {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Message
	}
	return err.Error()
}
