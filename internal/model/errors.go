package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// ValidationError represents a malformed request
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

// IsValidationError checks if an error is a validation error (including wrapped errors)
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// ConflictError represents a unique constraint or duplicate resource error
type ConflictError struct {
	Field   string
	Message string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Field, e.Message)
}

// NewConflictError constructs ConflictError
func NewConflictError(field, message string) ConflictError {
	return ConflictError{Field: field, Message: message}
}

// IsConflictError checks if error is ConflictError
func IsConflictError(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

// NotFoundError represents a missing row the operation depends on
type NotFoundError struct {
	Field   string
	Message string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("not found %s: %s", e.Field, e.Message)
}

// NewNotFoundError constructs NotFoundError
func NewNotFoundError(field, message string) NotFoundError {
	return NotFoundError{Field: field, Message: message}
}

// IsNotFoundError checks if error is NotFoundError
func IsNotFoundError(err error) bool {
	var ne NotFoundError
	return errors.As(err, &ne)
}

// AuthorizationError is returned when there is no session, or the session user
// may not observe or act on the target conversation.
type AuthorizationError struct {
	// Unauthenticated is true when no session was presented at all.
	Unauthenticated bool
	Reason          string
}

func (e AuthorizationError) Error() string {
	if e.Reason == "" {
		return "not authorized"
	}
	return "not authorized: " + e.Reason
}

// NewUnauthenticatedError reports a missing session.
func NewUnauthenticatedError() AuthorizationError {
	return AuthorizationError{Unauthenticated: true}
}

// NewForbiddenError reports a session that lacks access.
func NewForbiddenError(reason string) AuthorizationError {
	return AuthorizationError{Reason: reason}
}

// IsAuthorizationError checks if error is AuthorizationError
func IsAuthorizationError(err error) bool {
	var ae AuthorizationError
	return errors.As(err, &ae)
}

// TransactionError wraps a store failure during a multi-record write.
// Message is safe to show to callers; Err is not.
type TransactionError struct {
	Op      string
	Message string
	Err     error
}

func (e TransactionError) Error() string {
	return e.Message
}

func (e TransactionError) Unwrap() error { return e.Err }

// NewTransactionError constructs TransactionError
func NewTransactionError(op, message string, err error) TransactionError {
	return TransactionError{Op: op, Message: message, Err: err}
}

// IsTransactionError checks if error is TransactionError
func IsTransactionError(err error) bool {
	var te TransactionError
	return errors.As(err, &te)
}
