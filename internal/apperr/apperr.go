// Package apperr defines the error taxonomy shared by the ledger, the payment
// orchestrator and the reconciliation engine. Callers match with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError reports malformed input. Terminal, no side effects.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid payload: " + e.Msg
	}
	return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Msg)
}

// AuthorizationError reports a scope or role violation.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return "forbidden: " + e.Msg }

// RateLimitError reports an exhausted request budget.
type RateLimitError struct {
	// RetryAfter is a hint for when the next call may succeed; zero if unknown.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
	}
	return "rate limit exceeded"
}

// ConflictError reports a request that contradicts stored state: an
// idempotency key reused for a different request, or a stale version.
type ConflictError struct {
	Msg string
	// Stale marks an optimistic version mismatch; retry after reloading.
	Stale bool
}

func (e *ConflictError) Error() string { return "conflict: " + e.Msg }

// NotFoundError reports a missing entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Entity, e.ID) }

// DependencyError reports a persistence or downstream failure mid-pipeline.
type DependencyError struct {
	Op  string
	Err error
}

func (e *DependencyError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *DependencyError) Unwrap() error { return e.Err }

// ErrMissingIdempotencyKey is returned before any processing when the caller
// did not supply an idempotency key.
var ErrMissingIdempotencyKey = errors.New("missing idempotency key")

// Validation builds a ValidationError.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Forbidden builds an AuthorizationError.
func Forbidden(format string, args ...any) error {
	return &AuthorizationError{Msg: fmt.Sprintf(format, args...)}
}

// Conflict builds a ConflictError.
func Conflict(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// StaleVersion builds a ConflictError for an entity whose stored version is
// not the one the caller edited.
func StaleVersion(entity, id string, stored, expected int64) error {
	return &ConflictError{
		Msg:   fmt.Sprintf("%s %s is at version %d, expected %d", entity, id, stored, expected),
		Stale: true,
	}
}

// NotFound builds a NotFoundError.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// Dependency wraps err as a DependencyError unless it already carries a
// taxonomy type, in which case it is returned unchanged.
func Dependency(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClassified(err) {
		return err
	}
	return &DependencyError{Op: op, Err: err}
}

// IsClassified reports whether err already belongs to the taxonomy.
func IsClassified(err error) bool {
	var (
		v *ValidationError
		a *AuthorizationError
		r *RateLimitError
		c *ConflictError
		n *NotFoundError
		d *DependencyError
	)
	return errors.As(err, &v) || errors.As(err, &a) || errors.As(err, &r) ||
		errors.As(err, &c) || errors.As(err, &n) || errors.As(err, &d) ||
		errors.Is(err, ErrMissingIdempotencyKey)
}
