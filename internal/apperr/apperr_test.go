package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDependencyKeepsClassifiedErrors(t *testing.T) {
	conflict := Conflict("stale version")
	if got := Dependency("update payment", conflict); got != conflict {
		t.Errorf("Dependency re-wrapped a classified error: %v", got)
	}

	wrapped := fmt.Errorf("outer: %w", NotFound("payment", "p1"))
	if got := Dependency("load", wrapped); got != wrapped {
		t.Errorf("Dependency re-wrapped a wrapped NotFoundError: %v", got)
	}

	raw := errors.New("disk I/O error")
	got := Dependency("insert payment", raw)
	var dep *DependencyError
	if !errors.As(got, &dep) {
		t.Fatalf("expected DependencyError, got %T", got)
	}
	if !errors.Is(got, raw) {
		t.Error("DependencyError must unwrap to its cause")
	}

	if Dependency("noop", nil) != nil {
		t.Error("Dependency(nil) must be nil")
	}
}

func TestRateLimitMessage(t *testing.T) {
	err := &RateLimitError{RetryAfter: 2400 * time.Millisecond}
	if err.Error() != "rate limit exceeded, retry after 2s" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if (&RateLimitError{}).Error() != "rate limit exceeded" {
		t.Error("zero RetryAfter should omit the hint")
	}
}

func TestStaleVersion(t *testing.T) {
	err := StaleVersion("payment", "p1", 3, 2)
	var conflict *ConflictError
	if !errors.As(err, &conflict) || !conflict.Stale {
		t.Fatalf("expected stale ConflictError, got %v", err)
	}
	if err.Error() != "conflict: payment p1 is at version 3, expected 2" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if c := Conflict("key reused").(*ConflictError); c.Stale {
		t.Error("plain conflicts are not stale")
	}
}
