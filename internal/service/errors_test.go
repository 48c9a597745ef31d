package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/ibimina/saccoledger/internal/apperr"
)

func asConnectError(err error, target **connect.Error) bool {
	return errors.As(err, target)
}

func TestToConnectError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want connect.Code
	}{
		{"missing key", apperr.ErrMissingIdempotencyKey, connect.CodeInvalidArgument},
		{"validation", apperr.Validation("amount", "must be positive"), connect.CodeInvalidArgument},
		{"forbidden", apperr.Forbidden("nope"), connect.CodePermissionDenied},
		{"rate limited", &apperr.RateLimitError{RetryAfter: 1500 * time.Millisecond}, connect.CodeResourceExhausted},
		{"key reuse", apperr.Conflict("key reused"), connect.CodeAlreadyExists},
		{"stale version", apperr.StaleVersion("payment", "p1", 2, 1), connect.CodeAborted},
		{"not found", fmt.Errorf("load: %w", apperr.NotFound("payment", "p1")), connect.CodeNotFound},
		{"dependency", apperr.Dependency("insert", errors.New("disk full")), connect.CodeInternal},
		{"unclassified", errors.New("boom"), connect.CodeInternal},
		{"already connect", connect.NewError(connect.CodeUnauthenticated, errors.New("who")), connect.CodeUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toConnectError("/test", tt.err)
			if connect.CodeOf(got) != tt.want {
				t.Errorf("code = %v, want %v", connect.CodeOf(got), tt.want)
			}
		})
	}

	t.Run("retry hint rounds up", func(t *testing.T) {
		var cerr *connect.Error
		if !errors.As(toConnectError("/test", &apperr.RateLimitError{RetryAfter: 1500 * time.Millisecond}), &cerr) {
			t.Fatal("expected connect error")
		}
		if got := cerr.Meta().Get("Retry-After"); got != "2" {
			t.Errorf("Retry-After = %q, want 2", got)
		}
	})

	t.Run("internal errors hide details", func(t *testing.T) {
		got := toConnectError("/test", apperr.Dependency("insert", errors.New("disk full")))
		var cerr *connect.Error
		if !errors.As(got, &cerr) || cerr.Message() != "unhandled error" {
			t.Errorf("Expected generic message, got %v", got)
		}
	})

	if toConnectError("/test", nil) != nil {
		t.Error("nil must map to nil")
	}
}
