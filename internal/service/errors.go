package service

import (
	"errors"
	"log/slog"
	"math"
	"strconv"

	"connectrpc.com/connect"

	"github.com/ibimina/saccoledger/internal/apperr"
)

// errUnhandled is the message clients see for failures they cannot act on.
var errUnhandled = errors.New("unhandled error")

// toConnectError maps the error taxonomy onto Connect codes. Dependency and
// unclassified errors are logged and hidden behind a generic message.
func toConnectError(procedure string, err error) error {
	if err == nil {
		return nil
	}
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr
	}

	var (
		validation *apperr.ValidationError
		forbidden  *apperr.AuthorizationError
		limited    *apperr.RateLimitError
		conflict   *apperr.ConflictError
		notFound   *apperr.NotFoundError
	)
	switch {
	case errors.Is(err, apperr.ErrMissingIdempotencyKey), errors.As(err, &validation):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.As(err, &forbidden):
		return connect.NewError(connect.CodePermissionDenied, err)
	case errors.As(err, &limited):
		cerr := connect.NewError(connect.CodeResourceExhausted, err)
		if limited.RetryAfter > 0 {
			seconds := int(math.Ceil(limited.RetryAfter.Seconds()))
			cerr.Meta().Set("Retry-After", strconv.Itoa(seconds))
		}
		return cerr
	case errors.As(err, &conflict):
		if conflict.Stale {
			return connect.NewError(connect.CodeAborted, err)
		}
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.As(err, &notFound):
		return connect.NewError(connect.CodeNotFound, err)
	}

	slog.Error("Unhandled error", "procedure", procedure, "error", err)
	return connect.NewError(connect.CodeInternal, errUnhandled)
}
