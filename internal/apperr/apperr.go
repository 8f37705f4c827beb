// Package apperr carries domain failures as tagged values that the HTTP layer
// translates into a response exactly once.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

type Kind int

const (
	KindInternal Kind = iota
	KindBad
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindNotAcceptable
	KindConflict
	KindUnprocessable
	KindRateLimited
	KindUnavailable
)

var statusCodes = map[Kind]int{
	KindInternal:      http.StatusInternalServerError,
	KindBad:           http.StatusBadRequest,
	KindUnauthorized:  http.StatusUnauthorized,
	KindForbidden:     http.StatusForbidden,
	KindNotFound:      http.StatusNotFound,
	KindNotAcceptable: http.StatusNotAcceptable,
	KindConflict:      http.StatusConflict,
	KindUnprocessable: http.StatusUnprocessableEntity,
	KindRateLimited:   http.StatusTooManyRequests,
	KindUnavailable:   http.StatusServiceUnavailable,
}

type Error struct {
	Kind    Kind
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Status is the HTTP status code of the error.
func (e *Error) Status() int {
	return statusCodes[e.Kind]
}

// WithDetails returns a copy carrying client-visible details.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Bad(format string, args ...any) *Error { return newError(KindBad, format, args...) }

func Unauthorized(format string, args ...any) *Error {
	return newError(KindUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return newError(KindForbidden, format, args...)
}

func NotFound(format string, args ...any) *Error { return newError(KindNotFound, format, args...) }

func NotAcceptable(format string, args ...any) *Error {
	return newError(KindNotAcceptable, format, args...)
}

func Conflict(format string, args ...any) *Error { return newError(KindConflict, format, args...) }

func Unprocessable(format string, args ...any) *Error {
	return newError(KindUnprocessable, format, args...)
}

func RateLimited(format string, args ...any) *Error {
	return newError(KindRateLimited, format, args...)
}

func Unavailable(cause error, format string, args ...any) *Error {
	e := newError(KindUnavailable, format, args...)
	e.cause = cause
	return e
}

func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "internal server error", cause: cause}
}

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// From classifies any error. Tagged errors pass through; database integrity
// violations become conflicts; connectivity failures become unavailable.
func From(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23":
			c := Conflict("integrity violation")
			c.cause = err
			return c
		case len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53" || pgErr.Code[:2] == "57"):
			return Unavailable(err, "database unavailable")
		}
		return Internal(err)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return Unavailable(err, "database unavailable")
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Unavailable(err, "service unavailable")
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Unavailable(err, "upstream service unavailable")
	}

	if errors.Is(err, redis.ErrClosed) {
		return Unavailable(err, "key-value store unavailable")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Unavailable(err, "service unavailable")
	}

	return Internal(err)
}
