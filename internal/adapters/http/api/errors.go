package api

import (
	"errors"
	"fmt"
	"net/http"

	service "github.com/okian/yieldboard/internal/app"
	"github.com/okian/yieldboard/internal/app/scheduler"
	"github.com/okian/yieldboard/internal/domain/leaderboard"
	"github.com/okian/yieldboard/internal/domain/ledger"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrNotFound   = errors.New("not found")
)

// NewKind tags op with an error kind.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// Wrap annotates err with op.
func Wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}

// WrapKind annotates err with op and tags it with kind.
func WrapKind(op string, kind, err error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// statusFor maps domain errors to an HTTP status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAccount),
		errors.Is(err, ledger.ErrInvalidIdentity),
		errors.Is(err, leaderboard.ErrInvalidLimit):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledger.ErrUnknownAccount),
		errors.Is(err, leaderboard.ErrNotRanked),
		errors.Is(err, leaderboard.ErrEpochNotClosed),
		errors.Is(err, service.ErrNoClosedEpoch),
		errors.Is(err, service.ErrEpochNotRun),
		errors.Is(err, service.ErrNoScore):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, scheduler.ErrEpochNotElapsed),
		errors.Is(err, scheduler.ErrEpochNotStarted),
		errors.Is(err, scheduler.ErrPriorEpochUnresolved),
		errors.Is(err, scheduler.ErrNotRedrivable):
		return http.StatusConflict, "conflict"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
