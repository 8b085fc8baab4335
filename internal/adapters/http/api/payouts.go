package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/yieldboard/internal/domain/types"
)

// PayoutDependencies defines payout reads and the operator redrive.
type PayoutDependencies interface {
	Payouts(ctx context.Context, accountID string) ([]types.Payout, error)
	Redrive(ctx context.Context, accountID string, epochID uint64) (types.Payout, error)
	FailedPayouts(ctx context.Context, epochID *uint64) ([]types.Payout, error)
}

// EpochDependencies defines the manual epoch trigger and epoch reports.
type EpochDependencies interface {
	RunEpoch(ctx context.Context, epochID uint64) (*types.EpochReport, error)
	EpochReport(ctx context.Context, epochID uint64) (*types.EpochReport, error)
}

const statusFailedTerminal = "failed-terminal"

// PayoutHandler handles payout requests.
type PayoutHandler struct {
	deps PayoutDependencies
}

// NewPayoutHandler creates a new payout handler.
func NewPayoutHandler(deps PayoutDependencies) *PayoutHandler {
	return &PayoutHandler{deps: deps}
}

// HandleGetPayouts handles GET /payouts/{account} requests.
func (h *PayoutHandler) HandleGetPayouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := h.deps.Payouts(r.Context(), pathParam(r, "account"))
	if err != nil {
		writeDomainError(w, "api.get_payouts", err)
		return
	}
	writeJSON(w, http.StatusOK, payouts)
}

// HandleListPayouts handles GET /payouts?status=failed-terminal&epoch=E
// requests, the operator's review queue.
func (h *PayoutHandler) HandleListPayouts(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_payouts"
	if status := r.URL.Query().Get("status"); status != statusFailedTerminal {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("status must be "+statusFailedTerminal)))
		return
	}
	epoch, err := optionalEpoch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	payouts, err := h.deps.FailedPayouts(r.Context(), epoch)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, payouts)
}

type redriveRequest struct {
	AccountID string  `json:"account_id"`
	EpochID   *uint64 `json:"epoch_id"`
}

// HandleRedrive handles POST /payouts/redrive requests.
func (h *PayoutHandler) HandleRedrive(w http.ResponseWriter, r *http.Request) {
	const op = "api.redrive"
	var req redriveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if strings.TrimSpace(req.AccountID) == "" || req.EpochID == nil {
		writeError(w, http.StatusBadRequest, "bad_request",
			WrapKind(op, ErrBadRequest, errors.New("account_id and epoch_id are required")))
		return
	}
	p, err := h.deps.Redrive(r.Context(), req.AccountID, *req.EpochID)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// EpochHandler handles manual epoch runs.
type EpochHandler struct {
	deps EpochDependencies
}

// NewEpochHandler creates a new epoch handler.
func NewEpochHandler(deps EpochDependencies) *EpochHandler {
	return &EpochHandler{deps: deps}
}

// HandleGetEpoch handles GET /epochs/{id} requests.
func (h *EpochHandler) HandleGetEpoch(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_epoch"
	id, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	report, err := h.deps.EpochReport(r.Context(), id)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleRunEpoch handles POST /epochs/{id}/run requests. The run is
// synchronous and returns the epoch report.
func (h *EpochHandler) HandleRunEpoch(w http.ResponseWriter, r *http.Request) {
	const op = "api.run_epoch"
	id, err := strconv.ParseUint(pathParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	report, err := h.deps.RunEpoch(r.Context(), id)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
