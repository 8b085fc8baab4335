package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/yieldboard/internal/domain/types"
	"github.com/shopspring/decimal"
)

// AccountDependencies defines the stake ledger operations.
type AccountDependencies interface {
	Stake(ctx context.Context, accountID string, amount decimal.Decimal) (types.Balance, error)
	Unstake(ctx context.Context, accountID string, amount decimal.Decimal) (types.Release, error)
	Balance(ctx context.Context, accountID string) (types.Balance, error)
	History(ctx context.Context, accountID string) ([]types.HistoryItem, error)
	LinkIdentity(ctx context.Context, accountID, externalRef string) (types.Identity, error)
}

// AccountHandler handles stake, unstake and balance requests.
type AccountHandler struct {
	deps AccountDependencies
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(deps AccountDependencies) *AccountHandler {
	return &AccountHandler{deps: deps}
}

// HandleStake handles POST /stake requests.
func (h *AccountHandler) HandleStake(w http.ResponseWriter, r *http.Request) {
	const op = "api.stake"
	req, err := decodeAmount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	bal, err := h.deps.Stake(r.Context(), req.AccountID, req.Amount)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// HandleUnstake handles POST /unstake requests.
func (h *AccountHandler) HandleUnstake(w http.ResponseWriter, r *http.Request) {
	const op = "api.unstake"
	req, err := decodeAmount(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	rel, err := h.deps.Unstake(r.Context(), req.AccountID, req.Amount)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// HandleBalance handles GET /balance/{account} requests.
func (h *AccountHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.deps.Balance(r.Context(), pathParam(r, "account"))
	if err != nil {
		writeDomainError(w, "api.balance", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// HandleHistory handles GET /history/{account} requests.
func (h *AccountHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	items, err := h.deps.History(r.Context(), pathParam(r, "account"))
	if err != nil {
		writeDomainError(w, "api.history", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

type identityRequest struct {
	ExternalRef string `json:"external_ref"`
}

// HandleLinkIdentity handles POST /accounts/{account}/identity requests.
func (h *AccountHandler) HandleLinkIdentity(w http.ResponseWriter, r *http.Request) {
	const op = "api.link_identity"
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	id, err := h.deps.LinkIdentity(r.Context(), pathParam(r, "account"), req.ExternalRef)
	if err != nil {
		writeDomainError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

func decodeAmount(r *http.Request) (amountRequest, error) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	if strings.TrimSpace(req.AccountID) == "" {
		return req, errors.New("missing account_id")
	}
	return req, nil
}
