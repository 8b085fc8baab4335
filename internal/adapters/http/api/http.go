// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/okian/yieldboard/internal/domain/types"
	"github.com/shopspring/decimal"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	AccountDependencies
	LeaderboardDependencies
	RankDependencies
	PayoutDependencies
	EpochDependencies
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	accountHandler     *AccountHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	payoutHandler      *PayoutHandler
	epochHandler       *EpochHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLeaderboardLimit int) *Server {
	return &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		accountHandler:     NewAccountHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLeaderboardLimit),
		rankHandler:        NewRankHandler(deps),
		payoutHandler:      NewPayoutHandler(deps),
		epochHandler:       NewEpochHandler(deps),
	}
}

// Register attaches all HTTP routes to mux. Routes with path parameters are
// served by an httprouter mounted at the mux root.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", ErrNotFound)
	})

	router.Handler(http.MethodGet, "/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	router.Handler(http.MethodGet, "/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	router.Handler(http.MethodPost, "/stake", MetricsMiddleware(s.accountHandler.HandleStake, "stake"))
	router.Handler(http.MethodPost, "/unstake", MetricsMiddleware(s.accountHandler.HandleUnstake, "unstake"))
	router.Handler(http.MethodGet, "/balance/:account", MetricsMiddleware(s.accountHandler.HandleBalance, "balance"))
	router.Handler(http.MethodGet, "/history/:account", MetricsMiddleware(s.accountHandler.HandleHistory, "history"))
	router.Handler(http.MethodPost, "/accounts/:account/identity", MetricsMiddleware(s.accountHandler.HandleLinkIdentity, "link_identity"))

	router.Handler(http.MethodGet, "/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	router.Handler(http.MethodGet, "/rank/:account", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	router.Handler(http.MethodGet, "/scores/:account", MetricsMiddleware(s.rankHandler.HandleGetScore, "score"))

	router.Handler(http.MethodGet, "/payouts", MetricsMiddleware(s.payoutHandler.HandleListPayouts, "list_payouts"))
	router.Handler(http.MethodGet, "/payouts/:account", MetricsMiddleware(s.payoutHandler.HandleGetPayouts, "payouts"))
	router.Handler(http.MethodPost, "/payouts/redrive", MetricsMiddleware(s.payoutHandler.HandleRedrive, "redrive"))
	router.Handler(http.MethodGet, "/epochs/:id", MetricsMiddleware(s.epochHandler.HandleGetEpoch, "get_epoch"))
	router.Handler(http.MethodPost, "/epochs/:id/run", MetricsMiddleware(s.epochHandler.HandleRunEpoch, "run_epoch"))

	mux.Handle("/", router)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	if ec, ok := w.(errorCoder); ok {
		ec.setErrorCode(code)
	}
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError translates err into its HTTP status.
func writeDomainError(w http.ResponseWriter, op string, err error) {
	status, code := statusFor(err)
	writeError(w, status, code, Wrap(op, err))
}

func pathParam(r *http.Request, name string) string {
	return httprouter.ParamsFromContext(r.Context()).ByName(name)
}

// optionalEpoch parses the epoch query parameter; absent means latest.
func optionalEpoch(r *http.Request) (*uint64, error) {
	raw := r.URL.Query().Get("epoch")
	if raw == "" {
		return nil, nil
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// amountRequest is the body of POST /stake and POST /unstake.
type amountRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
}
