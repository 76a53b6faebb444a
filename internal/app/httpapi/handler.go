package httpapi

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/R3E-Network/raffle_layer/internal/app"
	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/events"
	"github.com/R3E-Network/raffle_layer/internal/app/metrics"
	"github.com/R3E-Network/raffle_layer/internal/app/services/raffle"
	"github.com/R3E-Network/raffle_layer/internal/httputil"
	"github.com/R3E-Network/raffle_layer/internal/middleware"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Options configures the HTTP surface.
type Options struct {
	Auth         *middleware.Authenticator
	EntryLimiter *middleware.RateLimiter
	Log          *logger.Logger
}

// handler bundles HTTP endpoints for the raffle.
type handler struct {
	app   *app.Application
	audit *auditLog
	log   *logger.Logger
}

// NewHandler returns a router exposing the raffle REST API.
func NewHandler(application *app.Application, opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	auth := opts.Auth
	if auth == nil {
		auth = middleware.NewAuthenticator("", log)
	}
	limiter := opts.EntryLimiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(0, 0, log)
	}

	h := &handler{
		app:   application,
		audit: newAuditLog(200, logAuditSink{log: log.Named("audit")}),
		log:   log,
	}
	protect := func(fn http.HandlerFunc, roles ...string) http.Handler {
		return auth.Require(roles...)(h.audit.wrap(fn))
	}

	r := mux.NewRouter()
	r.Use(middleware.Logging(log), middleware.Metrics())

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/raffle", h.summary).Methods(http.MethodGet)

	api := r.PathPrefix("/v1/raffle").Subrouter()
	api.Handle("/entries", limiter.Handler(http.HandlerFunc(h.enter))).Methods(http.MethodPost)
	api.HandleFunc("/players", h.players).Methods(http.MethodGet)
	api.HandleFunc("/players/{index}", h.player).Methods(http.MethodGet)
	api.HandleFunc("/upkeep", h.checkUpkeep).Methods(http.MethodGet)
	api.Handle("/upkeep", protect(h.performUpkeep, middleware.RoleOperator)).Methods(http.MethodPost)
	api.Handle("/fulfillments", protect(h.fulfill, middleware.RoleOracle)).Methods(http.MethodPost)
	api.Handle("/payout/retry", protect(h.retryPayout, middleware.RoleOperator)).Methods(http.MethodPost)
	api.HandleFunc("/rounds", h.rounds).Methods(http.MethodGet)
	api.HandleFunc("/winnings/{identifier}", h.winnings).Methods(http.MethodGet)
	api.Handle("/ledger", protect(h.ledger, middleware.RoleOperator)).Methods(http.MethodGet)
	api.Handle("/audit", protect(h.auditEntries, middleware.RoleOperator)).Methods(http.MethodGet)
	api.HandleFunc("/events/recent", h.recentEvents).Methods(http.MethodGet)
	api.Handle("/events", application.Hub).Methods(http.MethodGet)
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"state":    h.app.Coordinator.RaffleState().String(),
		"services": h.app.Services(),
	})
}

type summaryResponse struct {
	EntranceFee     decimal.Decimal       `json:"entrance_fee"`
	IntervalSeconds float64               `json:"interval_seconds"`
	State           domain.State          `json:"state"`
	Players         int                   `json:"players"`
	Balance         decimal.Decimal       `json:"balance"`
	LastTimestamp   time.Time             `json:"last_timestamp"`
	PendingRequest  string                `json:"pending_request,omitempty"`
	Round           int64                 `json:"round"`
	RecentWinner    string                `json:"recent_winner,omitempty"`
	PendingPayout   *domain.PendingPayout `json:"pending_payout,omitempty"`
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	c := h.app.Coordinator
	snap, err := c.Snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summaryResponse{
		EntranceFee:     c.EntranceFee(),
		IntervalSeconds: c.Interval().Seconds(),
		State:           snap.State,
		Players:         len(snap.Entrants),
		Balance:         snap.Balance,
		LastTimestamp:   snap.LastTimestamp,
		PendingRequest:  snap.PendingRequest,
		Round:           snap.RoundNumber,
		RecentWinner:    snap.RecentWinner,
		PendingPayout:   snap.Payout,
	})
}

func (h *handler) enter(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Identifier string          `json:"identifier"`
		Payment    decimal.Decimal `json:"payment"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		badRequest(w, err)
		return
	}
	entrant, err := h.app.Coordinator.Enter(r.Context(), payload.Payment, payload.Identifier)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, entrant)
}

func (h *handler) players(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.app.Coordinator.Players())
}

func (h *handler) player(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		badRequest(w, fmt.Errorf("index must be an integer"))
		return
	}
	entrant, err := h.app.Coordinator.Player(index)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entrant)
}

func (h *handler) checkUpkeep(w http.ResponseWriter, r *http.Request) {
	status, err := h.app.Coordinator.CheckUpkeep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *handler) performUpkeep(w http.ResponseWriter, r *http.Request) {
	performed, err := h.app.Coordinator.PerformUpkeep(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, performed)
}

// randomWord accepts a JSON number, a decimal string or a 0x-prefixed hex string.
type randomWord struct {
	*big.Int
}

func (rw *randomWord) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	base := 10
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw, base = raw[2:], 16
	}
	v, ok := new(big.Int).SetString(raw, base)
	if !ok || v.Sign() < 0 {
		return fmt.Errorf("invalid random word %q", string(b))
	}
	rw.Int = v
	return nil
}

func (h *handler) fulfill(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RequestID   string       `json:"request_id"`
		RandomWords []randomWord `json:"random_words"`
	}
	if err := httputil.DecodeJSON(r, &payload); err != nil {
		badRequest(w, err)
		return
	}
	if strings.TrimSpace(payload.RequestID) == "" {
		badRequest(w, errors.New("request_id required"))
		return
	}
	words := make([]*big.Int, len(payload.RandomWords))
	for i, word := range payload.RandomWords {
		words[i] = word.Int
	}

	err := h.app.Coordinator.OnRandomnessFulfilled(r.Context(), payload.RequestID, words)
	if errors.Is(err, raffle.ErrStaleOrUnknownRequest) {
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{
			"status":     "ignored",
			"request_id": payload.RequestID,
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "fulfilled",
		"request_id":    payload.RequestID,
		"recent_winner": h.app.Coordinator.RecentWinner(),
		"round":         h.app.Coordinator.RoundNumber(),
	})
}

func (h *handler) retryPayout(w http.ResponseWriter, r *http.Request) {
	round, err := h.app.Coordinator.RetryPayout(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, round)
}

func (h *handler) rounds(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	rounds, err := h.app.Coordinator.Rounds(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rounds)
}

func (h *handler) winnings(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["identifier"])
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"identifier": id,
		"winnings":   h.app.Book.Winnings(id),
	})
}

func (h *handler) ledger(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Escrow.Entries(r.Context(), r.URL.Query().Get("account"))
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entries)
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.audit.list(limit))
}

func (h *handler) recentEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	recent := h.app.Events.Recent(limit)
	if recent == nil {
		recent = []events.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, recent)
}

func parseLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
