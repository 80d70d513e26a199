package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/apextraders/internal/ledger"
	"github.com/xtrntr/apextraders/internal/models"
	"github.com/xtrntr/apextraders/internal/pricefeed"
	"github.com/xtrntr/apextraders/internal/settlement"
	"github.com/xtrntr/apextraders/internal/store"
	"github.com/xtrntr/apextraders/internal/tournament"
)

// PriceView is the read side of the price feed
type PriceView interface {
	Snapshot() pricefeed.Snapshot
}

// Services are the components the handlers call into
type Services struct {
	Store       store.Store
	Ledger      *ledger.Ledger
	Coordinator *settlement.Coordinator
	Registry    *tournament.Registry
	Leaderboard *tournament.Leaderboard
	Prices      PriceView
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	svc          Services
	logger       *slog.Logger
	defaultLimit int
}

// NewHandler creates a new handler
func NewHandler(svc Services, logger *slog.Logger, leaderboardLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if leaderboardLimit <= 0 {
		leaderboardLimit = tournament.DefaultTopN
	}
	return &Handler{svc: svc, logger: logger, defaultLimit: leaderboardLimit}
}

// OpenTrade handles POST /trades/open
func (h *Handler) OpenTrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID       string           `json:"userId"`
		Symbol       string           `json:"symbol"`
		Side         string           `json:"side"`
		EntryPrice   *decimal.Decimal `json:"entryPrice"`
		TournamentID *string          `json:"tournamentId"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.EntryPrice == nil {
		writeMessage(w, http.StatusBadRequest, "entryPrice is required")
		return
	}

	trade, err := h.svc.Coordinator.Open(r.Context(), ledger.OpenRequest{
		UserID:       req.UserID,
		Symbol:       req.Symbol,
		Side:         models.Side(strings.ToUpper(req.Side)),
		EntryPrice:   *req.EntryPrice,
		TournamentID: req.TournamentID,
	})
	if err != nil {
		h.writeError(w, r, err, "Failed to open trade")
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

type closeBody struct {
	TradeID       string           `json:"tradeId"`
	ExitPrice     *decimal.Decimal `json:"exitPrice"`
	PnLPercentage *decimal.Decimal `json:"pnlPercentage"`
	TournamentID  *string          `json:"tournamentId"`
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request, body closeBody) (*settlement.Settlement, bool) {
	if body.ExitPrice == nil {
		writeMessage(w, http.StatusBadRequest, "exitPrice is required")
		return nil, false
	}
	res, err := h.svc.Coordinator.Settle(r.Context(), settlement.SettleRequest{
		TradeID:       body.TradeID,
		ExitPrice:     *body.ExitPrice,
		PnLPercentage: body.PnLPercentage,
		TournamentID:  body.TournamentID,
	})
	if err != nil {
		h.writeError(w, r, err, "Failed to close trade")
		return nil, false
	}
	return res, true
}

// CloseTrade handles POST /trades/close and returns the settled trade
func (h *Handler) CloseTrade(w http.ResponseWriter, r *http.Request) {
	var body closeBody
	if !h.decode(w, r, &body) {
		return
	}
	if body.TradeID == "" {
		writeMessage(w, http.StatusBadRequest, "tradeId is required")
		return
	}
	res, ok := h.settle(w, r, body)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, res.Trade)
}

// SettleTrade handles PATCH /trades/close/{id}
func (h *Handler) SettleTrade(w http.ResponseWriter, r *http.Request) {
	var body closeBody
	if !h.decode(w, r, &body) {
		return
	}
	body.TradeID = chi.URLParam(r, "id")
	res, ok := h.settle(w, r, body)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Trade settled",
		"trade":   res.Trade,
	})
}

// TradeHistory handles GET /trades/history
func (h *Handler) TradeHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeMessage(w, http.StatusBadRequest, "userId is required")
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}

	trades, err := h.svc.Ledger.History(r.Context(), h.svc.Store, userID, limit)
	if err != nil {
		h.writeError(w, r, err, "Failed to retrieve trades")
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// JoinTournament handles POST /tournaments/join
func (h *Handler) JoinTournament(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID       string `json:"userId"`
		TournamentID string `json:"tournamentId"`
	}
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.svc.Registry.Join(r.Context(), req.UserID, req.TournamentID)
	if err != nil {
		h.writeError(w, r, err, "Failed to join tournament")
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListTournaments handles GET /tournaments
func (h *Handler) ListTournaments(w http.ResponseWriter, r *http.Request) {
	status := models.TournamentStatus(r.URL.Query().Get("status"))
	ts, err := h.svc.Registry.List(r.Context(), status)
	if err != nil {
		h.writeError(w, r, err, "Failed to list tournaments")
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

// Leaderboard handles GET /leaderboard
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	if limit == 0 {
		limit = h.defaultLimit
	}

	standings, err := h.svc.Leaderboard.TopN(r.Context(), r.URL.Query().Get("tournamentId"), limit)
	if err != nil {
		h.writeError(w, r, err, "Leaderboard failed")
		return
	}
	writeJSON(w, http.StatusOK, standings)
}

// UserRankings handles GET /leaderboard/users
func (h *Handler) UserRankings(w http.ResponseWriter, r *http.Request) {
	rankings, err := h.svc.Leaderboard.UserRankings(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Leaderboard failed")
		return
	}
	writeJSON(w, http.StatusOK, rankings)
}

// UpdateUser handles PATCH /user/update/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username *string `json:"username"`
		Bio      *string `json:"bio"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if req.Username != nil {
		u := strings.TrimSpace(*req.Username)
		if u == "" {
			writeMessage(w, http.StatusBadRequest, "username cannot be empty")
			return
		}
		req.Username = &u
	}
	if req.Bio != nil {
		b := strings.TrimSpace(*req.Bio)
		req.Bio = &b
	}

	user, err := h.svc.Store.UpdateUser(r.Context(), chi.URLParam(r, "id"), req.Username, req.Bio)
	if errors.Is(err, models.ErrConflict) {
		writeMessage(w, http.StatusBadRequest, "Username already taken")
		return
	}
	if err != nil {
		h.writeError(w, r, err, "Failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Profile updated",
		"user":    user,
	})
}

// Price handles GET /price
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Prices.Snapshot())
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"feed":   h.svc.Prices.Snapshot().Status,
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, key string) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeMessage(w, http.StatusBadRequest, key+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}
