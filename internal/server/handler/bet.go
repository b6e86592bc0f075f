package handler

import (
	"log/slog"
	"net/http"

	"github.com/streamwager/wagerd/internal/domain"
	"github.com/streamwager/wagerd/internal/engine"
)

// BetHandler serves the wagering endpoints.
type BetHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(eng *engine.Engine, logger *slog.Logger) *BetHandler {
	return &BetHandler{engine: eng, logger: logger}
}

type placeBetRequest struct {
	Outcome domain.Outcome `json:"outcome"`
	Amount  uint64         `json:"amount"`
}

// PlaceBet stakes the caller's funds on one outcome of an open market.
// POST /api/markets/{id}/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	var req placeBetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.engine.PlaceBet(r.Context(), caller, id, req.Outcome, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}

	total, err := h.engine.Stake(id, caller, req.Outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"account":   caller,
		"outcome":   req.Outcome,
		"stake":     total,
	})
}

// GetStake returns the caller's current stake on one outcome.
// GET /api/markets/{id}/bets?outcome=1
func (h *BetHandler) GetStake(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	var outcome domain.Outcome
	switch r.URL.Query().Get("outcome") {
	case "1":
		outcome = domain.Outcome1
	case "2":
		outcome = domain.Outcome2
	default:
		writeError(w, http.StatusBadRequest, "outcome query parameter must be 1 or 2")
		return
	}

	amount, err := h.engine.Stake(id, caller, outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"account":   caller,
		"outcome":   outcome,
		"stake":     amount,
	})
}
