package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/streamwager/wagerd/internal/engine"
)

// ClaimHandler serves the payout and refund endpoints.
type ClaimHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewClaimHandler creates a ClaimHandler.
func NewClaimHandler(eng *engine.Engine, logger *slog.Logger) *ClaimHandler {
	return &ClaimHandler{engine: eng, logger: logger}
}

// ClaimWinnings pays out the caller's winning stake on a resolved market.
// POST /api/markets/{id}/claims/winnings
func (h *ClaimHandler) ClaimWinnings(w http.ResponseWriter, r *http.Request) {
	h.claim(w, r, h.engine.ClaimWinnings, "payout")
}

// ClaimRefund returns the caller's principal on a cancelled market.
// POST /api/markets/{id}/claims/refund
func (h *ClaimHandler) ClaimRefund(w http.ResponseWriter, r *http.Request) {
	h.claim(w, r, h.engine.ClaimRefund, "refund")
}

func (h *ClaimHandler) claim(
	w http.ResponseWriter,
	r *http.Request,
	fn func(ctx context.Context, caller string, marketID uint64) (uint64, error),
	field string,
) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}

	amount, err := fn(r.Context(), caller, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": id,
		"account":   caller,
		field:       amount,
	})
}
