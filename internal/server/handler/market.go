package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/streamwager/wagerd/internal/domain"
	"github.com/streamwager/wagerd/internal/engine"
	"github.com/streamwager/wagerd/internal/service"
)

// MarketHandler serves market lifecycle and read endpoints. Live state comes
// from the engine; history listings come from the persisted mirror.
type MarketHandler struct {
	engine  *engine.Engine
	service *service.MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler. service may be nil when no
// persistence layer is configured; history endpoints then return 503.
func NewMarketHandler(eng *engine.Engine, svc *service.MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{engine: eng, service: svc, logger: logger}
}

type createMarketRequest struct {
	Owner    string    `json:"owner"`
	Title    string    `json:"title"`
	Outcomes [2]string `json:"outcomes"`
}

// CreateMarket opens a new market. The owner defaults to the caller; a
// delegated administrator passes the streamer's account explicitly.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createMarketRequest
	if !decodeBody(w, r, &req) {
		return
	}
	owner := req.Owner
	if owner == "" {
		owner = caller
	}

	id, err := h.engine.CreateMarket(r.Context(), caller, owner, req.Title, req.Outcomes[0], req.Outcomes[1])
	if err != nil {
		writeDomainError(w, err)
		return
	}

	m, err := h.engine.GetMarket(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ListMarkets returns every live market known to the engine.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Markets())
}

// GetMarket returns one market snapshot from the engine.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	m, err := h.engine.GetMarket(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// LockMarket closes a market for new bets.
// POST /api/markets/{id}/lock
func (h *MarketHandler) LockMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(caller string, id uint64) error {
		return h.engine.LockMarket(r.Context(), caller, id)
	})
}

type resolveRequest struct {
	Outcome domain.Outcome `json:"outcome"`
}

// ResolveMarket declares the winning outcome.
// POST /api/markets/{id}/resolve
func (h *MarketHandler) ResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	h.transition(w, r, func(caller string, id uint64) error {
		return h.engine.ResolveMarket(r.Context(), caller, id, req.Outcome)
	})
}

// CancelMarket voids a market.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(caller string, id uint64) error {
		return h.engine.CancelMarket(r.Context(), caller, id)
	})
}

func (h *MarketHandler) transition(w http.ResponseWriter, r *http.Request, fn func(caller string, id uint64) error) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	if err := fn(caller, id); err != nil {
		writeDomainError(w, err)
		return
	}
	m, err := h.engine.GetMarket(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ListStakes returns every stake row recorded for a market.
// GET /api/markets/{id}/stakes
func (h *MarketHandler) ListStakes(w http.ResponseWriter, r *http.Request) {
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	stakes, err := h.engine.StakesByMarket(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stakes)
}

// GetPayout returns the caller's claimable winnings on a resolved market,
// zero otherwise.
// GET /api/markets/{id}/payout
func (h *MarketHandler) GetPayout(w http.ResponseWriter, r *http.Request) {
	h.amountView(w, r, h.engine.GetPayout, "payout")
}

// GetRefund returns the caller's refundable principal on a cancelled market,
// zero otherwise.
// GET /api/markets/{id}/refund
func (h *MarketHandler) GetRefund(w http.ResponseWriter, r *http.Request) {
	h.amountView(w, r, h.engine.GetRefundAmount, "refund")
}

func (h *MarketHandler) amountView(w http.ResponseWriter, r *http.Request, fn func(uint64, string) (uint64, error), field string) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	id, ok := marketIDParam(w, r)
	if !ok {
		return
	}
	amount, err := fn(id, caller)
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

// History returns persisted market listings filtered by owner or status.
// GET /api/markets/history?owner=...&status=...
func (h *MarketHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeError(w, http.StatusServiceUnavailable, "no persistence layer configured")
		return
	}
	opts := parseListOpts(r)
	q := r.URL.Query()

	var (
		markets []domain.Market
		err     error
	)
	switch {
	case q.Get("owner") != "":
		markets, err = h.service.ListByOwner(r.Context(), q.Get("owner"), opts)
	case q.Get("status") != "":
		markets, err = h.service.ListByStatus(r.Context(), domain.MarketStatus(q.Get("status")), opts)
	default:
		writeError(w, http.StatusBadRequest, "owner or status query parameter required")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markets)
}

// AccountStakes returns the caller's stake rows across markets.
// GET /api/accounts/stakes
func (h *MarketHandler) AccountStakes(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeError(w, http.StatusServiceUnavailable, "no persistence layer configured")
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	stakes, err := h.service.AccountStakes(r.Context(), caller, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if stakes == nil {
		stakes = []domain.Stake{}
	}
	writeJSON(w, http.StatusOK, stakes)
}

// AuditLog returns recent audit entries, newest first.
// GET /api/audit?since=RFC3339&until=RFC3339
func (h *MarketHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeError(w, http.StatusServiceUnavailable, "no persistence layer configured")
		return
	}
	opts := parseListOpts(r)
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until timestamp")
			return
		}
		opts.Until = &t
	}

	entries, err := h.service.AuditLog(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
