package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/streamwager/wagerd/internal/domain"
	"github.com/streamwager/wagerd/internal/engine"
)

// StatusHandler serves the operational status snapshot.
type StatusHandler struct {
	engine    *engine.Engine
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(eng *engine.Engine, mode string, startedAt time.Time, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{engine: eng, mode: mode, startedAt: startedAt, logger: logger}
}

// Status reports the running mode, uptime, and per-state market counts.
// GET /api/status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	counts := map[domain.MarketStatus]int{}
	var totalStaked uint64
	for _, m := range h.engine.Markets() {
		counts[m.Status]++
		if !m.Status.Terminal() {
			totalStaked += m.TotalPool()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":         h.mode,
		"started_at":   h.startedAt.UTC().Format(time.RFC3339),
		"uptime":       time.Since(h.startedAt).Round(time.Second).String(),
		"markets":      counts,
		"total_staked": totalStaked,
	})
}
