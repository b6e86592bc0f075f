package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/streamwager/wagerd/internal/domain"
)

// EventsHandler serves catch-up reads of the durable event stream. Live
// delivery goes over the websocket hub; this endpoint lets clients that
// reconnect replay what they missed.
type EventsHandler struct {
	bus    domain.SignalBus
	stream string
	logger *slog.Logger
}

// NewEventsHandler creates an EventsHandler over the given stream.
func NewEventsHandler(bus domain.SignalBus, stream string, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, stream: stream, logger: logger}
}

type streamEvent struct {
	StreamID string          `json:"stream_id"`
	Event    json.RawMessage `json:"event"`
}

// List reads events appended after the given stream ID.
// GET /api/events?after=<stream_id>&limit=100
func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "no event stream configured")
		return
	}

	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stream read failed")
		h.logger.ErrorContext(r.Context(), "stream read failed", slog.String("error", err.Error()))
		return
	}

	out := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, streamEvent{StreamID: m.ID, Event: json.RawMessage(m.Payload)})
	}
	writeJSON(w, http.StatusOK, out)
}
