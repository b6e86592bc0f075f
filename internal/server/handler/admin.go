package handler

import (
	"log/slog"
	"net/http"

	"github.com/streamwager/wagerd/internal/engine"
)

// AdminHandler serves the delegated-administrator endpoints. The caller is
// always the granting owner; grants are scoped to that owner's markets.
type AdminHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(eng *engine.Engine, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{engine: eng, logger: logger}
}

type grantRequest struct {
	Candidate string `json:"candidate"`
}

// Grant authorizes a candidate to manage the caller's markets.
// POST /api/admins
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.engine.Grant(r.Context(), caller, req.Candidate); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":     caller,
		"candidate": req.Candidate,
		"granted":   true,
	})
}

// Revoke removes a candidate's administrator rights over the caller's
// markets.
// DELETE /api/admins/{candidate}
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	candidate := r.PathValue("candidate")
	if err := h.engine.Revoke(r.Context(), caller, candidate); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":     caller,
		"candidate": candidate,
		"granted":   false,
	})
}

// List returns the caller's current administrators.
// GET /api/admins
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	admins := h.engine.Admins(caller)
	if admins == nil {
		admins = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":  caller,
		"admins": admins,
	})
}
