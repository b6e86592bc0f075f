package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/streamwager/wagerd/internal/domain"
	"github.com/streamwager/wagerd/internal/server/middleware"
)

// writeJSON marshals v and writes it with the given status. Marshal failure
// falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps ledger error kinds to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrMarketNotFound), errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrNothingToClaim):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidOption),
		errors.Is(err, domain.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrTransferFailed):
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}

// requireCaller returns the acting account or writes a 400.
func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	account, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusBadRequest, "missing X-Caller-Account header")
		return "", false
	}
	return account, true
}

// marketIDParam parses the {id} path parameter.
func marketIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return 0, false
	}
	return id, true
}

// parseListOpts extracts pagination from the query string.
// Defaults: limit=50, max 500, offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// decodeBody decodes a JSON request body into dst, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
