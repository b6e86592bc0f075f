package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/streamwager/wagerd/internal/domain"
	"github.com/streamwager/wagerd/internal/engine"
	"github.com/streamwager/wagerd/internal/server/handler"
	"github.com/streamwager/wagerd/internal/settlement"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *settlement.Bank) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))

	bank := settlement.NewBank(map[string]uint64{
		"streamer": 1000,
		"viewer":   100,
		"rival":    100,
	}, logger)
	eng := engine.New(engine.Config{Transfer: bank, Logger: logger})

	handlers := Handlers{
		Health:  handler.NewHealthHandler(logger),
		Status:  handler.NewStatusHandler(eng, "serve", time.Now(), logger),
		Markets: handler.NewMarketHandler(eng, nil, logger),
		Bets:    handler.NewBetHandler(eng, logger),
		Claims:  handler.NewClaimHandler(eng, logger),
		Admins:  handler.NewAdminHandler(eng, logger),
		Bank:    handler.NewBankHandler(bank, logger),
	}
	return NewServer(Config{Port: 0, APIKey: apiKey}, handlers, nil, nil, logger), bank
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func doReq(t *testing.T, srv *Server, method, path, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if caller != "" {
		req.Header.Set("X-Caller-Account", caller)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doReq(t, srv, http.MethodGet, "/api/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	srv, _ := newTestServer(t, "sekrit")

	rec := doReq(t, srv, http.MethodGet, "/api/markets", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/markets", nil)
	req.Header.Set("X-API-Key", "sekrit")
	out := httptest.NewRecorder()
	srv.Handler().ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Errorf("with key: status = %d, want 200", out.Code)
	}
}

func TestCreateMarketRequiresCaller(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doReq(t, srv, http.MethodPost, "/api/markets", "",
		`{"title":"t","outcomes":["a","b"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMarketLifecycleOverHTTP(t *testing.T) {
	srv, bank := newTestServer(t, "")

	// Create.
	rec := doReq(t, srv, http.MethodPost, "/api/markets", "streamer",
		`{"title":"Will I win?","outcomes":["Yes","No"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body)
	}
	var m domain.Market
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("create: decode: %v", err)
	}
	base := fmt.Sprintf("/api/markets/%d", m.ID)

	// Bets.
	rec = doReq(t, srv, http.MethodPost, base+"/bets", "viewer", `{"outcome":1,"amount":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("bet: status = %d, body %s", rec.Code, rec.Body)
	}
	rec = doReq(t, srv, http.MethodPost, base+"/bets", "rival", `{"outcome":2,"amount":10}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("bet: status = %d, body %s", rec.Code, rec.Body)
	}

	// Zero amount is rejected.
	rec = doReq(t, srv, http.MethodPost, base+"/bets", "viewer", `{"outcome":1,"amount":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero bet: status = %d, want 400", rec.Code)
	}

	// Stranger cannot lock.
	rec = doReq(t, srv, http.MethodPost, base+"/lock", "viewer", "")
	if rec.Code != http.StatusForbidden {
		t.Errorf("lock by viewer: status = %d, want 403", rec.Code)
	}

	// Lock, then bets are rejected with a conflict.
	rec = doReq(t, srv, http.MethodPost, base+"/lock", "streamer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("lock: status = %d, body %s", rec.Code, rec.Body)
	}
	rec = doReq(t, srv, http.MethodPost, base+"/bets", "viewer", `{"outcome":1,"amount":1}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("bet on locked: status = %d, want 409", rec.Code)
	}

	// Resolve and claim.
	rec = doReq(t, srv, http.MethodPost, base+"/resolve", "streamer", `{"outcome":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status = %d, body %s", rec.Code, rec.Body)
	}

	rec = doReq(t, srv, http.MethodGet, base+"/payout", "viewer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("payout view: status = %d", rec.Code)
	}
	var view struct {
		Payout uint64 `json:"payout"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Payout != 20 {
		t.Errorf("payout view = %d, want 20", view.Payout)
	}

	rec = doReq(t, srv, http.MethodPost, base+"/claims/winnings", "viewer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("claim: status = %d, body %s", rec.Code, rec.Body)
	}
	if got := bank.Balance("viewer"); got != 110 {
		t.Errorf("viewer balance = %d, want 110", got)
	}

	// Second claim conflicts.
	rec = doReq(t, srv, http.MethodPost, base+"/claims/winnings", "viewer", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("double claim: status = %d, want 409", rec.Code)
	}

	// Loser has nothing to claim.
	rec = doReq(t, srv, http.MethodPost, base+"/claims/winnings", "rival", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("loser claim: status = %d, want 409", rec.Code)
	}
}

func TestUnknownMarketIs404(t *testing.T) {
	srv, _ := newTestServer(t, "")
	rec := doReq(t, srv, http.MethodGet, "/api/markets/999", "viewer", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestAdminEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, "")

	rec := doReq(t, srv, http.MethodPost, "/api/admins", "streamer", `{"candidate":"mod"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("grant: status = %d, body %s", rec.Code, rec.Body)
	}

	rec = doReq(t, srv, http.MethodGet, "/api/admins", "streamer", "")
	var listing struct {
		Admins []string `json:"admins"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatal(err)
	}
	if len(listing.Admins) != 1 || listing.Admins[0] != "mod" {
		t.Errorf("admins = %v, want [mod]", listing.Admins)
	}

	// The granted mod can create a market for the streamer.
	rec = doReq(t, srv, http.MethodPost, "/api/markets", "mod",
		`{"owner":"streamer","title":"t","outcomes":["a","b"]}`)
	if rec.Code != http.StatusCreated {
		t.Errorf("mod create: status = %d, body %s", rec.Code, rec.Body)
	}

	rec = doReq(t, srv, http.MethodDelete, "/api/admins/mod", "streamer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: status = %d", rec.Code)
	}
	rec = doReq(t, srv, http.MethodPost, "/api/markets", "mod",
		`{"owner":"streamer","title":"t2","outcomes":["a","b"]}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("revoked mod create: status = %d, want 403", rec.Code)
	}
}

func TestBankEndpoints(t *testing.T) {
	srv, bank := newTestServer(t, "")

	rec := doReq(t, srv, http.MethodPost, "/api/bank/deposit", "", `{"account":"new","amount":50}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit: status = %d, body %s", rec.Code, rec.Body)
	}
	if got := bank.Balance("new"); got != 50 {
		t.Errorf("balance = %d, want 50", got)
	}

	rec = doReq(t, srv, http.MethodGet, "/api/bank/balance", "new", "")
	var bal struct {
		Balance uint64 `json:"balance"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &bal); err != nil {
		t.Fatal(err)
	}
	if bal.Balance != 50 {
		t.Errorf("balance = %d, want 50", bal.Balance)
	}
}

func TestRefundOverHTTP(t *testing.T) {
	srv, bank := newTestServer(t, "")

	rec := doReq(t, srv, http.MethodPost, "/api/markets", "streamer",
		`{"title":"t","outcomes":["a","b"]}`)
	var m domain.Market
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	base := fmt.Sprintf("/api/markets/%d", m.ID)

	doReq(t, srv, http.MethodPost, base+"/bets", "viewer", `{"outcome":1,"amount":3}`)
	doReq(t, srv, http.MethodPost, base+"/bets", "viewer", `{"outcome":2,"amount":4}`)

	rec = doReq(t, srv, http.MethodPost, base+"/cancel", "streamer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status = %d", rec.Code)
	}

	rec = doReq(t, srv, http.MethodPost, base+"/claims/refund", "viewer", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("refund: status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Refund uint64 `json:"refund"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Refund != 7 {
		t.Errorf("refund = %d, want 7", resp.Refund)
	}
	if got := bank.Balance("viewer"); got != 100 {
		t.Errorf("viewer balance = %d, want 100", got)
	}
}
