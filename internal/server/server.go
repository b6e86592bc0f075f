// Package server exposes the ledger engine over HTTP and websocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/streamwager/wagerd/internal/domain"
	"github.com/streamwager/wagerd/internal/server/handler"
	"github.com/streamwager/wagerd/internal/server/middleware"
	"github.com/streamwager/wagerd/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication

	// RateLimit caps requests per client IP per RateWindow. Zero disables
	// the limiter.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Optional
// handlers (Events, Bank) may be nil; their routes are then skipped.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Markets *handler.MarketHandler
	Bets    *handler.BetHandler
	Claims  *handler.ClaimHandler
	Admins  *handler.AdminHandler
	Events  *handler.EventsHandler
	Bank    *handler.BankHandler
}

// Server is the HTTP + websocket API server for the wager ledger.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer registers all routes on a ServeMux and wires the middleware
// chain: CORS, logging, rate limit, API key auth, caller extraction.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and status (no caller required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.Status)

	// Market lifecycle.
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/history", handlers.Markets.History)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/lock", handlers.Markets.LockMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.ResolveMarket)
	mux.HandleFunc("POST /api/markets/{id}/cancel", handlers.Markets.CancelMarket)
	mux.HandleFunc("GET /api/markets/{id}/stakes", handlers.Markets.ListStakes)
	mux.HandleFunc("GET /api/markets/{id}/payout", handlers.Markets.GetPayout)
	mux.HandleFunc("GET /api/markets/{id}/refund", handlers.Markets.GetRefund)
	mux.HandleFunc("GET /api/accounts/stakes", handlers.Markets.AccountStakes)
	mux.HandleFunc("GET /api/audit", handlers.Markets.AuditLog)

	// Wagering and claims.
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Bets.PlaceBet)
	mux.HandleFunc("GET /api/markets/{id}/bets", handlers.Bets.GetStake)
	mux.HandleFunc("POST /api/markets/{id}/claims/winnings", handlers.Claims.ClaimWinnings)
	mux.HandleFunc("POST /api/markets/{id}/claims/refund", handlers.Claims.ClaimRefund)

	// Delegated administrators.
	mux.HandleFunc("POST /api/admins", handlers.Admins.Grant)
	mux.HandleFunc("DELETE /api/admins/{candidate}", handlers.Admins.Revoke)
	mux.HandleFunc("GET /api/admins", handlers.Admins.List)

	// Event catch-up reads.
	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.List)
	}

	// Faucet, bank mode only.
	if handlers.Bank != nil {
		mux.HandleFunc("POST /api/bank/deposit", handlers.Bank.Deposit)
		mux.HandleFunc("GET /api/bank/balance", handlers.Bank.Balance)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Caller()(h)
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start listens for HTTP requests and blocks until shutdown or error.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

// Handler returns the fully wired handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// corsMiddleware sets CORS headers for allowed origins; an empty list allows
// all origins.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if strings.EqualFold(o, "*") || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Caller-Account")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
