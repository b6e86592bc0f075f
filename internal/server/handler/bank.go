package handler

import (
	"log/slog"
	"net/http"

	"github.com/streamwager/wagerd/internal/settlement"
)

// BankHandler serves the faucet and balance endpoints available when the
// in-memory bank backs settlement. On-chain deployments do not register
// these routes.
type BankHandler struct {
	bank   *settlement.Bank
	logger *slog.Logger
}

// NewBankHandler creates a BankHandler.
func NewBankHandler(bank *settlement.Bank, logger *slog.Logger) *BankHandler {
	return &BankHandler{bank: bank, logger: logger}
}

type depositRequest struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// Deposit adds funds to an account.
// POST /api/bank/deposit
func (h *BankHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Account == "" || req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "account and a non-zero amount are required")
		return
	}
	balance := h.bank.Deposit(req.Account, req.Amount)
	writeJSON(w, http.StatusOK, map[string]any{
		"account": req.Account,
		"balance": balance,
	})
}

// Balance returns the caller's bank balance.
// GET /api/bank/balance
func (h *BankHandler) Balance(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account": caller,
		"balance": h.bank.Balance(caller),
	})
}
