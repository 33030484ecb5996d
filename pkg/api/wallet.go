package api

import (
	"encoding/json"
	"net/http"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/quote"
)

// Balance reports the server wallet's on-chain funds. Gas and storage
// token balances are fetched independently; a single failed lookup
// degrades to zero rather than failing the endpoint.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.wallet == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "wallet not configured")
		return
	}

	sui, err := h.wallet.CoinBalance(ctx, SUICoinType)
	if err != nil {
		logger.Warn("SUI balance lookup failed", logger.Err(err))
		sui = 0
	}
	wal, err := h.wallet.CoinBalance(ctx, h.config.WALCoinType)
	if err != nil {
		logger.Warn("WAL balance lookup failed", logger.Err(err))
		wal = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": h.wallet.Address(),
		"network": h.config.Network,
		"balances": map[string]float64{
			"sui":   sui,
			"wal":   wal,
			"total": sui + wal,
		},
	})
}

// quoteRequest prices a set of files for one user.
type quoteRequest struct {
	UserID string           `json:"userId"`
	Files  []quote.FileSpec `json:"files"`
}

// MintQuote prices the file set and mints a single-use quote.
func (h *Handler) MintQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeErrorStatus(w, http.StatusBadRequest, "Missing required field userId")
		return
	}
	if len(req.Files) == 0 {
		writeErrorStatus(w, http.StatusBadRequest, "Missing required field files")
		return
	}

	q, err := h.quotes.Mint(r.Context(), req.UserID, req.Files)
	if err != nil {
		writeError(w, err)
		return
	}

	h.metrics.QuoteMinted()
	writeJSON(w, http.StatusOK, q)
}
