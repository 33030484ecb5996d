package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/staging"
)

// Liveness is the basic liveness probe. Always healthy while the process
// serves requests.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "walrusd",
	}))
}

// Readiness reports whether the server can accept uploads: the database
// must answer and the staging store must be reachable. A disabled staging
// store is reported but does not flip readiness; quote and balance
// endpoints still work without it.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("database unreachable: "+err.Error()))
		return
	}

	stagingStatus := "ok"
	if _, err := h.staging.Head(ctx, "healthz/probe"); err != nil {
		if errors.Is(err, staging.ErrDisabled) {
			stagingStatus = "disabled"
		} else {
			stagingStatus = "error: " + err.Error()
		}
	}

	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"database": "ok",
		"staging":  stagingStatus,
	}))
}
