package api

import (
	"encoding/json"
	"net/http"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
)

// clientMetric is one client-reported timing sample.
type clientMetric struct {
	Kind       string  `json:"kind"`
	Filename   string  `json:"filename,omitempty"`
	DurationMs float64 `json:"durationMs"`
	Bytes      int64   `json:"bytes,omitempty"`
	Ts         int64   `json:"ts,omitempty"`
	Lazy       bool    `json:"lazy,omitempty"`
	Encrypted  bool    `json:"encrypted,omitempty"`
}

// IngestClientMetrics records client-side timing samples into the
// Prometheus histograms. Malformed samples are dropped, never erred: the
// client's upload path must not depend on its telemetry path.
func (h *Handler) IngestClientMetrics(w http.ResponseWriter, r *http.Request) {
	var sample clientMetric
	if err := json.NewDecoder(r.Body).Decode(&sample); err == nil && sample.Kind != "" {
		h.metrics.ObserveClientTiming(sample.Kind, sample.DurationMs)
		logger.Debug("client metric ingested",
			"kind", sample.Kind,
			logger.Filename(sample.Filename),
			logger.DurationMs(sample.DurationMs),
			logger.Size(sample.Bytes))
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// DispatchStats exposes a point-in-time dispatcher snapshot for operators.
func (h *Handler) DispatchStats(w http.ResponseWriter, r *http.Request) {
	if h.dispatcher == nil {
		writeErrorStatus(w, http.StatusServiceUnavailable, "dispatcher not running")
		return
	}
	writeJSON(w, http.StatusOK, h.dispatcher.Stats())
}
