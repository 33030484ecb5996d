package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
)

// Response is the standard error and health envelope. Success payloads
// defined by the API contract (receipts, quotes, verification results) are
// written as-is so clients get the documented shape.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
//
// Encoding is done to a buffer first so an encoding failure can still
// produce an error response before headers are sent.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", logger.Err(err))
		http.Error(w, `{"status":"error","error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// writeError maps a pipeline error to its HTTP status and error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := broker.CodeOf(err)
	msg := err.Error()

	// Clients classify this verdict by message; keep the canonical phrase
	// in front of the detail.
	if code == broker.CodeInsufficientBalance {
		msg = "Insufficient balance: " + msg
	}

	writeErrorStatus(w, code.HTTPStatus(), msg)
}

// writeErrorStatus writes an error envelope with an explicit status, for
// the intake verdicts whose status is not derivable from an error code
// (413 too large, 415 disallowed extension).
func writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Response{
		Status:    "error",
		Timestamp: time.Now().UTC(),
		Error:     msg,
	})
}

// healthyResponse creates a successful health check response.
func healthyResponse(data interface{}) Response {
	return Response{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// unhealthyResponse creates a failed health check response.
func unhealthyResponse(errMsg string) Response {
	return Response{
		Status:    "unhealthy",
		Timestamp: time.Now().UTC(),
		Error:     errMsg,
	}
}
