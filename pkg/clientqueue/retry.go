package clientqueue

import (
	"errors"
	"strings"
	"time"
)

const (
	// backoffBase and backoffCap bound the retry schedule.
	backoffBase = 10 * time.Second
	backoffCap  = 60 * time.Second

	// baseUploadTimeout is the floor for one intake request; large files
	// get an extra second per MiB on top of it.
	baseUploadTimeout = 60 * time.Second
)

// UploadError is a failure the intake reported with an HTTP status.
// Status 0 means the request never got a response.
type UploadError struct {
	StatusCode int
	Message    string
}

func (e *UploadError) Error() string {
	return e.Message
}

// StatusCodeOf extracts the HTTP status from an upload failure, 0 when
// the error carries none.
func StatusCodeOf(err error) int {
	var ue *UploadError
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	return 0
}

// Backoff returns the wait before retry n (1-based):
// min(10s × 2^(n-1), 60s).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// UploadTimeout scales the intake request deadline with payload size:
// max(60s, 60s + 1s per MiB).
func UploadTimeout(sizeBytes int64) time.Duration {
	mib := sizeBytes / (1 << 20)
	timeout := baseUploadTimeout + time.Duration(mib)*time.Second
	if timeout < baseUploadTimeout {
		return baseUploadTimeout
	}
	return timeout
}

// nonRetryableMarkers are server verdicts a retry cannot change.
var nonRetryableMarkers = []string{
	"insufficient balance",
	"file too large",
	"missing required",
	"aborted",
}

// retryableMarkers are transport-level symptoms worth another attempt.
var retryableMarkers = []string{
	"timeout",
	"network",
	"unreachable",
	"server may be down",
	"connection refused",
	"econnreset",
	"etimedout",
	"temporarily unavailable",
}

// Retryable decides whether a failed upload goes to retrying or error.
// The server's explicit verdicts win; everything else retries, whether
// recognized by status class, by transport symptom, or not at all. The
// attempt cap bounds how long an unknown failure keeps retrying.
func Retryable(err error, statusCode int) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}

	switch {
	case statusCode == 0, statusCode == 408, statusCode == 429:
		return true
	case statusCode >= 500:
		return true
	}

	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return true
}
