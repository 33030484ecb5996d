package walrus

import (
	"errors"
	"regexp"
	"strings"
)

// ErrTipTooLow marks a relay register rejected for an insufficient tip.
// The dispatcher falls back to the direct write path on this error.
var ErrTipTooLow = errors.New("walrus: relay tip too low")

// confirmationPattern extracts the blob id from the storage-node error
// raised when a write certifies before enough confirmations are gathered.
// The blob is durable at that point, only the acknowledgement is late.
var confirmationPattern = regexp.MustCompile(`NotEnoughBlobConfirmations(?:Error)?:?\s+blob\s+(\S+)\s+to nodes`)

// ParseConfirmationTimeout reports whether err is a confirmation-count
// failure and, if so, returns the blob id embedded in the message.
func ParseConfirmationTimeout(err error) (blobID string, ok bool) {
	if err == nil {
		return "", false
	}
	m := confirmationPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsTipTooLow reports whether err is the relay's tip rejection, either as
// the sentinel or as a message from the relay itself.
func IsTipTooLow(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTipTooLow) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tip too low") || strings.Contains(msg, "tip_too_low") ||
		strings.Contains(msg, "insufficient tip")
}

// IsTransient reports whether err looks like a transport-level failure the
// caller may retry: timeouts, resets, node 5xx.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"broken pipe",
		"epipe",
		"eof",
		"http 5",
		"service unavailable",
		"bad gateway",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
