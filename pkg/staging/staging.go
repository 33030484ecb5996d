// Package staging defines the narrow capability over the temporary object
// store that holds upload bytes between intake and the successful completion
// of the chain protocol. Two implementations exist: an S3-backed store for
// production and an in-memory store for tests.
package staging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RetentionWindow is how long staged objects stay alive without a touch.
// Every Put and every Get refresh pushes the expiry out by this window.
const RetentionWindow = 14 * 24 * time.Hour

var (
	// ErrNotFound indicates the staged object does not exist.
	ErrNotFound = errors.New("staging: object not found")

	// ErrDisabled indicates the store has no credentials and cannot accept
	// writes. Callers treat this as StagingUnavailable and may fall back to
	// an in-memory buffer for direct dispatch.
	ErrDisabled = errors.New("staging: store disabled, credentials unavailable")
)

// Metadata travels with every staged object.
type Metadata struct {
	ContentType string
	Filename    string
	Encrypted   bool      // payload was sealed client-side
	UploadedAt  time.Time // zero means now
}

// Store is the staging capability. All keys are pre-sanitized by the key
// helpers below; implementations must not re-interpret them.
type Store interface {
	// Put writes the object with lifecycle metadata (expires-at now+14d,
	// lifecycle=temporary).
	Put(ctx context.Context, key string, data []byte, meta Metadata) error

	// Get returns the object bytes. Implementations refresh the object's
	// last-accessed-at and expires-at asynchronously; a failed refresh is
	// logged and swallowed.
	Get(ctx context.Context, key string) ([]byte, error)

	// Head reports whether the object exists.
	Head(ctx context.Context, key string) (bool, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Touch refreshes the object's lifecycle tags without reading it.
	Touch(ctx context.Context, key string) error

	// Rename moves the object by copy-and-delete, preserving metadata and
	// refreshing expires-at. Used when the real blob id becomes known.
	Rename(ctx context.Context, oldKey, newKey string) error
}

// PendingKey builds the staging key for bytes whose blob id is not yet known.
func PendingKey(userID, tempBlobID, filename string) string {
	return fmt.Sprintf("%s/pending/%s/%s",
		SanitizeKeyPart(userID), SanitizeKeyPart(tempBlobID), SanitizeKeyPart(filename))
}

// FinalKey builds the staging key once the blob id is known.
func FinalKey(userID, blobID, filename string) string {
	return fmt.Sprintf("%s/%s/%s",
		SanitizeKeyPart(userID), SanitizeKeyPart(blobID), SanitizeKeyPart(filename))
}

// SanitizeKeyPart maps every byte outside [a-zA-Z0-9._-] to '_' so keys stay
// portable across object-store backends.
func SanitizeKeyPart(part string) string {
	var b strings.Builder
	b.Grow(len(part))
	for _, r := range part {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// SanitizeHeaderValue strips control and non-ASCII characters from metadata
// header values. S3 user metadata must be printable ASCII.
func SanitizeHeaderValue(v string) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, r := range v {
		if r >= 0x20 && r < 0x7f {
			b.WriteRune(r)
		}
	}
	return b.String()
}
