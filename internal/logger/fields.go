package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across intake, dispatcher, staging, and the
// client queue so logs can be aggregated and queried by pipeline stage.
const (
	// ========================================================================
	// Request correlation
	// ========================================================================
	KeyRequestID = "request_id" // HTTP request ID for correlation
	KeyTraceID   = "trace_id"   // Trace ID propagated from the client

	// ========================================================================
	// Upload pipeline
	// ========================================================================
	KeyUserID     = "user_id"      // Owning user
	KeyFileID     = "file_id"      // Server-side File row identifier
	KeyBlobID     = "blob_id"      // Content-addressed blob identifier
	KeyTempBlobID = "temp_blob_id" // Temporary blob reference before registration
	KeyStagedKey  = "staged_key"   // Object-store staging key
	KeyFilename   = "filename"     // Original filename
	KeySize       = "size"         // Payload size in bytes
	KeyEpochs     = "epochs"       // Storage epochs purchased
	KeyPhase      = "phase"        // Dispatch phase: encode, register, upload, certify
	KeyAttempt    = "attempt"      // Retry attempt counter
	KeyStatus     = "status"       // Item or file status

	// ========================================================================
	// Chain & wallet
	// ========================================================================
	KeyWallet   = "wallet"   // Wallet address the operation binds to
	KeyDigest   = "digest"   // Transaction digest
	KeyRegistry = "registry" // On-chain registry object address
	KeyNetwork  = "network"  // testnet or mainnet

	// ========================================================================
	// Payments
	// ========================================================================
	KeyQuoteID   = "quote_id" // Payment quote identifier
	KeyAmountUSD = "amount_usd"
	KeyBalance   = "balance" // Balance after the operation

	// ========================================================================
	// Storage backend
	// ========================================================================
	KeyBucket = "bucket" // S3 bucket name
	KeyKey    = "key"    // Object key in staging storage
	KeyRegion = "region" // Cloud region

	// ========================================================================
	// Client identification
	// ========================================================================
	KeyClientIP = "client_ip"
	KeyUsername = "username"

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Error classification code
	KeyComponent  = "component"   // Component name: intake, dispatcher, staging
	KeyStatusCode = "status_code" // HTTP status code
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// RequestIDStr returns a slog.Attr for the HTTP request ID.
func RequestIDStr(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// UserID returns a slog.Attr for the owning user.
func UserID(id string) slog.Attr {
	return slog.String(KeyUserID, id)
}

// FileID returns a slog.Attr for a File row identifier.
func FileID(id string) slog.Attr {
	return slog.String(KeyFileID, id)
}

// BlobID returns a slog.Attr for a blob identifier.
func BlobID(id string) slog.Attr {
	return slog.String(KeyBlobID, id)
}

// StagedKey returns a slog.Attr for a staging object key.
func StagedKey(key string) slog.Attr {
	return slog.String(KeyStagedKey, key)
}

// Filename returns a slog.Attr for the original filename.
func Filename(name string) slog.Attr {
	return slog.String(KeyFilename, name)
}

// Size returns a slog.Attr for payload size in bytes.
func Size(s int64) slog.Attr {
	return slog.Int64(KeySize, s)
}

// Wallet returns a slog.Attr for a wallet address.
func Wallet(addr string) slog.Attr {
	return slog.String(KeyWallet, addr)
}

// Digest returns a slog.Attr for a transaction digest.
func Digest(d string) slog.Attr {
	return slog.String(KeyDigest, d)
}

// Phase returns a slog.Attr for the current dispatch phase.
func Phase(p string) slog.Attr {
	return slog.String(KeyPhase, p)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// QuoteID returns a slog.Attr for a payment quote identifier.
func QuoteID(id string) slog.Attr {
	return slog.String(KeyQuoteID, id)
}

// Key returns a slog.Attr for an object key in staging storage.
func Key(k string) slog.Attr {
	return slog.String(KeyKey, k)
}

// Bucket returns a slog.Attr for an S3 bucket name.
func Bucket(name string) slog.Attr {
	return slog.String(KeyBucket, name)
}

// ClientIP returns a slog.Attr for the client IP address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error, handling nil gracefully.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Component returns a slog.Attr naming the emitting component.
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}
