package broker

import "time"

// Receipt is the intake's synchronous answer to a successful upload POST.
// Receiving it is the client's signal that it may drop its local bytes.
type Receipt struct {
	FileID     string `json:"fileId"`
	BlobID     string `json:"blobId,omitempty"`
	TempBlobID string `json:"tempBlobId"`
	S3Key      string `json:"s3Key"`
	UploadMode string `json:"uploadMode"`
}

// DispatchResult carries the identifiers produced by a completed dispatch.
type DispatchResult struct {
	BlobID       string `json:"blobId"`
	BlobObjectID string `json:"blobObjectId"`
}

// QuoteLine prices a single file inside a quote.
type QuoteLine struct {
	TempID      string  `json:"tempId"`
	SizeMiB     float64 `json:"sizeMiB"`
	Epochs      int     `json:"epochs"`
	StorageDays int     `json:"storageDays"`
	CostSUI     float64 `json:"costSUI"`
	CostUSD     float64 `json:"costUSD"`
}

// Quote is a short-lived, single-use record binding a price to a user, a
// file set, and a time window. Expiry is strict; consumption is atomic.
type Quote struct {
	QuoteID        string      `json:"quoteId"`
	UserID         string      `json:"userId"`
	PerFile        []QuoteLine `json:"perFile"`
	TotalCostUSD   float64     `json:"totalCostUSD"`
	TotalCostSUI   float64     `json:"totalCostSUI"`
	FallbackPrices bool        `json:"fallbackPrices,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	ExpiresAt      time.Time   `json:"expiresAt"`
}

// Expired reports whether the quote is past its window at the given instant.
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}
