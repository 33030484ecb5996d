package broker

// FileStatus is the server-side lifecycle state of a staged file.
type FileStatus string

const (
	// FilePending means the bytes are staged and payment is taken, but the
	// chain protocol has not started.
	FilePending FileStatus = "pending"

	// FileProcessing means a dispatcher currently owns the file.
	FileProcessing FileStatus = "processing"

	// FileCompleted means the blob is certified and registered. A completed
	// file always carries a non-empty blob id.
	FileCompleted FileStatus = "completed"

	// FileFailed is terminal: the protocol failed non-retriably.
	FileFailed FileStatus = "failed"
)

// IsValid checks if the status is a known FileStatus.
func (s FileStatus) IsValid() bool {
	switch s {
	case FilePending, FileProcessing, FileCompleted, FileFailed:
		return true
	}
	return false
}

// Dispatchable reports whether a dispatcher may pick the file up.
// Failed files stay dispatchable so an operator retry can resume them.
func (s FileStatus) Dispatchable() bool {
	return s == FilePending || s == FileFailed
}

// UploadStatus is the client-side lifecycle state of a queued upload.
type UploadStatus string

const (
	// UploadQueued means the item waits its turn in the client queue.
	UploadQueued UploadStatus = "queued"

	// UploadUploading means the item's POST to the intake is in flight.
	UploadUploading UploadStatus = "uploading"

	// UploadRetrying means a retryable failure occurred and the item waits
	// out its backoff delay before requeueing.
	UploadRetrying UploadStatus = "retrying"

	// UploadDone means the intake acknowledged the receipt; the item is
	// removed shortly after.
	UploadDone UploadStatus = "done"

	// UploadError is terminal until the user retries explicitly.
	UploadError UploadStatus = "error"
)

// IsValid checks if the status is a known UploadStatus.
func (s UploadStatus) IsValid() bool {
	switch s {
	case UploadQueued, UploadUploading, UploadRetrying, UploadDone, UploadError:
		return true
	}
	return false
}

// Terminal reports whether the client queue scheduler should skip the item.
func (s UploadStatus) Terminal() bool {
	return s == UploadDone || s == UploadError
}

// TransactionType distinguishes ledger entries.
type TransactionType string

const (
	// TransactionCredit is a balance top-up from external billing.
	TransactionCredit TransactionType = "credit"

	// TransactionDebit is an upload payment.
	TransactionDebit TransactionType = "debit"
)
