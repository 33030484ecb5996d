package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/envelope"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/staging"
)

// downloadRequest asks for one blob's bytes. UserID and Filename are
// optional; when both are present the staged copy is tried before the
// storage network.
type downloadRequest struct {
	BlobID   string `json:"blobId"`
	UserID   string `json:"userId,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Download streams a blob, staging-first. Encrypted payloads are returned
// sealed; the client holds the keys. Legacy envelope formats are detected
// and split so old clients get the header out of band.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BlobID == "" {
		writeErrorStatus(w, http.StatusBadRequest, "Missing required field blobId")
		return
	}

	var data []byte
	source := "staging"
	if req.UserID != "" && req.Filename != "" {
		key := staging.FinalKey(req.UserID, req.BlobID, req.Filename)
		if staged, err := h.staging.Get(ctx, key); err == nil {
			data = staged
		}
	}
	if data == nil {
		source = "network"
		fetched, err := h.blobs.ReadBlob(ctx, req.BlobID)
		if err != nil {
			writeErrorStatus(w, http.StatusNotFound, "blob not found")
			return
		}
		data = fetched
	}

	logger.Debug("download served",
		logger.BlobID(req.BlobID), logger.Size(int64(len(data))), "source", source)

	if req.Filename != "" {
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", staging.SanitizeHeaderValue(req.Filename)))
	}
	w.Header().Set("Content-Type", "application/octet-stream")

	if envelope.IsLegacy(data) {
		header, ciphertext, err := envelope.ParseLegacy(data)
		if err == nil {
			w.Header().Set("X-Envelope-Version", fmt.Sprintf("%d", header.Version))
			if header.Algorithm != "" {
				w.Header().Set("X-Envelope-Algorithm", header.Algorithm)
			}
			if header.IV != "" {
				w.Header().Set("X-Envelope-IV", header.IV)
			}
			_, _ = w.Write(ciphertext)
			return
		}
	}
	_, _ = w.Write(data)
}

// Verify reports whether a blob is retrievable from the storage network.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	blobID := r.URL.Query().Get("blobId")
	if blobID == "" {
		writeErrorStatus(w, http.StatusBadRequest, "Missing required field blobId")
		return
	}

	exists, err := h.blobs.Exists(r.Context(), blobID)
	message := "blob is certified and retrievable"
	if err != nil {
		message = "verification inconclusive: " + err.Error()
	} else if !exists {
		message = "blob not found on the storage network"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"exists":  exists,
		"blobId":  blobID,
		"message": message,
	})
}
