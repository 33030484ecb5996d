package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/dispatcher"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/quote"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/staging"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store/models"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/sui"
)

// allowedExtensions is the fixed intake allow-list: documents, images,
// video, audio, archives, office, markup.
var allowedExtensions = map[string]bool{
	".pdf": true, ".txt": true, ".md": true, ".rtf": true, ".csv": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".svg": true, ".bmp": true, ".tiff": true, ".heic": true,
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
	".mp3": true, ".wav": true, ".flac": true, ".ogg": true, ".m4a": true,
	".zip": true, ".tar": true, ".gz": true, ".7z": true, ".rar": true,
	".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".odt": true, ".ods": true,
	".html": true, ".xml": true, ".json": true, ".yaml": true, ".yml": true,
}

// multipartMemory is the in-memory threshold for multipart parsing; the
// rest spills to temp files.
const multipartMemory = 32 << 20

// Upload is the multipart intake endpoint.
//
// It stages the bytes, settles payment (consuming the quote when one is
// referenced), inserts the pending File row, and answers with the receipt
// that lets the client drop its local copy. The chain protocol itself is
// the dispatcher's job.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.ObserveIntake("rejected", 0)
			writeErrorStatus(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		h.metrics.ObserveIntake("rejected", 0)
		writeErrorStatus(w, http.StatusBadRequest, "malformed multipart form")
		return
	}

	userID := r.FormValue("userId")
	if userID == "" {
		h.metrics.ObserveIntake("rejected", 0)
		writeErrorStatus(w, http.StatusBadRequest, "Missing required field userId")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.metrics.ObserveIntake("rejected", 0)
		writeErrorStatus(w, http.StatusBadRequest, "Missing required field file")
		return
	}
	defer file.Close()

	filename := header.Filename
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		h.metrics.ObserveIntake("rejected", 0)
		writeErrorStatus(w, http.StatusUnsupportedMediaType, "file extension "+ext+" is not allowed")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.metrics.ObserveIntake("rejected", 0)
		writeErrorStatus(w, http.StatusBadRequest, "could not read upload payload")
		return
	}
	if int64(len(data)) > h.config.MaxUploadBytes {
		h.metrics.ObserveIntake("rejected", 0)
		writeErrorStatus(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	user, err := h.store.GetUserByID(ctx, userID)
	if err != nil {
		h.metrics.ObserveIntake("rejected", 0)
		writeErrorStatus(w, http.StatusNotFound, "user not found")
		return
	}

	// A submitted key links the user's wallet so dispatch records them as
	// the on-chain owner. Only the derived address is kept; the key itself
	// is never persisted.
	if keyHex := r.FormValue("userPrivateKey"); keyHex != "" {
		addr, err := sui.AddressFromPrivateKey(keyHex)
		if err != nil {
			h.metrics.ObserveIntake("rejected", 0)
			writeErrorStatus(w, http.StatusBadRequest, "invalid userPrivateKey")
			return
		}
		if user.WalletAddress != addr {
			if err := h.store.UpdateUserWallet(ctx, userID, addr); err != nil {
				logger.Warn("could not link wallet", logger.UserID(userID), logger.Err(err))
			} else {
				user.WalletAddress = addr
			}
		}
	}

	epochs := quote.DefaultEpochs
	if v := r.FormValue("epochs"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			epochs = n
		}
	}
	encrypted := r.FormValue("clientSideEncrypted") == "true"

	// Stage the bytes under the pending key.
	tempBlobID := "temp_" + uuid.NewString()
	stagedKey := staging.PendingKey(userID, tempBlobID, filename)
	meta := staging.Metadata{
		ContentType: header.Header.Get("Content-Type"),
		Filename:    filename,
		Encrypted:   encrypted,
	}
	if err := h.staging.Put(ctx, stagedKey, data, meta); err != nil {
		h.metrics.ObserveIntake("staging_error", 0)
		if errors.Is(err, staging.ErrDisabled) {
			writeError(w, broker.WrapError(broker.CodeStagingUnavailable, "staging store unavailable", err))
			return
		}
		writeErrorStatus(w, http.StatusInternalServerError, "staging write failed")
		return
	}

	// Settle payment before the row exists, so a pending File always
	// represents paid-for bytes.
	amountUSD, err := h.settlePayment(ctx, r, userID, int64(len(data)), epochs)
	if err != nil {
		_ = h.staging.Delete(ctx, stagedKey)
		h.metrics.ObserveIntake("rejected", 0)
		writeError(w, err)
		return
	}

	fileID := r.FormValue("fileId")
	if fileID == "" {
		fileID = uuid.NewString()
	}
	record := &models.File{
		ID:         fileID,
		UserID:     userID,
		Filename:   filename,
		SizeBytes:  int64(len(data)),
		Epochs:     epochs,
		TempBlobID: tempBlobID,
		StagedKey:  stagedKey,
		Encrypted:  encrypted,
		FolderID:   r.FormValue("folderId"),
	}
	if _, err := h.store.CreateFile(ctx, record); err != nil {
		_ = h.staging.Delete(ctx, stagedKey)
		h.metrics.ObserveIntake("rejected", 0)
		writeErrorStatus(w, http.StatusInternalServerError, "could not record upload")
		return
	}

	// Registry creation is a side effect; never holds up the receipt.
	h.ensureRegistryAsync(user)

	h.metrics.ObserveIntake("accepted", int64(len(data)))
	logger.Info("upload staged",
		logger.UserID(userID), logger.FileID(fileID), logger.Filename(filename),
		logger.Size(int64(len(data))), "amount_usd", amountUSD)

	writeJSON(w, http.StatusOK, broker.Receipt{
		FileID:     fileID,
		TempBlobID: tempBlobID,
		S3Key:      stagedKey,
		UploadMode: "async",
	})
}

// settlePayment consumes the referenced quote or prices the upload just in
// time, then deducts the amount from the user's balance.
func (h *Handler) settlePayment(ctx context.Context, r *http.Request, userID string, sizeBytes int64, epochs int) (float64, error) {
	var amountUSD float64

	switch {
	case r.FormValue("quoteId") != "":
		q, err := h.quotes.Consume(r.FormValue("quoteId"), userID)
		if err != nil {
			h.metrics.QuoteConsumed(false)
			return 0, err
		}
		h.metrics.QuoteConsumed(true)
		amountUSD = q.TotalCostUSD

	case r.FormValue("paymentAmount") != "":
		v, err := strconv.ParseFloat(r.FormValue("paymentAmount"), 64)
		if err != nil || v <= 0 {
			return 0, broker.NewError(broker.CodeInputInvalid, "invalid paymentAmount")
		}
		amountUSD = v

	default:
		snap, err := h.prices.Spot(ctx)
		if err != nil {
			return 0, broker.WrapError(broker.CodeUnknown, "pricing unavailable", err)
		}
		amountUSD = quote.Estimate(sizeBytes, epochs, snap).CostUSD
	}

	if _, err := h.ledger.Deduct(ctx, userID, amountUSD, "Upload charge"); err != nil {
		return 0, err
	}
	return amountUSD, nil
}

// ensureRegistryAsync kicks off registry resolution for the user's wallet
// in the background so the first dispatch does not pay the creation wait.
func (h *Handler) ensureRegistryAsync(user *models.User) {
	if h.registry == nil || user.WalletAddress == "" {
		return
	}
	wallet := user.WalletAddress
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if _, err := h.registry.EnsureRegistry(ctx, wallet); err != nil {
			logger.Warn("background registry resolution failed",
				logger.Wallet(wallet), logger.Err(err))
		}
	}()
}

// processAsyncRequest is the dispatch-one request body.
type processAsyncRequest struct {
	FileID     string `json:"fileId"`
	S3Key      string `json:"s3Key"`
	TempBlobID string `json:"tempBlobId"`
	UserID     string `json:"userId"`
	Epochs     int    `json:"epochs"`
}

// ProcessAsync dispatches one staged file through the chain protocol and
// waits for the outcome.
//
// Answers 404 when the file is unknown, 409 when it already completed
// (double triggers are no-ops, never duplicate chain transactions), and
// 504 when the dispatch deadline lapses with the protocol still running.
func (h *Handler) ProcessAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req processAsyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileID == "" {
		writeErrorStatus(w, http.StatusBadRequest, "Missing required field fileId")
		return
	}

	file, err := h.store.GetFile(ctx, req.FileID)
	if err != nil {
		writeErrorStatus(w, http.StatusNotFound, "file not found")
		return
	}
	if file.Status == broker.FileCompleted {
		writeErrorStatus(w, http.StatusConflict, "file already completed")
		return
	}

	if err := h.enqueueDispatch(ctx, file); err != nil {
		writeError(w, err)
		return
	}

	final, err := h.awaitDispatch(ctx, file.ID, h.config.DispatchWait)
	if err != nil {
		writeError(w, err)
		return
	}

	blobID := ""
	if final.BlobID != nil {
		blobID = *final.BlobID
	}
	writeJSON(w, http.StatusOK, broker.DispatchResult{
		BlobID:       blobID,
		BlobObjectID: final.BlobObjectID,
	})
}

// enqueueDispatch posts the file onto the server signer's dispatch queue.
// The job wallet names the on-chain owner: the file owner's when one is
// linked, the server's otherwise.
func (h *Handler) enqueueDispatch(ctx context.Context, file *models.File) error {
	wallet := ""
	if user, err := h.store.GetUserByID(ctx, file.UserID); err == nil {
		wallet = user.WalletAddress
	}
	return h.dispatcher.Enqueue(dispatcher.Job{
		FileID: file.ID,
		UserID: file.UserID,
		Wallet: wallet,
	})
}

// awaitDispatch polls the file row until it reaches a terminal state or
// the wait budget lapses.
func (h *Handler) awaitDispatch(ctx context.Context, fileID string, wait time.Duration) (*models.File, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		file, err := h.store.GetFile(ctx, fileID)
		if err != nil {
			return nil, broker.WrapError(broker.CodeNotFound, "file vanished during dispatch", err)
		}
		switch file.Status {
		case broker.FileCompleted:
			return file, nil
		case broker.FileFailed:
			return nil, broker.NewError(broker.CodeChainRejected, file.ErrorMessage)
		}

		if time.Now().After(deadline) {
			return nil, broker.NewError(broker.CodeDispatchTimeout, "dispatch did not finish in time")
		}
		select {
		case <-ctx.Done():
			return nil, broker.WrapError(broker.CodeDispatchTimeout, "request cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

// TriggerPending sweeps the oldest pending files into the dispatcher, one
// at a time. Sweeps are serialized; a second trigger while one runs waits
// its turn.
func (h *Handler) TriggerPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.sweepMu.Lock()
	defer h.sweepMu.Unlock()

	files, err := h.store.ListPendingFiles(ctx, h.config.PendingSweepLimit)
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "could not list pending files")
		return
	}

	var processed, failed int
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		if err := h.enqueueDispatch(ctx, file); err != nil {
			failed++
			continue
		}
		if _, err := h.awaitDispatch(ctx, file.ID, h.config.DispatchWait); err != nil {
			logger.Warn("pending sweep dispatch failed", logger.FileID(file.ID), logger.Err(err))
			failed++
			continue
		}
		processed++
	}

	writeJSON(w, http.StatusOK, map[string]int{
		"processed": processed,
		"failed":    failed,
	})
}
