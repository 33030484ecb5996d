package clientqueue

import (
	"context"
	"errors"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
)

// ============================================================================
// Scheduling
// ============================================================================

// ProcessQueue drains the user's queue smallest-first: small files clear
// quickly instead of queueing behind one large upload. At most one drain
// runs per user; concurrent calls return immediately.
func (q *Queue) ProcessQueue(ctx context.Context, userID string) error {
	q.mu.Lock()
	if q.busy[userID] {
		q.mu.Unlock()
		return nil
	}
	q.busy[userID] = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.busy, userID)
		q.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item := q.nextReady(userID)
		if item == nil {
			return nil
		}

		if err := q.ProcessOne(ctx, userID, item.ID); err != nil {
			logger.Debug("queue item did not finish",
				logger.UserID(userID), logger.FileID(item.ID), logger.Err(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(q.opts.InterItemDelay):
		}
	}
}

// nextReady picks the smallest queued item whose backoff has elapsed. It
// also sweeps out done items past their linger window.
func (q *Queue) nextReady(userID string) *Item {
	items, err := q.List(userID)
	if err != nil {
		logger.Warn("queue scan failed", logger.UserID(userID), logger.Err(err))
		return nil
	}

	now := q.now()
	ready := items[:0]
	for _, item := range items {
		if item.Status == broker.UploadDone {
			if !item.UpdatedAt.After(now.Add(-doneLinger)) {
				if err := q.Remove(userID, item.ID); err != nil {
					logger.Debug("done item sweep failed", logger.FileID(item.ID), logger.Err(err))
				}
			}
			continue
		}
		if item.Status.Terminal() || item.Status == broker.UploadUploading {
			continue
		}
		if item.Status == broker.UploadRetrying && item.NextAttemptAt.After(now) {
			continue
		}
		ready = append(ready, item)
	}
	if len(ready) == 0 {
		return nil
	}

	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].SizeBytes < ready[j].SizeBytes
	})
	return ready[0]
}

// doneLinger is how long a finished item stays visible before removal,
// enough for an observer to show the final state.
const doneLinger = time.Second

// ProcessOne uploads a single item. On success the item is marked done,
// its payload bytes are dropped, and the record itself is removed after a
// short linger; the receipt is the proof the server holds the bytes now.
// Failures transition to retrying or error per the retryability rules.
func (q *Queue) ProcessOne(ctx context.Context, userID, itemID string) error {
	item, err := q.Get(userID, itemID)
	if err != nil {
		return err
	}
	if item.Status.Terminal() {
		return nil
	}

	blob, err := q.Blob(userID, itemID)
	if err != nil {
		return err
	}

	item.Status = broker.UploadUploading
	item.Attempts++
	if err := q.saveItem(item); err != nil {
		return err
	}

	uploadCtx, cancel := context.WithTimeout(ctx, UploadTimeout(item.SizeBytes))
	defer cancel()

	receipt, err := q.uploader.Upload(uploadCtx, *item, blob)
	if err != nil {
		return q.handleFailure(uploadCtx, item, err)
	}

	item.Status = broker.UploadDone
	item.Receipt = receipt
	item.LastError = ""
	item.LastStatus = 0
	if err := q.saveItem(item); err != nil {
		return err
	}

	// The server staged the bytes; keep only the receipt.
	if err := q.dropBlob(userID, itemID); err != nil {
		logger.Warn("could not drop uploaded payload", logger.FileID(itemID), logger.Err(err))
	}

	time.AfterFunc(doneLinger, func() {
		if err := q.Remove(userID, itemID); err != nil {
			logger.Debug("done item removal failed", logger.FileID(itemID), logger.Err(err))
		}
	})

	logger.Info("upload acknowledged",
		logger.UserID(userID), logger.FileID(itemID), logger.Filename(item.Filename))
	return nil
}

// handleFailure applies the retryability rules and backoff schedule.
func (q *Queue) handleFailure(ctx context.Context, item *Item, err error) error {
	status := StatusCodeOf(err)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = 408
	}

	item.LastError = err.Error()
	item.LastStatus = status

	if Retryable(err, status) && item.Attempts < q.opts.MaxAttempts {
		item.Status = broker.UploadRetrying
		item.NextAttemptAt = q.now().Add(Backoff(item.Attempts))
		logger.Warn("upload failed, will retry",
			logger.UserID(item.UserID), logger.FileID(item.ID),
			logger.Attempt(item.Attempts), logger.Err(err))
	} else {
		item.Status = broker.UploadError
		logger.Error("upload failed permanently",
			logger.UserID(item.UserID), logger.FileID(item.ID), logger.Err(err))
	}

	if saveErr := q.saveItem(item); saveErr != nil {
		return saveErr
	}
	return err
}

func (q *Queue) dropBlob(userID, itemID string) error {
	return q.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyBlob(userID, itemID))
	})
}

// ============================================================================
// Maintenance
// ============================================================================

// RetryErrorFiles returns every errored item to the queue with a clean
// attempt counter.
func (q *Queue) RetryErrorFiles(userID string) (int, error) {
	items, err := q.List(userID)
	if err != nil {
		return 0, err
	}

	var retried int
	for _, item := range items {
		if item.Status != broker.UploadError {
			continue
		}
		item.Status = broker.UploadQueued
		item.Attempts = 0
		item.NextAttemptAt = time.Time{}
		item.LastError = ""
		item.LastStatus = 0
		if err := q.saveItem(item); err != nil {
			return retried, err
		}
		retried++
	}
	return retried, nil
}

// ClearStuckFiles fails items that have sat in uploading past the stuck
// threshold, usually because a previous drain died mid-request. They show
// up as "Upload timed out"; RetryErrorFiles returns them to the queue.
func (q *Queue) ClearStuckFiles(userID string) (int, error) {
	items, err := q.List(userID)
	if err != nil {
		return 0, err
	}

	cutoff := q.now().Add(-q.opts.StuckAfter)
	var cleared int
	for _, item := range items {
		if item.Status != broker.UploadUploading || item.UpdatedAt.After(cutoff) {
			continue
		}
		item.Status = broker.UploadError
		item.LastError = "Upload timed out"
		if err := q.saveItem(item); err != nil {
			return cleared, err
		}
		cleared++
	}
	return cleared, nil
}

// UpdateQueuedEpochs changes the storage duration of items that have not
// been sent yet. In-flight and finished items keep theirs.
func (q *Queue) UpdateQueuedEpochs(userID string, epochs int) (int, error) {
	if epochs < 1 {
		return 0, broker.NewError(broker.CodeInputInvalid, "epochs must be at least 1")
	}

	items, err := q.List(userID)
	if err != nil {
		return 0, err
	}

	var updated int
	for _, item := range items {
		if item.Status != broker.UploadQueued && item.Status != broker.UploadRetrying {
			continue
		}
		if item.Epochs == epochs {
			continue
		}
		item.Epochs = epochs
		if err := q.saveItem(item); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}
