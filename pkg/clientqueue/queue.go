// Package clientqueue is the client-side persistent upload queue. Items
// and their payload bytes survive restarts in BadgerDB; a scheduler
// drains the queue smallest-first, retrying transient intake failures
// with exponential backoff and holding on to the bytes until the server
// acknowledges staging.
package clientqueue

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/envelope"
)

// ============================================================================
// Database Key Namespace Design
// ============================================================================
//
// Data Type        Prefix          Key Format                  Value Type
// =========================================================================
// Upload order     "upload:list:"  upload:list:<user>          []itemID (JSON)
// Item metadata    "meta:"         meta:<user>:<id>            Item (JSON)
// Payload bytes    "blob:"         blob:<user>:<id>            raw bytes

const (
	prefixList = "upload:list:"
	prefixMeta = "meta:"
	prefixBlob = "blob:"
)

func keyList(userID string) []byte {
	return []byte(prefixList + userID)
}

func keyMeta(userID, itemID string) []byte {
	return []byte(prefixMeta + userID + ":" + itemID)
}

func keyBlob(userID, itemID string) []byte {
	return []byte(prefixBlob + userID + ":" + itemID)
}

// Item is one queued upload.
type Item struct {
	ID            string              `json:"id"`
	UserID        string              `json:"userId"`
	Filename      string              `json:"filename"`
	SizeBytes     int64               `json:"sizeBytes"`
	Epochs        int                 `json:"epochs"`
	Status        broker.UploadStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	NextAttemptAt time.Time           `json:"nextAttemptAt"`
	LastError     string              `json:"lastError,omitempty"`
	LastStatus    int                 `json:"lastStatus,omitempty"` // HTTP status of the last failure, 0 for transport errors
	Encrypted     bool                `json:"encrypted"`
	EnvelopeID    string              `json:"envelopeId,omitempty"` // hex of the sealed file id
	QuoteID       string              `json:"quoteId,omitempty"`
	Receipt       *broker.Receipt     `json:"receipt,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

// Uploader posts one item's bytes to the server intake.
type Uploader interface {
	Upload(ctx context.Context, item Item, blob []byte) (*broker.Receipt, error)
}

// Observer is notified after every item state change.
type Observer func(Item)

// Options tune a Queue.
type Options struct {
	// RootKey enables client-side envelope encryption when 32 bytes long.
	RootKey []byte

	// InterItemDelay spaces sequential uploads in ProcessQueue.
	InterItemDelay time.Duration

	// StuckAfter is the age at which an uploading item with no progress is
	// returned to the queue.
	StuckAfter time.Duration

	// MaxAttempts caps automatic retries; past it a retryable failure is
	// terminal until the user retries explicitly.
	MaxAttempts int

	// Observer receives state-change notifications. Optional.
	Observer Observer
}

const (
	// DefaultInterItemDelay paces the queue drain.
	DefaultInterItemDelay = 5 * time.Second

	// DefaultStuckAfter bounds how long an item may sit in uploading.
	DefaultStuckAfter = 5 * time.Minute

	// DefaultMaxAttempts bounds automatic retries per item.
	DefaultMaxAttempts = 3
)

// Queue is the persistent upload queue. Safe for concurrent use.
type Queue struct {
	db       *badger.DB
	uploader Uploader
	opts     Options

	mu   sync.Mutex
	busy map[string]bool // per-user drain guard

	now func() time.Time
}

// Open opens (or creates) the queue database at path and reconciles
// whatever a previous run left behind.
func Open(path string, uploader Uploader, opts Options) (*Queue, error) {
	if opts.InterItemDelay <= 0 {
		opts.InterItemDelay = DefaultInterItemDelay
	}
	if opts.StuckAfter <= 0 {
		opts.StuckAfter = DefaultStuckAfter
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RootKey != nil && len(opts.RootKey) != 32 {
		return nil, fmt.Errorf("clientqueue: root key must be 32 bytes")
	}

	badgerOpts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("clientqueue: open database: %w", err)
	}

	q := &Queue{
		db:       db,
		uploader: uploader,
		opts:     opts,
		busy:     make(map[string]bool),
		now:      time.Now,
	}

	if err := q.recoverStartup(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}

// Close releases the database.
func (q *Queue) Close() error {
	return q.db.Close()
}

// recoverStartup reconciles items a previous run left behind. Finished
// items are dropped. An item carrying a failure message lost its retry
// schedule with the process, so it surfaces as error for an explicit
// retry. Items stuck in uploading past the threshold become errors with
// "Upload timed out"; fresher interrupted ones return to the queue.
func (q *Queue) recoverStartup() error {
	return q.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		now := q.now()
		stuckBefore := now.Add(-q.opts.StuckAfter)
		dropped := make(map[string]map[string]bool) // user -> item ids removed

		prefix := []byte(prefixMeta)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var item Item
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			})
			if err != nil {
				continue
			}

			if item.Status == broker.UploadDone {
				if err := txn.Delete(keyMeta(item.UserID, item.ID)); err != nil {
					return err
				}
				if err := txn.Delete(keyBlob(item.UserID, item.ID)); err != nil {
					return err
				}
				if dropped[item.UserID] == nil {
					dropped[item.UserID] = make(map[string]bool)
				}
				dropped[item.UserID][item.ID] = true
				continue
			}
			if item.Status.Terminal() {
				continue
			}

			switch {
			case item.LastError != "":
				item.Status = broker.UploadError
			case item.Status == broker.UploadUploading && !item.UpdatedAt.After(stuckBefore):
				item.Status = broker.UploadError
				item.LastError = "Upload timed out"
			case item.Status == broker.UploadUploading:
				item.Status = broker.UploadQueued
			default:
				continue
			}

			item.UpdatedAt = now
			data, err := json.Marshal(&item)
			if err != nil {
				return err
			}
			if err := txn.Set(keyMeta(item.UserID, item.ID), data); err != nil {
				return err
			}
			logger.Info("recovered queue item",
				logger.UserID(item.UserID), logger.FileID(item.ID),
				logger.Filename(item.Filename), "status", string(item.Status))
		}

		for userID, ids := range dropped {
			list, err := readList(txn, userID)
			if err != nil {
				return err
			}
			kept := list[:0]
			for _, id := range list {
				if !ids[id] {
					kept = append(kept, id)
				}
			}
			if err := writeList(txn, userID, kept); err != nil {
				return err
			}
		}
		return nil
	})
}

// ============================================================================
// Enqueue / Remove / Read
// ============================================================================

// Enqueue stores the payload and its metadata and appends the item to the
// user's upload order. With a root key configured and encrypt set, the
// payload is sealed into an envelope before it ever touches disk.
func (q *Queue) Enqueue(ctx context.Context, userID, filename string, data []byte, epochs int, encrypt bool) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if userID == "" || filename == "" {
		return nil, broker.NewError(broker.CodeInputInvalid, "user and filename are required")
	}
	if len(data) == 0 {
		return nil, broker.NewError(broker.CodeInputInvalid, "empty payload")
	}
	if epochs < 1 {
		epochs = 1
	}

	payload := data
	var envelopeID string
	if encrypt {
		if q.opts.RootKey == nil {
			return nil, broker.NewError(broker.CodeInputInvalid, "encryption requested but no root key configured")
		}
		sealed, fileID, err := envelope.Seal(q.opts.RootKey, data)
		if err != nil {
			return nil, err
		}
		payload = sealed
		envelopeID = hex.EncodeToString(fileID)
	}

	now := q.now()
	item := &Item{
		ID:         uuid.New().String(),
		UserID:     userID,
		Filename:   filename,
		SizeBytes:  int64(len(payload)),
		Epochs:     epochs,
		Status:     broker.UploadQueued,
		Encrypted:  encrypt,
		EnvelopeID: envelopeID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := q.db.Update(func(txn *badger.Txn) error {
		meta, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if err := txn.Set(keyMeta(userID, item.ID), meta); err != nil {
			return err
		}
		if err := txn.Set(keyBlob(userID, item.ID), payload); err != nil {
			return err
		}

		ids, err := readList(txn, userID)
		if err != nil {
			return err
		}
		ids = append(ids, item.ID)
		return writeList(txn, userID, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("clientqueue: enqueue: %w", err)
	}

	q.notify(*item)
	return item, nil
}

// Remove deletes an item, its bytes, and its place in the upload order.
func (q *Queue) Remove(userID, itemID string) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(keyMeta(userID, itemID)); err != nil {
			return err
		}
		if err := txn.Delete(keyBlob(userID, itemID)); err != nil {
			return err
		}

		ids, err := readList(txn, userID)
		if err != nil {
			return err
		}
		kept := ids[:0]
		for _, id := range ids {
			if id != itemID {
				kept = append(kept, id)
			}
		}
		return writeList(txn, userID, kept)
	})
	if err != nil {
		return fmt.Errorf("clientqueue: remove: %w", err)
	}
	return nil
}

// Get reads one item.
func (q *Queue) Get(userID, itemID string) (*Item, error) {
	var item Item
	err := q.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(keyMeta(userID, itemID))
		if err != nil {
			return err
		}
		return entry.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, broker.NewError(broker.CodeNotFound, "queue item "+itemID+" not found")
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// List returns the user's items in enqueue order.
func (q *Queue) List(userID string) ([]*Item, error) {
	var items []*Item
	err := q.db.View(func(txn *badger.Txn) error {
		ids, err := readList(txn, userID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			entry, err := txn.Get(keyMeta(userID, id))
			if err == badger.ErrKeyNotFound {
				continue // list entry without metadata; skip
			}
			if err != nil {
				return err
			}
			var item Item
			if err := entry.Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return err
			}
			items = append(items, &item)
		}
		return nil
	})
	return items, err
}

// Blob reads an item's stored payload.
func (q *Queue) Blob(userID, itemID string) ([]byte, error) {
	var data []byte
	err := q.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(keyBlob(userID, itemID))
		if err != nil {
			return err
		}
		data, err = entry.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, broker.NewError(broker.CodeNotFound, "queue payload "+itemID+" not found")
	}
	return data, err
}

// ============================================================================
// Internals
// ============================================================================

func readList(txn *badger.Txn, userID string) ([]string, error) {
	entry, err := txn.Get(keyList(userID))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	err = entry.Value(func(val []byte) error {
		return json.Unmarshal(val, &ids)
	})
	return ids, err
}

func writeList(txn *badger.Txn, userID string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return txn.Set(keyList(userID), data)
}

// saveItem persists an item and fires the observer.
func (q *Queue) saveItem(item *Item) error {
	item.UpdatedAt = q.now()
	err := q.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		return txn.Set(keyMeta(item.UserID, item.ID), data)
	})
	if err != nil {
		return err
	}
	q.notify(*item)
	return nil
}

func (q *Queue) notify(item Item) {
	if q.opts.Observer != nil {
		q.opts.Observer(item)
	}
}
