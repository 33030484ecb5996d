package quote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/prices"
)

// TTL is how long a minted quote stays consumable.
const TTL = 5 * time.Minute

// FileSpec describes one file to price.
type FileSpec struct {
	TempID    string `json:"tempId"`
	SizeBytes int64  `json:"sizeBytes"`
	Epochs    int    `json:"epochs"`
}

// Store mints and consumes single-use quotes. Quotes live in memory keyed by
// quote id with a strict TTL; an expired sweep runs on every read so stale
// entries never accumulate.
type Store struct {
	fetcher prices.Fetcher

	mu     sync.Mutex
	quotes map[string]*broker.Quote

	// now is swappable in tests.
	now func() time.Time
}

// NewStore creates a quote store pricing against the given fetcher.
func NewStore(fetcher prices.Fetcher) *Store {
	return &Store{
		fetcher: fetcher,
		quotes:  make(map[string]*broker.Quote),
		now:     time.Now,
	}
}

// Mint prices the file set for the user and stores the resulting quote.
func (s *Store) Mint(ctx context.Context, userID string, files []FileSpec) (*broker.Quote, error) {
	snap, err := s.fetcher.Spot(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	q := &broker.Quote{
		QuoteID:        uuid.NewString(),
		UserID:         userID,
		FallbackPrices: snap.Fallback,
		CreatedAt:      now,
		ExpiresAt:      now.Add(TTL),
	}

	for _, f := range files {
		epochs := f.Epochs
		if epochs < 1 {
			epochs = DefaultEpochs
		}
		c := Estimate(f.SizeBytes, epochs, snap)
		q.PerFile = append(q.PerFile, broker.QuoteLine{
			TempID:      f.TempID,
			SizeMiB:     float64(f.SizeBytes) / MiB,
			Epochs:      epochs,
			StorageDays: epochs * DaysPerEpoch,
			CostSUI:     c.CostSUI,
			CostUSD:     c.CostUSD,
		})
		q.TotalCostUSD += c.CostUSD
		q.TotalCostSUI += c.CostSUI
	}

	s.mu.Lock()
	s.sweepLocked(now)
	s.quotes[q.QuoteID] = q
	s.mu.Unlock()

	return q, nil
}

// Get returns a live quote without consuming it, or nil.
func (s *Store) Get(quoteID string) *broker.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(s.now())
	return s.quotes[quoteID]
}

// Consume atomically removes and returns the quote. It fails with
// QuoteInvalid when the quote is missing, expired, or owned by a different
// user. A quote is consumable at most once.
func (s *Store) Consume(quoteID, userID string) (*broker.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)

	q, ok := s.quotes[quoteID]
	if !ok {
		return nil, broker.NewError(broker.CodeQuoteInvalid, "quote not found or expired")
	}
	if q.UserID != userID {
		return nil, broker.NewError(broker.CodeQuoteInvalid, "quote belongs to a different user")
	}
	if q.Expired(now) {
		delete(s.quotes, quoteID)
		return nil, broker.NewError(broker.CodeQuoteInvalid, "quote expired")
	}

	delete(s.quotes, quoteID)
	return q, nil
}

// Len returns the number of live quotes. Diagnostics only.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(s.now())
	return len(s.quotes)
}

// sweepLocked drops expired quotes. Caller holds s.mu.
func (s *Store) sweepLocked(now time.Time) {
	for id, q := range s.quotes {
		if q.Expired(now) {
			delete(s.quotes, id)
		}
	}
}
