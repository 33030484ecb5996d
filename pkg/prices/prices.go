// Package prices resolves USD spot prices for the gas token (SUI) and the
// storage token (WAL). Quotes are priced from a snapshot so a single quote
// never mixes prices from two fetches.
package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
)

// Fallback prices used when the spot endpoint is unreachable. A quote priced
// from these is flagged so the client can warn the user.
const (
	FallbackSUI = 1.85
	FallbackWAL = 0.15
)

// DefaultEndpoint is the CoinGecko simple-price query for both tokens.
const DefaultEndpoint = "https://api.coingecko.com/api/v3/simple/price?ids=sui,walrus-2&vs_currencies=usd"

// Snapshot is a point-in-time USD price pair.
type Snapshot struct {
	SUI       float64 // USD per SUI
	WAL       float64 // USD per WAL
	Fallback  bool    // true if defaults were substituted
	FetchedAt time.Time
}

// Fetcher resolves a price snapshot. Implementations must be safe for
// concurrent use.
type Fetcher interface {
	Spot(ctx context.Context) (Snapshot, error)
}

// Static returns a Fetcher that always yields the given prices. Used in
// tests and for the boundary scenarios with pinned snapshots.
func Static(sui, wal float64) Fetcher {
	return staticFetcher{Snapshot{SUI: sui, WAL: wal, FetchedAt: time.Now()}}
}

type staticFetcher struct{ snap Snapshot }

func (f staticFetcher) Spot(context.Context) (Snapshot, error) {
	return f.snap, nil
}

// HTTPFetcher queries a CoinGecko-compatible simple-price endpoint and
// caches the result briefly to avoid hammering the API from the quote path.
type HTTPFetcher struct {
	Endpoint string        // full URL of the simple-price endpoint
	Client   *http.Client  // defaults to a 5s-timeout client
	CacheTTL time.Duration // defaults to 30s

	mu     sync.Mutex
	cached Snapshot
}

// NewHTTPFetcher creates a fetcher against the given endpoint.
func NewHTTPFetcher(endpoint string) *HTTPFetcher {
	return &HTTPFetcher{
		Endpoint: endpoint,
		Client:   &http.Client{Timeout: 5 * time.Second},
		CacheTTL: 30 * time.Second,
	}
}

// Spot returns current USD prices for SUI and WAL. On any fetch or decode
// failure it falls back to the fixed defaults and marks the snapshot; the
// quote path never fails on price lookup.
func (f *HTTPFetcher) Spot(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	if !f.cached.FetchedAt.IsZero() && time.Since(f.cached.FetchedAt) < f.cacheTTL() {
		snap := f.cached
		f.mu.Unlock()
		return snap, nil
	}
	f.mu.Unlock()

	snap, err := f.fetch(ctx)
	if err != nil {
		logger.Warn("Spot price fetch failed, using fallback prices",
			"error", err,
			"sui", FallbackSUI,
			"wal", FallbackWAL)
		return Snapshot{
			SUI:       FallbackSUI,
			WAL:       FallbackWAL,
			Fallback:  true,
			FetchedAt: time.Now(),
		}, nil
	}

	f.mu.Lock()
	f.cached = snap
	f.mu.Unlock()
	return snap, nil
}

func (f *HTTPFetcher) cacheTTL() time.Duration {
	if f.CacheTTL > 0 {
		return f.CacheTTL
	}
	return 30 * time.Second
}

func (f *HTTPFetcher) fetch(ctx context.Context) (Snapshot, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.Endpoint, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build price request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("price endpoint returned %d", resp.StatusCode)
	}

	// CoinGecko simple-price shape: {"sui":{"usd":1.85},"walrus-2":{"usd":0.15}}
	var body map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Snapshot{}, fmt.Errorf("decode prices: %w", err)
	}

	sui, okSui := body["sui"]
	wal, okWal := body["walrus-2"]
	if !okSui || !okWal || sui.USD <= 0 || wal.USD <= 0 {
		return Snapshot{}, fmt.Errorf("price endpoint response missing sui or wal")
	}

	return Snapshot{SUI: sui.USD, WAL: wal.USD, FetchedAt: time.Now()}, nil
}
