// Package walrus talks to the blob store: the upload relay for the
// register/upload/certify flow, the publisher for the direct write
// fallback, and the aggregator for reads.
package walrus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/sui"
)

// BlobInfo is the outcome of a completed write, whichever path produced it.
type BlobInfo struct {
	BlobID       string
	BlobObjectID string
	Certified    bool
}

// WriteOptions parameterize a blob write.
type WriteOptions struct {
	Epochs    int
	Deletable bool
	Owner     string
}

// Flow is one register→upload→certify pass for a single blob. A Flow is
// single-use and not safe for concurrent calls; the dispatcher drives it
// from exactly one wallet loop.
type Flow interface {
	// Encode prepares the blob locally and derives its blob id.
	Encode(ctx context.Context) error

	// Register signs and executes the register transaction, paying the
	// relay tip, and returns the transaction digest.
	Register(ctx context.Context, opts WriteOptions) (digest string, err error)

	// Upload posts the blob to the upload relay under the register digest.
	Upload(ctx context.Context, digest string) error

	// Certify signs and executes the certify transaction and reports the
	// final blob identity.
	Certify(ctx context.Context) (*BlobInfo, error)
}

// Store is the full blob-store surface the dispatcher and API depend on.
type Store interface {
	// NewFlow starts a relay flow over the given bytes.
	NewFlow(data []byte) Flow

	// WriteBlob is the direct publisher path, used when the relay rejects
	// the tip or is otherwise unusable.
	WriteBlob(ctx context.Context, data []byte, opts WriteOptions) (*BlobInfo, error)

	// ReadBlob fetches a blob's bytes from the aggregator.
	ReadBlob(ctx context.Context, blobID string) ([]byte, error)

	// Exists checks blob availability without transferring the body.
	Exists(ctx context.Context, blobID string) (bool, error)
}

// Endpoints are the per-network service URLs.
type Endpoints struct {
	RelayURL      string
	PublisherURL  string
	AggregatorURL string
}

// DefaultEndpoints returns the public service URLs for a network.
func DefaultEndpoints(network sui.Network) Endpoints {
	if network == sui.Mainnet {
		return Endpoints{
			RelayURL:      "https://upload-relay.mainnet.walrus.space",
			PublisherURL:  "https://publisher.walrus-mainnet.walrus.space",
			AggregatorURL: "https://aggregator.walrus-mainnet.walrus.space",
		}
	}
	return Endpoints{
		RelayURL:      "https://upload-relay.testnet.walrus.space",
		PublisherURL:  "https://publisher.walrus-testnet.walrus.space",
		AggregatorURL: "https://aggregator.walrus-testnet.walrus.space",
	}
}

// Config builds a Client.
type Config struct {
	Endpoints Endpoints

	// Chain is the signing client for register and certify transactions.
	Chain sui.Client

	// SystemPackage and SystemObject identify the storage system's move
	// package and shared system object.
	SystemPackage string
	SystemObject  string

	// MaxTipMIST caps the relay tip paid in the register transaction.
	MaxTipMIST uint64

	// HTTPClient overrides the default transport, mainly for tests.
	HTTPClient *http.Client
}

// Client implements Store over HTTP plus the chain client.
type Client struct {
	cfg  Config
	http *http.Client
}

// DefaultMaxTipMIST is the relay tip ceiling in MIST.
const DefaultMaxTipMIST = 50_000

// NewClient builds a blob-store client.
func NewClient(cfg Config) *Client {
	if cfg.MaxTipMIST == 0 {
		cfg.MaxTipMIST = DefaultMaxTipMIST
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Relay uploads of large blobs can legitimately take minutes; the
		// dispatcher deadline is the effective bound.
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// NewFlow starts a relay flow over data.
func (c *Client) NewFlow(data []byte) Flow {
	return &relayFlow{client: c, data: data}
}

// publisherResponse is the direct-write response shape: exactly one of the
// two branches is populated.
type publisherResponse struct {
	NewlyCreated *struct {
		BlobObject struct {
			ID     string `json:"id"`
			BlobID string `json:"blobId"`
		} `json:"blobObject"`
	} `json:"newlyCreated"`
	AlreadyCertified *struct {
		BlobID string `json:"blobId"`
	} `json:"alreadyCertified"`
}

// WriteBlob stores data through the publisher's multi-node fan-out.
func (c *Client) WriteBlob(ctx context.Context, data []byte, opts WriteOptions) (*BlobInfo, error) {
	epochs := opts.Epochs
	if epochs < 1 {
		epochs = 1
	}

	q := url.Values{}
	q.Set("epochs", fmt.Sprintf("%d", epochs))
	if opts.Deletable {
		q.Set("deletable", "true")
	}
	if opts.Owner != "" {
		q.Set("send_object_to", opts.Owner)
	}
	endpoint := fmt.Sprintf("%s/v1/blobs?%s", c.cfg.Endpoints.PublisherURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("walrus: build write request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("walrus: write blob: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("walrus: read write response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("walrus: write blob HTTP %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var parsed publisherResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("walrus: decode write response: %w", err)
	}

	info := &BlobInfo{Certified: true}
	switch {
	case parsed.NewlyCreated != nil:
		info.BlobID = parsed.NewlyCreated.BlobObject.BlobID
		info.BlobObjectID = parsed.NewlyCreated.BlobObject.ID
	case parsed.AlreadyCertified != nil:
		info.BlobID = parsed.AlreadyCertified.BlobID
	default:
		return nil, fmt.Errorf("walrus: write response missing blob identity")
	}

	logger.Info("blob written via publisher",
		logger.BlobID(info.BlobID),
		logger.Size(int64(len(data))),
		logger.DurationMs(float64(time.Since(start).Milliseconds())))
	return info, nil
}

// ReadBlob fetches blob bytes from the aggregator.
func (c *Client) ReadBlob(ctx context.Context, blobID string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/v1/blobs/%s", c.cfg.Endpoints.AggregatorURL, url.PathEscape(blobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("walrus: build read request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("walrus: read blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("walrus: blob %s not found", blobID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("walrus: read blob HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Exists checks blob availability with a HEAD request.
func (c *Client) Exists(ctx context.Context, blobID string) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/blobs/%s", c.cfg.Endpoints.AggregatorURL, url.PathEscape(blobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("walrus: build head request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("walrus: head blob: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("walrus: head blob HTTP %d", resp.StatusCode)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
