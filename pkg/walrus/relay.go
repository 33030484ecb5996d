package walrus

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/sui"
)

// systemModule hosts the register/certify entry points on chain.
const systemModule = "system"

// relayFlow is one register→upload→certify pass. It accumulates state
// across phases; phases must run in order.
type relayFlow struct {
	client *Client
	data   []byte

	blobID       string
	blobIDBytes  []byte
	blobObjectID string
	registered   bool
	uploaded     bool
}

// Encode derives the blob identity from the content. The relay performs
// the sliver encoding server-side; locally we only need the id the
// register transaction and the upload URL both carry.
func (f *relayFlow) Encode(_ context.Context) error {
	if len(f.data) == 0 {
		return fmt.Errorf("walrus: encode: empty blob")
	}
	sum := blake2b.Sum256(f.data)
	f.blobIDBytes = sum[:]
	f.blobID = base64.RawURLEncoding.EncodeToString(sum[:])
	return nil
}

// Register signs and executes the register transaction, including the
// relay tip, and returns the transaction digest for the upload phase.
func (f *relayFlow) Register(ctx context.Context, opts WriteOptions) (string, error) {
	if f.blobID == "" {
		return "", fmt.Errorf("walrus: register before encode")
	}

	epochs := opts.Epochs
	if epochs < 1 {
		epochs = 1
	}

	result, err := f.client.cfg.Chain.SignAndExecute(ctx, sui.MoveCall{
		Package:  f.client.cfg.SystemPackage,
		Module:   systemModule,
		Function: "register_blob",
		Args: []any{
			f.client.cfg.SystemObject,
			byteArg(f.blobIDBytes),
			fmt.Sprintf("%d", len(f.data)),
			fmt.Sprintf("%d", epochs),
			opts.Deletable,
			fmt.Sprintf("%d", f.client.cfg.MaxTipMIST),
		},
	})
	if err != nil {
		if IsTipTooLow(err) {
			return "", fmt.Errorf("%w: %v", ErrTipTooLow, err)
		}
		return "", fmt.Errorf("walrus: register blob: %w", err)
	}

	for _, oc := range result.ObjectChanges {
		if oc.Type == "created" && strings.Contains(oc.ObjectType, "::blob::Blob") {
			f.blobObjectID = oc.ObjectID
			break
		}
	}
	f.registered = true

	logger.Debug("blob registered",
		logger.BlobID(f.blobID),
		logger.Digest(result.Digest),
		logger.Size(int64(len(f.data))))
	return result.Digest, nil
}

// Upload posts the blob bytes to the relay, which encodes and fans out the
// slivers to storage nodes. The register digest authorizes the tip spend.
func (f *relayFlow) Upload(ctx context.Context, digest string) error {
	if !f.registered {
		return fmt.Errorf("walrus: upload before register")
	}

	q := url.Values{}
	q.Set("blob_id", f.blobID)
	q.Set("tx_id", digest)
	endpoint := fmt.Sprintf("%s/v1/blob-upload-relay?%s", f.client.cfg.Endpoints.RelayURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(f.data))
	if err != nil {
		return fmt.Errorf("walrus: build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := f.client.http.Do(req)
	if err != nil {
		return fmt.Errorf("walrus: relay upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := fmt.Sprintf("walrus: relay upload HTTP %d: %s", resp.StatusCode, truncate(body, 200))
		if resp.StatusCode == http.StatusPaymentRequired || IsTipTooLow(fmt.Errorf("%s", msg)) {
			return fmt.Errorf("%w: %s", ErrTipTooLow, msg)
		}
		return fmt.Errorf("%s", msg)
	}

	f.uploaded = true
	logger.Debug("slivers uploaded via relay",
		logger.BlobID(f.blobID),
		logger.DurationMs(float64(time.Since(start).Milliseconds())))
	return nil
}

// Certify signs and executes the certify transaction and returns the blob
// identity.
func (f *relayFlow) Certify(ctx context.Context) (*BlobInfo, error) {
	if !f.uploaded {
		return nil, fmt.Errorf("walrus: certify before upload")
	}

	result, err := f.client.cfg.Chain.SignAndExecute(ctx, sui.MoveCall{
		Package:  f.client.cfg.SystemPackage,
		Module:   systemModule,
		Function: "certify_blob",
		Args: []any{
			f.client.cfg.SystemObject,
			f.blobObjectID,
			byteArg(f.blobIDBytes),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("walrus: certify blob: %w", err)
	}

	logger.Debug("blob certified", logger.BlobID(f.blobID), logger.Digest(result.Digest))
	return &BlobInfo{
		BlobID:       f.blobID,
		BlobObjectID: f.blobObjectID,
		Certified:    true,
	}, nil
}

// byteArg encodes bytes as the number array the transaction builder
// expects for vector<u8>.
func byteArg(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
