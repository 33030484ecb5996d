package sui

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"
)

// RPCClient is the JSON-RPC implementation of Client against a Sui
// fullnode. Transactions are built server-side via unsafe_moveCall and
// signed locally with the wallet's ed25519 key.
type RPCClient struct {
	endpoint string
	http     *http.Client

	key     ed25519.PrivateKey
	address string

	gasBudget uint64
	reqID     atomic.Int64
}

// DefaultGasBudget covers a register or certify call with headroom (MIST).
const DefaultGasBudget = 50_000_000

// NewRPCClient builds a client for the endpoint signing with the given
// 32-byte hex private key (optional 0x prefix).
func NewRPCClient(endpoint, privateKeyHex string) (*RPCClient, error) {
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return &RPCClient{
		endpoint:  endpoint,
		http:      &http.Client{Timeout: 60 * time.Second},
		key:       key,
		address:   deriveAddress(key.Public().(ed25519.PublicKey)),
		gasBudget: DefaultGasBudget,
	}, nil
}

func parsePrivateKey(privateKeyHex string) (ed25519.PrivateKey, error) {
	seedHex := strings.TrimPrefix(privateKeyHex, "0x")
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("sui: decode private key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("sui: private key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// AddressFromPrivateKey derives the wallet address a key controls without
// retaining the key.
func AddressFromPrivateKey(privateKeyHex string) (string, error) {
	key, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return "", err
	}
	return deriveAddress(key.Public().(ed25519.PublicKey)), nil
}

// deriveAddress computes the Sui address: blake2b-256 over the signature
// scheme flag (0x00 for ed25519) followed by the public key.
func deriveAddress(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, 0x00)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}

// Address returns the wallet address this client signs for.
func (c *RPCClient) Address() string {
	return c.address
}

// rpcRequest is the JSON-RPC 2.0 envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("sui rpc error %d: %s", e.Code, e.Message)
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("sui: marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sui: build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sui: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sui: %s returned HTTP %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("sui: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("sui: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

// SignAndExecute builds the move call via unsafe_moveCall, signs the
// returned transaction bytes, and executes waiting for local finality.
func (c *RPCClient) SignAndExecute(ctx context.Context, call MoveCall) (*ExecuteResult, error) {
	budget := call.GasBudget
	if budget == 0 {
		budget = c.gasBudget
	}

	var built struct {
		TxBytes string `json:"txBytes"`
	}
	err := c.call(ctx, "unsafe_moveCall", []any{
		c.address,
		call.Package,
		call.Module,
		call.Function,
		call.TypeArgs,
		call.Args,
		nil, // gas object: let the node pick
		fmt.Sprintf("%d", budget),
	}, &built)
	if err != nil {
		return nil, err
	}

	signature, err := c.signTxBytes(built.TxBytes)
	if err != nil {
		return nil, err
	}

	var exec struct {
		Digest  string `json:"digest"`
		Effects struct {
			Status struct {
				Status string `json:"status"`
				Error  string `json:"error"`
			} `json:"status"`
		} `json:"effects"`
		ObjectChanges []ObjectChange `json:"objectChanges"`
	}
	err = c.call(ctx, "sui_executeTransactionBlock", []any{
		built.TxBytes,
		[]string{signature},
		map[string]any{"showEffects": true, "showObjectChanges": true},
		"WaitForLocalExecution",
	}, &exec)
	if err != nil {
		return nil, err
	}

	result := &ExecuteResult{
		Digest:        exec.Digest,
		Status:        exec.Effects.Status.Status,
		Error:         exec.Effects.Status.Error,
		ObjectChanges: exec.ObjectChanges,
	}
	for _, oc := range exec.ObjectChanges {
		if oc.Type == "created" {
			result.CreatedIDs = append(result.CreatedIDs, oc.ObjectID)
		}
	}

	if result.Status != "success" {
		return result, fmt.Errorf("sui: transaction %s failed: %s", result.Digest, result.Error)
	}
	return result, nil
}

// signTxBytes signs base64 transaction bytes under the TransactionData
// intent (scope 0, version 0, app 0) and serializes flag ‖ sig ‖ pubkey.
func (c *RPCClient) signTxBytes(txBytesB64 string) (string, error) {
	txBytes, err := base64.StdEncoding.DecodeString(txBytesB64)
	if err != nil {
		return "", fmt.Errorf("sui: decode tx bytes: %w", err)
	}

	intent := append([]byte{0, 0, 0}, txBytes...)
	digest := blake2b.Sum256(intent)
	sig := ed25519.Sign(c.key, digest[:])

	pub := c.key.Public().(ed25519.PublicKey)
	serialized := make([]byte, 0, 1+len(sig)+len(pub))
	serialized = append(serialized, 0x00)
	serialized = append(serialized, sig...)
	serialized = append(serialized, pub...)
	return base64.StdEncoding.EncodeToString(serialized), nil
}

// CoinBalance returns the wallet's total balance for the coin type in
// whole coins (the chain reports the smallest subunit, 1e9 per coin).
func (c *RPCClient) CoinBalance(ctx context.Context, coinType string) (float64, error) {
	var result struct {
		TotalBalance string `json:"totalBalance"`
	}
	err := c.call(ctx, "suix_getBalance", []any{c.address, coinType}, &result)
	if err != nil {
		return 0, err
	}

	subunits, err := strconv.ParseFloat(result.TotalBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("sui: parse balance %q: %w", result.TotalBalance, err)
	}
	return subunits / 1e9, nil
}

// QueryEvents returns a page of events of the given move event type.
func (c *RPCClient) QueryEvents(ctx context.Context, eventType string, cursor json.RawMessage, limit int) (*EventPage, error) {
	if limit <= 0 {
		limit = 50
	}

	var cursorParam any
	if len(cursor) > 0 {
		cursorParam = json.RawMessage(cursor)
	}

	var result struct {
		Data        []Event         `json:"data"`
		NextCursor  json.RawMessage `json:"nextCursor"`
		HasNextPage bool            `json:"hasNextPage"`
	}
	err := c.call(ctx, "suix_queryEvents", []any{
		map[string]any{"MoveEventType": eventType},
		cursorParam,
		limit,
		true, // descending: newest registries first
	}, &result)
	if err != nil {
		return nil, err
	}

	return &EventPage{
		Events:     result.Data,
		NextCursor: result.NextCursor,
		HasNext:    result.HasNextPage,
	}, nil
}

// GetObject reads an object's current content.
func (c *RPCClient) GetObject(ctx context.Context, objectID string) (*ObjectData, error) {
	var result struct {
		Data struct {
			ObjectID string `json:"objectId"`
			Type     string `json:"type"`
			Content  struct {
				Fields json.RawMessage `json:"fields"`
			} `json:"content"`
			Owner json.RawMessage `json:"owner"`
		} `json:"data"`
		Error *struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	err := c.call(ctx, "sui_getObject", []any{
		objectID,
		map[string]any{"showContent": true, "showOwner": true, "showType": true},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.Error != nil {
		return nil, fmt.Errorf("sui: object %s: %s", objectID, result.Error.Code)
	}

	return &ObjectData{
		ObjectID: result.Data.ObjectID,
		Type:     result.Data.Type,
		Owner:    string(result.Data.Owner),
		Fields:   result.Data.Content.Fields,
	}, nil
}
