package walrus

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/sui"
)

// chainStub scripts SignAndExecute results per function name.
type chainStub struct {
	calls   []sui.MoveCall
	results map[string]*sui.ExecuteResult
	errs    map[string]error
}

func (c *chainStub) Address() string { return "0xwallet" }

func (c *chainStub) SignAndExecute(_ context.Context, call sui.MoveCall) (*sui.ExecuteResult, error) {
	c.calls = append(c.calls, call)
	if err := c.errs[call.Function]; err != nil {
		return nil, err
	}
	if r := c.results[call.Function]; r != nil {
		return r, nil
	}
	return &sui.ExecuteResult{Digest: "digest-" + call.Function, Status: "success"}, nil
}

func (c *chainStub) QueryEvents(context.Context, string, json.RawMessage, int) (*sui.EventPage, error) {
	return &sui.EventPage{}, nil
}

func (c *chainStub) GetObject(context.Context, string) (*sui.ObjectData, error) {
	return nil, nil
}

func newTestClient(t *testing.T, handler http.Handler, chain sui.Client) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		Endpoints: Endpoints{
			RelayURL:      srv.URL,
			PublisherURL:  srv.URL,
			AggregatorURL: srv.URL,
		},
		Chain:         chain,
		SystemPackage: "0xsystem",
		SystemObject:  "0xsysobj",
	}), srv
}

func TestWriteBlob_NewlyCreated(t *testing.T) {
	var gotBody []byte
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v1/blobs", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("epochs"))
		assert.Equal(t, "true", r.URL.Query().Get("deletable"))
		gotBody, _ = io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"newlyCreated": map[string]any{
				"blobObject": map[string]any{"id": "0xblobobj", "blobId": "blob-abc"},
			},
		})
	})
	client, _ := newTestClient(t, handler, &chainStub{})

	info, err := client.WriteBlob(context.Background(), []byte("payload"), WriteOptions{Epochs: 3, Deletable: true})
	require.NoError(t, err)
	assert.Equal(t, "blob-abc", info.BlobID)
	assert.Equal(t, "0xblobobj", info.BlobObjectID)
	assert.True(t, info.Certified)
	assert.Equal(t, []byte("payload"), gotBody)
}

func TestWriteBlob_AlreadyCertified(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"alreadyCertified": map[string]any{"blobId": "blob-dup"},
		})
	})
	client, _ := newTestClient(t, handler, &chainStub{})

	info, err := client.WriteBlob(context.Background(), []byte("x"), WriteOptions{Epochs: 1})
	require.NoError(t, err)
	assert.Equal(t, "blob-dup", info.BlobID)
	assert.Empty(t, info.BlobObjectID)
}

func TestWriteBlob_ServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "node overload", http.StatusServiceUnavailable)
	})
	client, _ := newTestClient(t, handler, &chainStub{})

	_, err := client.WriteBlob(context.Background(), []byte("x"), WriteOptions{Epochs: 1})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestReadBlob(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/blobs/blob-abc" {
			_, _ = w.Write([]byte("the bytes"))
			return
		}
		http.NotFound(w, r)
	})
	client, _ := newTestClient(t, handler, &chainStub{})

	data, err := client.ReadBlob(context.Background(), "blob-abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("the bytes"), data)

	_, err = client.ReadBlob(context.Background(), "missing")
	assert.Error(t, err)
}

func TestExists(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/blobs/blob-abc" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	client, _ := newTestClient(t, handler, &chainStub{})

	ok, err := client.Exists(context.Background(), "blob-abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelayFlow_FullPass(t *testing.T) {
	chain := &chainStub{
		results: map[string]*sui.ExecuteResult{
			"register_blob": {
				Digest: "digest-register",
				Status: "success",
				ObjectChanges: []sui.ObjectChange{
					{Type: "created", ObjectType: "0xsystem::blob::Blob", ObjectID: "0xblobobj"},
				},
			},
		},
	}

	var relayHits int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayHits++
		assert.Equal(t, "/v1/blob-upload-relay", r.URL.Path)
		assert.Equal(t, "digest-register", r.URL.Query().Get("tx_id"))
		assert.NotEmpty(t, r.URL.Query().Get("blob_id"))
		w.WriteHeader(http.StatusOK)
	})
	client, _ := newTestClient(t, handler, chain)

	flow := client.NewFlow([]byte("sliver material"))
	ctx := context.Background()

	require.NoError(t, flow.Encode(ctx))
	digest, err := flow.Register(ctx, WriteOptions{Epochs: 3, Deletable: true, Owner: "0xwallet"})
	require.NoError(t, err)
	assert.Equal(t, "digest-register", digest)

	require.NoError(t, flow.Upload(ctx, digest))
	assert.Equal(t, 1, relayHits)

	info, err := flow.Certify(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info.BlobID)
	assert.Equal(t, "0xblobobj", info.BlobObjectID)
	assert.True(t, info.Certified)

	// register then certify, in that order, on the same wallet client
	require.Len(t, chain.calls, 2)
	assert.Equal(t, "register_blob", chain.calls[0].Function)
	assert.Equal(t, "certify_blob", chain.calls[1].Function)
}

func TestRelayFlow_PhaseOrderEnforced(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler(), &chainStub{})
	flow := client.NewFlow([]byte("x"))
	ctx := context.Background()

	_, err := flow.Register(ctx, WriteOptions{Epochs: 1})
	assert.Error(t, err, "register requires encode")

	require.NoError(t, flow.Encode(ctx))
	err = flow.Upload(ctx, "digest")
	assert.Error(t, err, "upload requires register")

	_, err = flow.Certify(ctx)
	assert.Error(t, err, "certify requires upload")
}

func TestRelayFlow_TipTooLowOnUpload(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "tip too low for blob size", http.StatusPaymentRequired)
	})
	client, _ := newTestClient(t, handler, &chainStub{
		results: map[string]*sui.ExecuteResult{
			"register_blob": {Digest: "d", Status: "success"},
		},
	})

	flow := client.NewFlow([]byte("x"))
	ctx := context.Background()
	require.NoError(t, flow.Encode(ctx))
	_, err := flow.Register(ctx, WriteOptions{Epochs: 1})
	require.NoError(t, err)

	err = flow.Upload(ctx, "d")
	assert.ErrorIs(t, err, ErrTipTooLow)
}

func TestRelayFlow_EmptyBlob(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler(), &chainStub{})
	err := client.NewFlow(nil).Encode(context.Background())
	assert.Error(t, err)
}

func TestDefaultEndpoints(t *testing.T) {
	te := DefaultEndpoints(sui.Testnet)
	assert.Contains(t, te.RelayURL, "testnet")
	me := DefaultEndpoints(sui.Mainnet)
	assert.Contains(t, me.AggregatorURL, "mainnet")
}
