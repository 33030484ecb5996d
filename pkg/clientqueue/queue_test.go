package clientqueue

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/envelope"
)

// fakeUploader scripts intake responses and records upload order.
type fakeUploader struct {
	mu    sync.Mutex
	errs  map[string]error // filename -> error
	order []string         // filenames in upload order
}

func (u *fakeUploader) Upload(_ context.Context, item Item, blob []byte) (*broker.Receipt, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.order = append(u.order, item.Filename)
	if err := u.errs[item.Filename]; err != nil {
		return nil, err
	}
	return &broker.Receipt{
		FileID:     "file-" + item.ID,
		TempBlobID: "temp_" + item.ID,
		S3Key:      item.UserID + "/pending/temp_" + item.ID + "/" + item.Filename,
		UploadMode: "async",
	}, nil
}

func newTestQueue(t *testing.T, uploader Uploader, opts Options) *Queue {
	t.Helper()
	if opts.InterItemDelay == 0 {
		opts.InterItemDelay = time.Millisecond
	}
	q, err := Open(t.TempDir(), uploader, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueue_RoundTrip(t *testing.T) {
	q := newTestQueue(t, &fakeUploader{}, Options{})
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "alice", "report.pdf", []byte("content"), 3, false)
	require.NoError(t, err)
	assert.Equal(t, broker.UploadQueued, item.Status)
	assert.Equal(t, int64(7), item.SizeBytes)

	got, err := q.Get("alice", item.ID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", got.Filename)

	blob, err := q.Blob("alice", item.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), blob)

	items, err := q.List("alice")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestEnqueue_SealsWhenEncrypting(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	q := newTestQueue(t, &fakeUploader{}, Options{RootKey: key})
	plaintext := []byte("secret bytes")

	item, err := q.Enqueue(context.Background(), "alice", "s.bin", plaintext, 1, true)
	require.NoError(t, err)
	assert.True(t, item.Encrypted)
	assert.Len(t, item.EnvelopeID, 64)

	blob, err := q.Blob("alice", item.ID)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, blob)

	opened, err := envelope.Open(key, blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestEnqueue_EncryptWithoutKey(t *testing.T) {
	q := newTestQueue(t, &fakeUploader{}, Options{})
	_, err := q.Enqueue(context.Background(), "alice", "s.bin", []byte("x"), 1, true)
	assert.Equal(t, broker.CodeInputInvalid, broker.CodeOf(err))
}

func TestRemove(t *testing.T) {
	q := newTestQueue(t, &fakeUploader{}, Options{})
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "alice", "a.txt", []byte("a"), 1, false)
	require.NoError(t, err)
	require.NoError(t, q.Remove("alice", item.ID))

	_, err = q.Get("alice", item.ID)
	assert.Equal(t, broker.CodeNotFound, broker.CodeOf(err))
	_, err = q.Blob("alice", item.ID)
	assert.Equal(t, broker.CodeNotFound, broker.CodeOf(err))

	items, err := q.List("alice")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestProcessOne_Success(t *testing.T) {
	uploader := &fakeUploader{}
	q := newTestQueue(t, uploader, Options{})
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "alice", "a.txt", []byte("payload"), 1, false)
	require.NoError(t, err)
	require.NoError(t, q.ProcessOne(ctx, "alice", item.ID))

	got, err := q.Get("alice", item.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.UploadDone, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.Receipt)
	assert.Equal(t, "file-"+item.ID, got.Receipt.FileID)

	// Payload bytes are relinquished once the server holds them.
	_, err = q.Blob("alice", item.ID)
	assert.Equal(t, broker.CodeNotFound, broker.CodeOf(err))
}

func TestProcessOne_RetryableFailure(t *testing.T) {
	uploader := &fakeUploader{errs: map[string]error{
		"a.txt": &UploadError{StatusCode: 503, Message: "service unavailable"},
	}}
	q := newTestQueue(t, uploader, Options{})
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "alice", "a.txt", []byte("payload"), 1, false)
	require.NoError(t, err)
	err = q.ProcessOne(ctx, "alice", item.ID)
	require.Error(t, err)

	got, err := q.Get("alice", item.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.UploadRetrying, got.Status)
	assert.Equal(t, 503, got.LastStatus)
	assert.Equal(t, "service unavailable", got.LastError)
	// First retry waits the base backoff.
	assert.WithinDuration(t, time.Now().Add(10*time.Second), got.NextAttemptAt, 2*time.Second)

	// Bytes are kept for the retry.
	_, err = q.Blob("alice", item.ID)
	require.NoError(t, err)
}

func TestProcessOne_ExhaustsAttempts(t *testing.T) {
	uploader := &fakeUploader{errs: map[string]error{
		"a.txt": &UploadError{StatusCode: 503, Message: "service unavailable"},
	}}
	q := newTestQueue(t, uploader, Options{MaxAttempts: 2})
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "alice", "a.txt", []byte("payload"), 1, false)
	require.NoError(t, err)

	// First failure retries, second exhausts the budget.
	_ = q.ProcessOne(ctx, "alice", item.ID)
	got, err := q.Get("alice", item.ID)
	require.NoError(t, err)
	require.Equal(t, broker.UploadRetrying, got.Status)

	_ = q.ProcessOne(ctx, "alice", item.ID)
	got, err = q.Get("alice", item.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.UploadError, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestProcessOne_NonRetryableFailure(t *testing.T) {
	uploader := &fakeUploader{errs: map[string]error{
		"a.txt": &UploadError{StatusCode: 402, Message: "Insufficient balance"},
	}}
	q := newTestQueue(t, uploader, Options{})
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "alice", "a.txt", []byte("payload"), 1, false)
	require.NoError(t, err)
	_ = q.ProcessOne(ctx, "alice", item.ID)

	got, err := q.Get("alice", item.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.UploadError, got.Status)
}

func TestProcessQueue_SmallestFirst(t *testing.T) {
	uploader := &fakeUploader{}
	q := newTestQueue(t, uploader, Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "alice", "large.bin", make([]byte, 3000), 1, false)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "alice", "small.bin", make([]byte, 10), 1, false)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "alice", "medium.bin", make([]byte, 300), 1, false)
	require.NoError(t, err)

	require.NoError(t, q.ProcessQueue(ctx, "alice"))

	assert.Equal(t, []string{"small.bin", "medium.bin", "large.bin"}, uploader.order)
}

func TestProcessQueue_SkipsBackedOffItems(t *testing.T) {
	uploader := &fakeUploader{errs: map[string]error{
		"fail.bin": &UploadError{StatusCode: 500, Message: "boom"},
	}}
	q := newTestQueue(t, uploader, Options{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "alice", "fail.bin", []byte("x"), 1, false)
	require.NoError(t, err)

	require.NoError(t, q.ProcessQueue(ctx, "alice"))

	// One attempt made; the item now waits out its backoff, so a second
	// drain finds nothing ready.
	require.NoError(t, q.ProcessQueue(ctx, "alice"))
	uploader.mu.Lock()
	attempts := len(uploader.order)
	uploader.mu.Unlock()
	assert.Equal(t, 1, attempts)
}

func TestRetryErrorFiles(t *testing.T) {
	uploader := &fakeUploader{errs: map[string]error{
		"a.txt": &UploadError{StatusCode: 400, Message: "Missing required field"},
	}}
	q := newTestQueue(t, uploader, Options{})
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "alice", "a.txt", []byte("x"), 1, false)
	require.NoError(t, err)
	_ = q.ProcessOne(ctx, "alice", item.ID)

	got, _ := q.Get("alice", item.ID)
	require.Equal(t, broker.UploadError, got.Status)

	n, err := q.RetryErrorFiles("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = q.Get("alice", item.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.UploadQueued, got.Status)
	assert.Zero(t, got.Attempts)
	assert.Empty(t, got.LastError)
}

func TestClearStuckFiles(t *testing.T) {
	q := newTestQueue(t, &fakeUploader{}, Options{})
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "alice", "a.txt", []byte("x"), 1, false)
	require.NoError(t, err)

	// Strand the item in uploading, then age it past the threshold.
	got, err := q.Get("alice", item.ID)
	require.NoError(t, err)
	got.Status = broker.UploadUploading
	require.NoError(t, q.saveItem(got))

	q.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	n, err := q.ClearStuckFiles("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = q.Get("alice", item.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.UploadError, got.Status)
	assert.Equal(t, "Upload timed out", got.LastError)

	// The user can send it again from there.
	n, err = q.RetryErrorFiles("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateQueuedEpochs(t *testing.T) {
	q := newTestQueue(t, &fakeUploader{}, Options{})
	ctx := context.Background()

	a, err := q.Enqueue(ctx, "alice", "a.txt", []byte("x"), 3, false)
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, "alice", "b.txt", []byte("y"), 3, false)
	require.NoError(t, err)

	// Finished items keep their epochs.
	require.NoError(t, q.ProcessOne(ctx, "alice", b.ID))

	n, err := q.UpdateQueuedEpochs("alice", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := q.Get("alice", a.ID)
	assert.Equal(t, 5, got.Epochs)
	got, _ = q.Get("alice", b.ID)
	assert.Equal(t, 3, got.Epochs)
}

func TestStartupRecovery(t *testing.T) {
	q := newTestQueue(t, &fakeUploader{}, Options{})
	ctx := context.Background()

	setStatus := func(id string, mutate func(*Item)) {
		t.Helper()
		got, err := q.Get("alice", id)
		require.NoError(t, err)
		mutate(got)
		require.NoError(t, q.saveItem(got))
	}

	// An upload that was in flight when the last run died 10 minutes ago.
	stale, err := q.Enqueue(ctx, "alice", "stale.txt", []byte("x"), 1, false)
	require.NoError(t, err)
	past := time.Now().Add(-10 * time.Minute)
	q.now = func() time.Time { return past }
	setStatus(stale.ID, func(i *Item) { i.Status = broker.UploadUploading })
	q.now = time.Now

	// An upload interrupted moments ago.
	interrupted, err := q.Enqueue(ctx, "alice", "cut.txt", []byte("x"), 1, false)
	require.NoError(t, err)
	setStatus(interrupted.ID, func(i *Item) { i.Status = broker.UploadUploading })

	// A retry whose schedule died with the process.
	orphan, err := q.Enqueue(ctx, "alice", "orphan.txt", []byte("x"), 1, false)
	require.NoError(t, err)
	setStatus(orphan.ID, func(i *Item) {
		i.Status = broker.UploadRetrying
		i.LastError = "boom"
	})

	// A finished upload whose record outlived its linger.
	finished, err := q.Enqueue(ctx, "alice", "done.txt", []byte("x"), 1, false)
	require.NoError(t, err)
	setStatus(finished.ID, func(i *Item) { i.Status = broker.UploadDone })

	require.NoError(t, q.recoverStartup())

	got, err := q.Get("alice", stale.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.UploadError, got.Status)
	assert.Equal(t, "Upload timed out", got.LastError)

	got, err = q.Get("alice", interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.UploadQueued, got.Status)

	got, err = q.Get("alice", orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, broker.UploadError, got.Status)
	assert.Equal(t, "boom", got.LastError)

	_, err = q.Get("alice", finished.ID)
	assert.Equal(t, broker.CodeNotFound, broker.CodeOf(err))
	items, err := q.List("alice")
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestProcessOne_DoneItemRemoved(t *testing.T) {
	q := newTestQueue(t, &fakeUploader{}, Options{})
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "alice", "a.txt", []byte("x"), 1, false)
	require.NoError(t, err)
	require.NoError(t, q.ProcessOne(ctx, "alice", item.ID))

	// The record lingers briefly, then goes away on its own.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := q.Get("alice", item.ID); broker.CodeOf(err) == broker.CodeNotFound {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("done item still present after linger")
}

func TestProcessQueue_SweepsDoneItems(t *testing.T) {
	q := newTestQueue(t, &fakeUploader{}, Options{})
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "alice", "a.txt", []byte("x"), 1, false)
	require.NoError(t, err)

	got, err := q.Get("alice", item.ID)
	require.NoError(t, err)
	got.Status = broker.UploadDone
	require.NoError(t, q.saveItem(got))

	q.now = func() time.Time { return time.Now().Add(5 * time.Second) }
	require.NoError(t, q.ProcessQueue(ctx, "alice"))

	items, err := q.List("alice")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestObserver(t *testing.T) {
	var mu sync.Mutex
	var seen []broker.UploadStatus
	q := newTestQueue(t, &fakeUploader{}, Options{
		Observer: func(item Item) {
			mu.Lock()
			seen = append(seen, item.Status)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	item, err := q.Enqueue(ctx, "alice", "a.txt", []byte("x"), 1, false)
	require.NoError(t, err)
	require.NoError(t, q.ProcessOne(ctx, "alice", item.ID))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []broker.UploadStatus{
		broker.UploadQueued,
		broker.UploadUploading,
		broker.UploadDone,
	}, seen)
}

func TestBackoff_Schedule(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 60 * time.Second},
		{10, 60 * time.Second},
		{0, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestUploadTimeout_ScalesWithSize(t *testing.T) {
	assert.Equal(t, 60*time.Second, UploadTimeout(0))
	assert.Equal(t, 60*time.Second, UploadTimeout(512*1024))
	assert.Equal(t, 70*time.Second, UploadTimeout(10<<20))
	assert.Equal(t, 160*time.Second, UploadTimeout(100<<20))
}

func TestRetryable_Rules(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   bool
	}{
		{"insufficient balance", &UploadError{StatusCode: 402, Message: "Insufficient balance"}, 402, false},
		{"file too large", &UploadError{StatusCode: 413, Message: "File too large"}, 413, false},
		{"missing field", &UploadError{StatusCode: 400, Message: "Missing required field userId"}, 400, false},
		{"user aborted", &UploadError{StatusCode: 0, Message: "request aborted"}, 0, false},
		{"no response", &UploadError{StatusCode: 0, Message: "network down"}, 0, true},
		{"request timeout", &UploadError{StatusCode: 408, Message: "timeout"}, 408, true},
		{"rate limited", &UploadError{StatusCode: 429, Message: "too many requests"}, 429, true},
		{"server error", &UploadError{StatusCode: 500, Message: "internal"}, 500, true},
		{"bad gateway", &UploadError{StatusCode: 502, Message: "bad gateway"}, 502, true},
		{"host unreachable", &UploadError{StatusCode: 418, Message: "host unreachable"}, 418, true},
		{"server down", &UploadError{StatusCode: 404, Message: "server may be down"}, 404, true},
		{"reset by peer", &UploadError{StatusCode: 418, Message: "ECONNRESET"}, 418, true},
		{"other 4xx defaults retryable", &UploadError{StatusCode: 415, Message: "unsupported media type"}, 415, true},
		{"unknown defaults retryable", &UploadError{StatusCode: 0, Message: "something odd"}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err, tt.status))
		})
	}
}
