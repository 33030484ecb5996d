package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store/models"
)

func newTestStore(t *testing.T) *GORMStore {
	t.Helper()
	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func createTestUser(t *testing.T, s *GORMStore, username string, balance float64) *models.User {
	t.Helper()
	user := &models.User{Username: username, BalanceUSD: balance, WalletAddress: "0xwallet-" + username}
	_, err := s.CreateUser(context.Background(), user)
	require.NoError(t, err)
	return user
}

func TestUsers_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := createTestUser(t, s, "alice", 5)

	byName, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)
	assert.Equal(t, 5.0, byName.BalanceUSD)

	byID, err := s.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
}

func TestUsers_DuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	createTestUser(t, s, "alice", 0)

	_, err := s.CreateUser(context.Background(), &models.User{Username: "alice"})
	assert.ErrorIs(t, err, models.ErrDuplicateUser)
}

func TestUsers_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestFiles_CreateDefaultsToPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "alice", 0)

	id, err := s.CreateFile(ctx, &models.File{
		UserID:     user.ID,
		Filename:   "report.pdf",
		SizeBytes:  1024,
		Epochs:     3,
		TempBlobID: "temp_abc",
		StagedKey:  "alice/pending/temp_abc/report.pdf",
	})
	require.NoError(t, err)

	file, err := s.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, broker.FilePending, file.Status)
	assert.Nil(t, file.BlobID)
}

func TestFiles_ClaimLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "alice", 0)

	id, err := s.CreateFile(ctx, &models.File{UserID: user.ID, Filename: "f", SizeBytes: 1})
	require.NoError(t, err)

	claimed, err := s.ClaimFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, broker.FileProcessing, claimed.Status)

	// A second claim while processing conflicts.
	_, err = s.ClaimFile(ctx, id)
	require.Error(t, err)
	assert.Equal(t, broker.CodeConflict, broker.CodeOf(err))

	// Release back to pending makes it claimable again.
	require.NoError(t, s.ReleaseFile(ctx, id, "relay timeout"))
	file, err := s.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, broker.FilePending, file.Status)
	assert.Equal(t, "relay timeout", file.ErrorMessage)

	_, err = s.ClaimFile(ctx, id)
	require.NoError(t, err)
}

func TestFiles_ClaimFailedFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "alice", 0)

	id, err := s.CreateFile(ctx, &models.File{UserID: user.ID, Filename: "f", SizeBytes: 1})
	require.NoError(t, err)
	require.NoError(t, s.FailFile(ctx, id, "out of gas"))

	// Failed files stay dispatchable for operator retries.
	claimed, err := s.ClaimFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, broker.FileProcessing, claimed.Status)
	assert.Empty(t, claimed.ErrorMessage)
}

func TestFiles_CompleteRequiresBlobID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "alice", 0)

	id, err := s.CreateFile(ctx, &models.File{UserID: user.ID, Filename: "f", SizeBytes: 1})
	require.NoError(t, err)

	err = s.CompleteFile(ctx, id, "", "", "key")
	assert.Error(t, err)

	require.NoError(t, s.CompleteFile(ctx, id, "blob-xyz", "0xobj", "alice/blob-xyz/f"))
	file, err := s.GetFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, broker.FileCompleted, file.Status)
	require.NotNil(t, file.BlobID)
	assert.Equal(t, "blob-xyz", *file.BlobID)
	assert.Equal(t, "alice/blob-xyz/f", file.StagedKey)
	assert.NotNil(t, file.CompletedAt)

	byBlob, err := s.GetFileByBlobID(ctx, "blob-xyz")
	require.NoError(t, err)
	assert.Equal(t, id, byBlob.ID)

	// Completed files are not dispatchable.
	_, err = s.ClaimFile(ctx, id)
	assert.Equal(t, broker.CodeConflict, broker.CodeOf(err))
}

func TestFiles_ListPendingOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "alice", 0)

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		id, err := s.CreateFile(ctx, &models.File{UserID: user.ID, Filename: name, SizeBytes: 1})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	// Completed files are excluded from the pending list.
	require.NoError(t, s.CompleteFile(ctx, ids[1], "blob-b", "", "k"))

	pending, err := s.ListPendingFiles(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ids[0], pending[0].ID)
	assert.Equal(t, ids[2], pending[1].ID)
}

func TestTransactions_SumMatchesBalanceInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "alice", 0)

	ref := "billing-session-1"
	require.NoError(t, s.DB().Create(&models.Transaction{
		ID: "tx-1", UserID: user.ID, Type: broker.TransactionCredit,
		AmountUSD: 10, BalanceAfter: 10, Reference: &ref,
	}).Error)
	require.NoError(t, s.DB().Create(&models.Transaction{
		ID: "tx-2", UserID: user.ID, Type: broker.TransactionDebit,
		AmountUSD: -0.25, BalanceAfter: 9.75, Description: "upload report.pdf",
	}).Error)

	sum, err := s.SumUserTransactions(ctx, user.ID)
	require.NoError(t, err)
	assert.InDelta(t, 9.75, sum, 1e-9)

	byRef, err := s.GetTransactionByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", byRef.ID)

	txs, err := s.ListUserTransactions(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestTransactions_ReferenceUnique(t *testing.T) {
	s := newTestStore(t)
	user := createTestUser(t, s, "alice", 0)

	ref := "billing-session-1"
	require.NoError(t, s.DB().Create(&models.Transaction{
		ID: "tx-1", UserID: user.ID, Type: broker.TransactionCredit,
		AmountUSD: 10, BalanceAfter: 10, Reference: &ref,
	}).Error)

	err := s.DB().Create(&models.Transaction{
		ID: "tx-2", UserID: user.ID, Type: broker.TransactionCredit,
		AmountUSD: 10, BalanceAfter: 20, Reference: &ref,
	}).Error
	assert.True(t, isUniqueConstraintError(err))
}
