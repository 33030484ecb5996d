package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store/models"
)

func newTestLedger(t *testing.T) (*Ledger, *store.GORMStore) {
	t.Helper()
	s, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "ledger.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s), s
}

func createUser(t *testing.T, s *store.GORMStore, balance float64) string {
	t.Helper()
	id, err := s.CreateUser(context.Background(), &models.User{
		Username:   "alice",
		BalanceUSD: balance,
	})
	require.NoError(t, err)
	return id
}

func TestDeduct_Success(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	userID := createUser(t, s, 10)

	newBalance, err := l.Deduct(ctx, userID, 0.25, "upload report.pdf")
	require.NoError(t, err)
	assert.InDelta(t, 9.75, newBalance, 1e-9)

	// The log must replay to the balance.
	sum, err := s.SumUserTransactions(ctx, userID)
	require.NoError(t, err)
	balance, err := l.Balance(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, balance-10, sum, 1e-9)

	txs, err := s.ListUserTransactions(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, broker.TransactionDebit, txs[0].Type)
	assert.InDelta(t, -0.25, txs[0].AmountUSD, 1e-9)
	assert.InDelta(t, 9.75, txs[0].BalanceAfter, 1e-9)
}

func TestDeduct_InsufficientBalance(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	userID := createUser(t, s, 0.01)

	_, err := l.Deduct(ctx, userID, 0.02, "upload")
	require.Error(t, err)
	assert.Equal(t, broker.CodeInsufficientBalance, broker.CodeOf(err))

	// Balance untouched, no transaction row.
	balance, err := l.Balance(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, 0.01, balance, 1e-9)
	txs, err := s.ListUserTransactions(ctx, userID, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestDeduct_InvalidAmount(t *testing.T) {
	l, s := newTestLedger(t)
	userID := createUser(t, s, 10)

	for _, amount := range []float64{0, -1} {
		_, err := l.Deduct(context.Background(), userID, amount, "x")
		assert.Equal(t, broker.CodeInputInvalid, broker.CodeOf(err))
	}
}

func TestDeduct_UnknownUser(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Deduct(context.Background(), "ghost", 1, "x")
	assert.Equal(t, broker.CodeNotFound, broker.CodeOf(err))
}

func TestCredit_AppliesOnce(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	userID := createUser(t, s, 5)

	balance, err := l.Credit(ctx, userID, 10, "top-up", "session-abc")
	require.NoError(t, err)
	assert.InDelta(t, 15, balance, 1e-9)

	// Replaying the billing webhook must not double-credit.
	balance, err = l.Credit(ctx, userID, 10, "top-up", "session-abc")
	require.NoError(t, err)
	assert.InDelta(t, 15, balance, 1e-9)

	txs, err := s.ListUserTransactions(ctx, userID, 10)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestCredit_RequiresReference(t *testing.T) {
	l, s := newTestLedger(t)
	userID := createUser(t, s, 0)

	_, err := l.Credit(context.Background(), userID, 10, "top-up", "")
	assert.Equal(t, broker.CodeInputInvalid, broker.CodeOf(err))
}

func TestIsTransientTxError(t *testing.T) {
	assert.True(t, isTransientTxError(errors.New("Unable to start a transaction")))
	assert.True(t, isTransientTxError(errors.New("pq: could not serialize access due to concurrent update")))
	assert.True(t, isTransientTxError(errors.New("database is locked")))
	assert.False(t, isTransientTxError(nil))
	assert.False(t, isTransientTxError(errors.New("syntax error")))
	// Domain errors never retry, whatever their message says.
	assert.False(t, isTransientTxError(broker.NewError(broker.CodeInsufficientBalance, "unable to start a transaction")))
}

func TestDeductThenCredit_LogSumsToBalance(t *testing.T) {
	l, s := newTestLedger(t)
	ctx := context.Background()
	userID := createUser(t, s, 20)

	_, err := l.Deduct(ctx, userID, 3, "upload a")
	require.NoError(t, err)
	_, err = l.Credit(ctx, userID, 7, "top-up", "ref-1")
	require.NoError(t, err)
	_, err = l.Deduct(ctx, userID, 0.5, "upload b")
	require.NoError(t, err)

	balance, err := l.Balance(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, 23.5, balance, 1e-9)

	sum, err := s.SumUserTransactions(ctx, userID)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, sum, 1e-9) // movements only; opening balance was seeded directly
}
