package quote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/prices"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	now := time.Now()
	s := NewStore(prices.Static(2.00, 0.10))
	s.now = func() time.Time { return now }
	return s, &now
}

func TestStore_MintAndConsume(t *testing.T) {
	s, _ := newTestStore(t)

	q, err := s.Mint(context.Background(), "user-1", []FileSpec{
		{TempID: "temp_a", SizeBytes: 1024, Epochs: 3},
	})
	require.NoError(t, err)
	require.Len(t, q.PerFile, 1)
	assert.Equal(t, 0.01, q.PerFile[0].CostUSD)
	assert.Equal(t, 3*DaysPerEpoch, q.PerFile[0].StorageDays)

	got, err := s.Consume(q.QuoteID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, q.QuoteID, got.QuoteID)
}

func TestStore_ConsumeIsSingleUse(t *testing.T) {
	s, _ := newTestStore(t)

	q, err := s.Mint(context.Background(), "user-1", []FileSpec{{TempID: "t", SizeBytes: 1}})
	require.NoError(t, err)

	_, err = s.Consume(q.QuoteID, "user-1")
	require.NoError(t, err)

	_, err = s.Consume(q.QuoteID, "user-1")
	require.Error(t, err)
	assert.Equal(t, broker.CodeQuoteInvalid, broker.CodeOf(err))
}

func TestStore_ConsumeWrongUser(t *testing.T) {
	s, _ := newTestStore(t)

	q, err := s.Mint(context.Background(), "user-1", []FileSpec{{TempID: "t", SizeBytes: 1}})
	require.NoError(t, err)

	_, err = s.Consume(q.QuoteID, "user-2")
	require.Error(t, err)
	assert.Equal(t, broker.CodeQuoteInvalid, broker.CodeOf(err))

	// The failed consume must not burn the quote for its real owner.
	_, err = s.Consume(q.QuoteID, "user-1")
	assert.NoError(t, err)
}

func TestStore_ExpiredQuoteNeverConsumes(t *testing.T) {
	s, now := newTestStore(t)

	q, err := s.Mint(context.Background(), "user-1", []FileSpec{{TempID: "t", SizeBytes: 1}})
	require.NoError(t, err)

	*now = now.Add(TTL + time.Second)

	_, err = s.Consume(q.QuoteID, "user-1")
	require.Error(t, err)
	assert.Equal(t, broker.CodeQuoteInvalid, broker.CodeOf(err))
}

func TestStore_SweepRunsOnRead(t *testing.T) {
	s, now := newTestStore(t)

	_, err := s.Mint(context.Background(), "user-1", []FileSpec{{TempID: "a", SizeBytes: 1}})
	require.NoError(t, err)
	_, err = s.Mint(context.Background(), "user-1", []FileSpec{{TempID: "b", SizeBytes: 1}})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	*now = now.Add(TTL + time.Minute)
	assert.Equal(t, 0, s.Len())
}

func TestStore_DefaultEpochsApplied(t *testing.T) {
	s, _ := newTestStore(t)

	q, err := s.Mint(context.Background(), "user-1", []FileSpec{{TempID: "t", SizeBytes: 1024}})
	require.NoError(t, err)
	assert.Equal(t, DefaultEpochs, q.PerFile[0].Epochs)
}
