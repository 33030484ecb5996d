package store

import (
	"context"

	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store/models"
)

// ============================================
// TRANSACTION OPERATIONS
// ============================================

// The transaction log is append-only. Rows are written inside the
// ledger's database transaction, never directly by handlers; the store
// only exposes reads here.

func (s *GORMStore) ListUserTransactions(ctx context.Context, userID string, limit int) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	q := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&txs).Error
	return txs, err
}

// GetTransactionByReference resolves a credit by its external billing
// reference, the idempotency key for top-ups.
func (s *GORMStore) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&tx).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrTransactionNotFound)
	}
	return &tx, nil
}

// SumUserTransactions returns the signed sum of a user's transaction
// amounts. It must always equal the user's balance.
func (s *GORMStore) SumUserTransactions(ctx context.Context, userID string) (float64, error) {
	var sum float64
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount_usd), 0)").
		Scan(&sum).Error
	return sum, err
}
