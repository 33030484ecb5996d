// Package ledger owns balance movements. Every change to a user's
// balance goes through a serializable database transaction that also
// appends the matching Transaction row, so the append-only log always
// sums to the balance.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mysten-labs-capstone/walrus-sub003/internal/logger"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/broker"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store"
	"github.com/mysten-labs-capstone/walrus-sub003/pkg/store/models"
)

const (
	// txTimeout bounds one ledger transaction end to end.
	txTimeout = 15 * time.Second

	// maxRetries and retryBase govern retries of transient begin failures.
	maxRetries = 3
	retryBase  = 500 * time.Millisecond
)

// Ledger applies debits and credits against the user store.
type Ledger struct {
	store *store.GORMStore
}

// New builds a ledger over the given store.
func New(s *store.GORMStore) *Ledger {
	return &Ledger{store: s}
}

// Deduct removes amountUSD from the user's balance and appends a debit
// row. Insufficient balance aborts immediately; transient failures to
// start the transaction are retried with linear backoff. Returns the new
// balance.
func (l *Ledger) Deduct(ctx context.Context, userID string, amountUSD float64, description string) (float64, error) {
	if amountUSD <= 0 {
		return 0, broker.NewError(broker.CodeInputInvalid,
			fmt.Sprintf("deduct amount must be positive, got %.4f", amountUSD))
	}

	var newBalance float64
	err := l.withRetries(ctx, func(txCtx context.Context) error {
		return l.serializable(txCtx, func(tx *gorm.DB) error {
			var user models.User
			if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return broker.NewError(broker.CodeNotFound, "user "+userID+" not found")
				}
				return err
			}

			if user.BalanceUSD < amountUSD {
				return broker.NewError(broker.CodeInsufficientBalance,
					fmt.Sprintf("balance %.4f below charge %.4f", user.BalanceUSD, amountUSD))
			}

			newBalance = user.BalanceUSD - amountUSD
			if err := tx.Model(&user).Update("balance_usd", newBalance).Error; err != nil {
				return err
			}

			return tx.Create(&models.Transaction{
				ID:           uuid.New().String(),
				UserID:       userID,
				Type:         broker.TransactionDebit,
				AmountUSD:    -amountUSD,
				BalanceAfter: newBalance,
				Description:  description,
			}).Error
		})
	})
	if err != nil {
		return 0, err
	}

	logger.Debug("balance deducted",
		logger.UserID(userID),
		slog.Float64(logger.KeyAmountUSD, amountUSD),
		slog.Float64(logger.KeyBalance, newBalance))
	return newBalance, nil
}

// Credit applies an external top-up keyed by reference. Replaying the
// same reference returns the original balance without a second credit.
func (l *Ledger) Credit(ctx context.Context, userID string, amountUSD float64, description, reference string) (float64, error) {
	if amountUSD <= 0 {
		return 0, broker.NewError(broker.CodeInputInvalid,
			fmt.Sprintf("credit amount must be positive, got %.4f", amountUSD))
	}
	if reference == "" {
		return 0, broker.NewError(broker.CodeInputInvalid, "credit reference is required")
	}

	var newBalance float64
	err := l.withRetries(ctx, func(txCtx context.Context) error {
		return l.serializable(txCtx, func(tx *gorm.DB) error {
			var existing models.Transaction
			err := tx.Where("reference = ?", reference).First(&existing).Error
			if err == nil {
				newBalance = existing.BalanceAfter
				return nil
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}

			var user models.User
			if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return broker.NewError(broker.CodeNotFound, "user "+userID+" not found")
				}
				return err
			}

			newBalance = user.BalanceUSD + amountUSD
			if err := tx.Model(&user).Update("balance_usd", newBalance).Error; err != nil {
				return err
			}

			ref := reference
			return tx.Create(&models.Transaction{
				ID:           uuid.New().String(),
				UserID:       userID,
				Type:         broker.TransactionCredit,
				AmountUSD:    amountUSD,
				BalanceAfter: newBalance,
				Description:  description,
				Reference:    &ref,
			}).Error
		})
	})
	if err != nil {
		return 0, err
	}

	logger.Info("balance credited",
		logger.UserID(userID),
		slog.Float64(logger.KeyAmountUSD, amountUSD),
		slog.Float64(logger.KeyBalance, newBalance))
	return newBalance, nil
}

// Balance reads the current balance outside any transaction.
func (l *Ledger) Balance(ctx context.Context, userID string) (float64, error) {
	user, err := l.store.GetUserByID(ctx, userID)
	if err != nil {
		if err == models.ErrUserNotFound {
			return 0, broker.NewError(broker.CodeNotFound, "user "+userID+" not found")
		}
		return 0, err
	}
	return user.BalanceUSD, nil
}

// serializable runs fn in a serializable transaction bounded by txTimeout.
func (l *Ledger) serializable(ctx context.Context, fn func(tx *gorm.DB) error) error {
	txCtx, cancel := context.WithTimeout(ctx, txTimeout)
	defer cancel()

	return l.store.DB().WithContext(txCtx).Transaction(fn, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// withRetries retries fn on transient transaction-begin failures with
// backoff retryBase × attempt. Domain errors pass through untouched.
func (l *Ledger) withRetries(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil || !isTransientTxError(lastErr) {
			return lastErr
		}

		logger.Warn("ledger transaction retry",
			logger.Attempt(attempt),
			logger.Err(lastErr))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBase * time.Duration(attempt)):
		}
	}
	return lastErr
}

// isTransientTxError matches begin/serialization failures worth retrying.
func isTransientTxError(err error) bool {
	if err == nil {
		return false
	}
	if broker.CodeOf(err) != broker.CodeUnknown {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unable to start a transaction") ||
		strings.Contains(msg, "could not serialize access") ||
		strings.Contains(msg, "database is locked")
}
