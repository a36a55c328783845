package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var walletReturning = clause.Returning{Columns: []clause.Column{
	{Name: "id"},
	{Name: "user_id"},
	{Name: "balance_cents"},
	{Name: "updated_at"},
}}

type WalletRepository struct {
	*pg.DB
}

func NewWalletRepository(db *pg.DB) *WalletRepository {
	return &WalletRepository{
		db,
	}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID int64) (*model.Wallet, error) {
	var entity WalletEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return toWalletModel(&entity), nil
}

func (r *WalletRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var entity WalletEntity
	err := r.Read(ctx).WithContext(ctx).
		Select("balance_cents").
		Where("user_id = ?", userID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrWalletNotFound
		}
		return 0, err
	}
	return entity.BalanceCents, nil
}

// EnsureWallet returns the user's wallet, creating an empty one if needed.
func (r *WalletRepository) EnsureWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	entity := &WalletEntity{UserID: userID}
	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(entity).
		Error
	if err != nil {
		return nil, err
	}
	return r.GetByUserID(ctx, userID)
}

// Debit subtracts amount from the wallet in one conditional UPDATE and
// returns the wallet with its new balance. The row is only touched when it can cover the
// amount, so the balance never goes negative and no read lock is needed.
func (r *WalletRepository) Debit(ctx context.Context, userID int64, amount int64) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	const maxRetries = 3
	const baseDelay = 2 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		w, err := r.debitAttempt(ctx, userID, amount)
		if err == nil {
			return w, nil
		}

		if !errors.Is(err, ErrConcurrentUpdate) {
			return nil, err
		}

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt) // 2ms, 4ms, 8ms
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return nil, fmt.Errorf("%w: failed after %d attempts", ErrMaxRetriesExceeded, maxRetries+1)
}

func (r *WalletRepository) debitAttempt(ctx context.Context, userID int64, amount int64) (*model.Wallet, error) {
	var entity WalletEntity
	res := r.Write(ctx).WithContext(ctx).
		Model(&entity).
		Clauses(walletReturning).
		Where("user_id = ? AND balance_cents >= ?", userID, amount).
		Update("balance_cents", gorm.Expr("balance_cents - ?", amount))
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		return nil, r.checkDebitFailureReason(ctx, userID, amount)
	}

	return toWalletModel(&entity), nil
}

// checkDebitFailureReason works out why the conditional UPDATE matched no row.
func (r *WalletRepository) checkDebitFailureReason(ctx context.Context, userID int64, amount int64) error {
	balance, err := r.GetBalance(ctx, userID)
	if err != nil {
		return err
	}

	if balance < amount {
		return ErrInsufficientFunds
	}

	// the balance covers the amount now, so it moved between the two statements
	return ErrConcurrentUpdate
}

// Credit adds amount to an existing wallet and returns it with the new balance.
func (r *WalletRepository) Credit(ctx context.Context, userID int64, amount int64) (*model.Wallet, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var entity WalletEntity
	res := r.Write(ctx).WithContext(ctx).
		Model(&entity).
		Clauses(walletReturning).
		Where("user_id = ?", userID).
		Update("balance_cents", gorm.Expr("balance_cents + ?", amount))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrWalletNotFound
	}

	return toWalletModel(&entity), nil
}
