package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/pkg/pg"
	"gorm.io/gorm"
)

type WalletTransactionRepository struct {
	*pg.DB
}

func NewWalletTransactionRepository(db *pg.DB) *WalletTransactionRepository {
	return &WalletTransactionRepository{
		db,
	}
}

// Create appends a ledger row. A second row with the same idempotency key is
// rejected with ErrDuplicateLedgerItem.
func (r *WalletTransactionRepository) Create(ctx context.Context, txn *model.WalletTransaction) (*model.WalletTransaction, error) {
	entity := toWalletTransactionEntity(txn)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateLedgerItem
		}
		return nil, err
	}

	return toWalletTransactionModel(entity), nil
}

// ListRecentByUser returns the newest ledger rows first.
func (r *WalletTransactionRepository) ListRecentByUser(ctx context.Context, userID int64, limit int) ([]*model.WalletTransaction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 10
	}

	var entities []*WalletTransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	return toWalletTransactionModels(entities), nil
}

func (r *WalletTransactionRepository) ListByCall(ctx context.Context, callID int64) ([]*model.WalletTransaction, error) {
	var entities []*WalletTransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("call_id = ?", callID).
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	return toWalletTransactionModels(entities), nil
}
