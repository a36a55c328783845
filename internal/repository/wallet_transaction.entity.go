package repository

import (
	"time"

	"github.com/nimasrn/call-billing/internal/model"
)

type WalletTransactionEntity struct {
	ID                int64         `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	WalletID          int64         `db:"wallet_id"           gorm:"column:wallet_id;not null;index"`
	Wallet            *WalletEntity `                         gorm:"foreignKey:WalletID;references:ID;constraint:OnDelete:CASCADE"`
	UserID            int64         `db:"user_id"             gorm:"column:user_id;not null;index"`
	AmountCents       int64         `db:"amount_cents"        gorm:"column:amount_cents;not null"` // negative for debits
	Type              string        `db:"type"                gorm:"column:type;not null"`
	CallID            *int64        `db:"call_id"             gorm:"column:call_id;index"`
	Call              *CallEntity   `                         gorm:"foreignKey:CallID;references:ID;constraint:OnDelete:SET NULL"`
	ExternalCallID    string        `db:"external_call_id"    gorm:"column:external_call_id"`
	Description       string        `db:"description"         gorm:"column:description"`
	IdempotencyKey    string        `db:"idempotency_key"     gorm:"column:idempotency_key;not null;uniqueIndex"`
	BalanceAfterCents int64         `db:"balance_after_cents" gorm:"column:balance_after_cents;not null"`
	CreatedAt         time.Time     `db:"created_at"          gorm:"column:created_at;autoCreateTime"`
}

func (WalletTransactionEntity) TableName() string {
	return "wallet_transactions"
}

func toWalletTransactionEntity(m *model.WalletTransaction) *WalletTransactionEntity {
	if m == nil {
		return nil
	}
	return &WalletTransactionEntity{
		ID:                m.ID,
		WalletID:          m.WalletID,
		UserID:            m.UserID,
		AmountCents:       m.AmountCents,
		Type:              string(m.Type),
		CallID:            m.CallID,
		ExternalCallID:    m.ExternalCallID,
		Description:       m.Description,
		IdempotencyKey:    m.IdempotencyKey,
		BalanceAfterCents: m.BalanceAfterCents,
		CreatedAt:         m.CreatedAt,
	}
}

func toWalletTransactionModel(e *WalletTransactionEntity) *model.WalletTransaction {
	if e == nil {
		return nil
	}
	return &model.WalletTransaction{
		ID:                e.ID,
		WalletID:          e.WalletID,
		UserID:            e.UserID,
		AmountCents:       e.AmountCents,
		Type:              model.WalletTransactionType(e.Type),
		CallID:            e.CallID,
		ExternalCallID:    e.ExternalCallID,
		Description:       e.Description,
		IdempotencyKey:    e.IdempotencyKey,
		BalanceAfterCents: e.BalanceAfterCents,
		CreatedAt:         e.CreatedAt,
	}
}

func toWalletTransactionModels(entities []*WalletTransactionEntity) []*model.WalletTransaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.WalletTransaction, len(entities))
	for i, e := range entities {
		models[i] = toWalletTransactionModel(e)
	}
	return models
}
