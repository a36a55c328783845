package repository

import (
	"time"

	"github.com/nimasrn/call-billing/internal/model"
)

type WalletEntity struct {
	ID           int64       `db:"id"            gorm:"primaryKey;autoIncrement;column:id"`
	UserID       int64       `db:"user_id"       gorm:"column:user_id;not null;uniqueIndex"`
	User         *UserEntity `                   gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	BalanceCents int64       `db:"balance_cents" gorm:"column:balance_cents;not null;default:0;check:balance_cents >= 0"`
	UpdatedAt    time.Time   `db:"updated_at"    gorm:"column:updated_at;autoUpdateTime"`
}

func (WalletEntity) TableName() string {
	return "wallets"
}

func toWalletModel(e *WalletEntity) *model.Wallet {
	if e == nil {
		return nil
	}
	return &model.Wallet{
		ID:           e.ID,
		UserID:       e.UserID,
		BalanceCents: e.BalanceCents,
		UpdatedAt:    e.UpdatedAt,
	}
}
