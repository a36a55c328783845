package repository

import (
	"time"

	"github.com/nimasrn/call-billing/internal/model"
)

type PhoneNumberEntity struct {
	ID        int64       `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	UserID    int64       `db:"user_id"    gorm:"column:user_id;not null;index"`
	User      *UserEntity `                gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	Number    string      `db:"number"     gorm:"column:number;not null;uniqueIndex"`
	PathwayID *string     `db:"pathway_id" gorm:"column:pathway_id"`
	CreatedAt time.Time   `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (PhoneNumberEntity) TableName() string {
	return "phone_numbers"
}

func toPhoneNumberModel(e *PhoneNumberEntity) *model.PhoneNumber {
	if e == nil {
		return nil
	}
	return &model.PhoneNumber{
		ID:        e.ID,
		UserID:    e.UserID,
		Number:    e.Number,
		PathwayID: e.PathwayID,
		CreatedAt: e.CreatedAt,
	}
}

func toPhoneNumberModels(entities []*PhoneNumberEntity) []*model.PhoneNumber {
	if entities == nil {
		return nil
	}
	models := make([]*model.PhoneNumber, len(entities))
	for i, e := range entities {
		models[i] = toPhoneNumberModel(e)
	}
	return models
}
