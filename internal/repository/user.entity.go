package repository

import (
	"time"

	"github.com/nimasrn/call-billing/internal/model"
)

type UserEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	Email     string    `db:"email"      gorm:"column:email;not null;uniqueIndex"`
	Verified  bool      `db:"verified"   gorm:"column:verified;not null;default:false;index"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toUserEntity(m *model.User) *UserEntity {
	if m == nil {
		return nil
	}
	return &UserEntity{
		ID:        m.ID,
		Email:     m.Email,
		Verified:  m.Verified,
		CreatedAt: m.CreatedAt,
	}
}

func toUserModel(e *UserEntity) *model.User {
	if e == nil {
		return nil
	}
	return &model.User{
		ID:        e.ID,
		Email:     e.Email,
		Verified:  e.Verified,
		CreatedAt: e.CreatedAt,
	}
}

func toUserModels(entities []*UserEntity) []*model.User {
	if entities == nil {
		return nil
	}
	models := make([]*model.User, len(entities))
	for i, e := range entities {
		models[i] = toUserModel(e)
	}
	return models
}
