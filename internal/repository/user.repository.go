package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/pkg/pg"
	"gorm.io/gorm"
)

type UserRepository struct {
	*pg.DB
}

func NewUserRepository(db *pg.DB) *UserRepository {
	return &UserRepository{
		db,
	}
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	entity := toUserEntity(u)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	return toUserModel(entity), nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var entity UserEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return toUserModel(&entity), nil
}

// ListVerified returns every verified user ordered by id.
func (r *UserRepository) ListVerified(ctx context.Context) ([]*model.User, error) {
	var entities []*UserEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("verified = ?", true).
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	return toUserModels(entities), nil
}

func (r *UserRepository) SetVerified(ctx context.Context, id int64, verified bool) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&UserEntity{}).
		Where("id = ?", id).
		Update("verified", verified)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
