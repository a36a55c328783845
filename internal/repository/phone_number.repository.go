package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/pkg/pg"
	"gorm.io/gorm"
)

type NumberNormalizer interface {
	Normalize(raw string) (string, error)
}

type PhoneNumberRepository struct {
	*pg.DB
	normalizer NumberNormalizer
}

func NewPhoneNumberRepository(db *pg.DB, normalizer NumberNormalizer) *PhoneNumberRepository {
	return &PhoneNumberRepository{
		DB:         db,
		normalizer: normalizer,
	}
}

// Create stores the number in E.164 form. Numbers that cannot be normalized
// are rejected with ErrInvalidPhoneNumber.
func (r *PhoneNumberRepository) Create(ctx context.Context, userID int64, number string, pathwayID *string) (*model.PhoneNumber, error) {
	e164, err := r.normalizer.Normalize(number)
	if err != nil {
		return nil, errors.Join(ErrInvalidPhoneNumber, err)
	}

	entity := &PhoneNumberEntity{
		UserID:    userID,
		Number:    e164,
		PathwayID: pathwayID,
	}
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicatePhone
		}
		return nil, err
	}

	return toPhoneNumberModel(entity), nil
}

func (r *PhoneNumberRepository) ListByUser(ctx context.Context, userID int64) ([]*model.PhoneNumber, error) {
	var entities []*PhoneNumberEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}

	return toPhoneNumberModels(entities), nil
}
