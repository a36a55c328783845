package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// callUpsertColumns are the fields a re-sync may change. Billing columns and
// the owner are deliberately absent.
var callUpsertColumns = []string{
	"duration_seconds",
	"status",
	"recording_url",
	"transcript",
	"to_number",
	"from_number",
	"updated_at",
}

const (
	DefaultPendingLimit = 500
	MaxPendingLimit     = 10_000
)

type CallRepository struct {
	*pg.DB
}

func NewCallRepository(db *pg.DB) *CallRepository {
	return &CallRepository{
		db,
	}
}

// Upsert inserts the call or, when external_id already exists, refreshes its
// mutable fields. The stored row is returned.
func (r *CallRepository) Upsert(ctx context.Context, c *model.Call) (*model.Call, error) {
	entity := toCallEntity(c)
	entity.ID = 0
	entity.CostCents = nil
	entity.BilledAt = nil

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns(callUpsertColumns),
		}).
		Create(entity).
		Error
	if err != nil {
		return nil, err
	}

	return r.GetByExternalID(ctx, c.ExternalID)
}

func (r *CallRepository) GetByID(ctx context.Context, id int64) (*model.Call, error) {
	var entity CallEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}
	return toCallModel(&entity), nil
}

func (r *CallRepository) GetByExternalID(ctx context.Context, externalID string) (*model.Call, error) {
	var entity CallEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCallNotFound
		}
		return nil, err
	}
	return toCallModel(&entity), nil
}

// ListPending returns unbilled completed calls with a positive duration in
// id order, starting after f.AfterID.
func (r *CallRepository) ListPending(ctx context.Context, f model.PendingCallFilter) ([]*model.Call, error) {
	q := r.Read(ctx).WithContext(ctx).
		Model(&CallEntity{}).
		Where("cost_cents IS NULL").
		Where("status = ?", string(model.CallStatusCompleted)).
		Where("duration_seconds > 0")

	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if f.AfterID > 0 {
		q = q.Where("id > ?", f.AfterID)
	}

	var entities []*CallEntity
	if err := q.Order("id ASC").Limit(PendingLimit(f.Limit)).Find(&entities).Error; err != nil {
		return nil, err
	}
	return toCallModels(entities), nil
}

// PendingLimit normalizes a page size for ListPending.
func PendingLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultPendingLimit
	case n > MaxPendingLimit:
		return MaxPendingLimit
	}
	return n
}

// MarkBilled sets the cost of an unbilled call. A call that already carries a
// cost is left alone and ErrCallAlreadyBilled is returned.
func (r *CallRepository) MarkBilled(ctx context.Context, id int64, costCents int64, billedAt time.Time) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&CallEntity{}).
		Where("id = ? AND cost_cents IS NULL", id).
		Updates(map[string]any{
			"cost_cents": costCents,
			"billed_at":  billedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrCallAlreadyBilled
	}
	return nil
}

// CountsByUser aggregates the call and billing totals of one user. Billed
// minutes are rounded up per call, the same way the cost is.
func (r *CallRepository) CountsByUser(ctx context.Context, userID int64) (*model.CallCounts, error) {
	var row struct {
		Total         int64
		Billed        int64
		BilledCents   int64
		BilledMinutes int64
	}
	err := r.Read(ctx).WithContext(ctx).
		Model(&CallEntity{}).
		Select(`COUNT(*) AS total,
			COUNT(cost_cents) AS billed,
			CAST(COALESCE(SUM(cost_cents), 0) AS BIGINT) AS billed_cents,
			CAST(COALESCE(SUM(CASE WHEN cost_cents IS NOT NULL THEN (duration_seconds + 59) / 60 ELSE 0 END), 0) AS BIGINT) AS billed_minutes`).
		Where("user_id = ?", userID).
		Scan(&row).
		Error
	if err != nil {
		return nil, err
	}

	return &model.CallCounts{
		Total:         row.Total,
		Billed:        row.Billed,
		Unbilled:      row.Total - row.Billed,
		BilledCents:   row.BilledCents,
		BilledMinutes: row.BilledMinutes,
	}, nil
}

func (r *CallRepository) CountByUser(ctx context.Context, userID int64) (int64, error) {
	var total int64
	err := r.Read(ctx).WithContext(ctx).
		Model(&CallEntity{}).
		Where("user_id = ?", userID).
		Count(&total).
		Error
	return total, err
}
