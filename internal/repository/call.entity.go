package repository

import (
	"time"

	"github.com/nimasrn/call-billing/internal/model"
)

type CallEntity struct {
	ID              int64       `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	ExternalID      string      `db:"external_id"      gorm:"column:external_id;not null;uniqueIndex"`
	UserID          int64       `db:"user_id"          gorm:"column:user_id;not null;index"`
	User            *UserEntity `                      gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE"`
	ToNumber        string      `db:"to_number"        gorm:"column:to_number;not null"`
	FromNumber      string      `db:"from_number"      gorm:"column:from_number;not null"`
	DurationSeconds int64       `db:"duration_seconds" gorm:"column:duration_seconds;not null;default:0"`
	Status          string      `db:"status"           gorm:"column:status;not null;index"`
	RecordingURL    string      `db:"recording_url"    gorm:"column:recording_url"`
	Transcript      string      `db:"transcript"       gorm:"column:transcript"`
	CostCents       *int64      `db:"cost_cents"       gorm:"column:cost_cents"` // null until billed
	BilledAt        *time.Time  `db:"billed_at"        gorm:"column:billed_at"`
	StartedAt       *time.Time  `db:"started_at"       gorm:"column:started_at"`
	CreatedAt       time.Time   `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time   `db:"updated_at"       gorm:"column:updated_at;autoUpdateTime"`
}

func (CallEntity) TableName() string {
	return "calls"
}

func toCallEntity(m *model.Call) *CallEntity {
	if m == nil {
		return nil
	}
	return &CallEntity{
		ID:              m.ID,
		ExternalID:      m.ExternalID,
		UserID:          m.UserID,
		ToNumber:        m.ToNumber,
		FromNumber:      m.FromNumber,
		DurationSeconds: m.DurationSeconds,
		Status:          string(m.Status),
		RecordingURL:    m.RecordingURL,
		Transcript:      m.Transcript,
		CostCents:       m.CostCents,
		BilledAt:        m.BilledAt,
		StartedAt:       m.StartedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func toCallModel(e *CallEntity) *model.Call {
	if e == nil {
		return nil
	}
	return &model.Call{
		ID:              e.ID,
		ExternalID:      e.ExternalID,
		UserID:          e.UserID,
		ToNumber:        e.ToNumber,
		FromNumber:      e.FromNumber,
		DurationSeconds: e.DurationSeconds,
		Status:          model.CallStatus(e.Status),
		RecordingURL:    e.RecordingURL,
		Transcript:      e.Transcript,
		CostCents:       e.CostCents,
		BilledAt:        e.BilledAt,
		StartedAt:       e.StartedAt,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func toCallModels(entities []*CallEntity) []*model.Call {
	if entities == nil {
		return nil
	}
	models := make([]*model.Call, len(entities))
	for i, e := range entities {
		models[i] = toCallModel(e)
	}
	return models
}
