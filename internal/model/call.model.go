package model

import (
	"strings"
	"time"
)

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
	CallStatusUnknown    CallStatus = "unknown"
)

var knownCallStatuses = map[CallStatus]struct{}{
	CallStatusQueued:     {},
	CallStatusRinging:    {},
	CallStatusInProgress: {},
	CallStatusCompleted:  {},
	CallStatusFailed:     {},
	CallStatusNoAnswer:   {},
	CallStatusBusy:       {},
	CallStatusCanceled:   {},
}

// ParseCallStatus maps a provider status string onto the local vocabulary.
// "No-Answer", "no answer" and "NO_ANSWER" all become no_answer.
func ParseCallStatus(s string) CallStatus {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if s == "cancelled" {
		s = string(CallStatusCanceled)
	}
	if _, ok := knownCallStatuses[CallStatus(s)]; ok {
		return CallStatus(s)
	}
	return CallStatusUnknown
}

type Call struct {
	ID              int64      `json:"id"`
	ExternalID      string     `json:"externalId"`
	UserID          int64      `json:"userId"`
	ToNumber        string     `json:"toNumber"`
	FromNumber      string     `json:"fromNumber"`
	DurationSeconds int64      `json:"durationSeconds"`
	Status          CallStatus `json:"status"`
	RecordingURL    string     `json:"recordingUrl,omitempty"`
	Transcript      string     `json:"transcript,omitempty"`
	CostCents       *int64     `json:"costCents"`
	BilledAt        *time.Time `json:"billedAt,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

func (c *Call) IsBilled() bool {
	return c.CostCents != nil
}

// IsBillable reports whether the call is waiting for a wallet debit.
func (c *Call) IsBillable() bool {
	return !c.IsBilled() && c.Status == CallStatusCompleted && c.DurationSeconds > 0
}

// PendingCallFilter selects unbilled, completed calls with a positive duration.
// AfterID pages through the set by id.
type PendingCallFilter struct {
	UserID  *int64
	AfterID int64
	Limit   int
}

type CallCounts struct {
	Total         int64 `json:"total"`
	Billed        int64 `json:"billed"`
	Unbilled      int64 `json:"unbilled"`
	BilledCents   int64 `json:"billedCents"`
	BilledMinutes int64 `json:"billedMinutes"`
}
