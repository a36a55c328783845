package model

import "time"

type SyncResult struct {
	Success bool     `json:"success"`
	Synced  int      `json:"synced"`
	Billed  int      `json:"billed"`
	Errors  []string `json:"errors"`
}

type UserSyncError struct {
	UserID int64  `json:"userId"`
	Error  string `json:"error"`
}

type ScheduledSyncResult struct {
	TotalUsers       int             `json:"totalUsers"`
	TotalCallsSynced int             `json:"totalCallsSynced"`
	SuccessfulUsers  int             `json:"successfulUsers"`
	FailedUsers      int             `json:"failedUsers"`
	Errors           []UserSyncError `json:"errors"`
}

// SyncJob asks a processor to sync one user. RunID groups the jobs of one
// scheduler tick.
type SyncJob struct {
	RunID      string    `json:"runId"`
	UserID     int64     `json:"userId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
