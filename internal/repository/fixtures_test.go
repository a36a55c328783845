package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/nimasrn/call-billing/internal/model"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, db *testDB, id int64, verified bool) {
	t.Helper()
	err := db.rawDB.Create(&UserEntity{
		ID:       id,
		Email:    fmt.Sprintf("user%d@example.com", id),
		Verified: verified,
	}).Error
	require.NoError(t, err)
}

func seedWallet(t *testing.T, db *testDB, userID, balance int64) {
	t.Helper()
	err := db.rawDB.Create(&WalletEntity{UserID: userID, BalanceCents: balance}).Error
	require.NoError(t, err)
}

func seedCall(t *testing.T, repo *CallRepository, userID int64, externalID string, duration int64, status model.CallStatus) *model.Call {
	t.Helper()
	c, err := repo.Upsert(context.Background(), &model.Call{
		ExternalID:      externalID,
		UserID:          userID,
		ToNumber:        "+14155550100",
		FromNumber:      "+14155550199",
		DurationSeconds: duration,
		Status:          status,
	})
	require.NoError(t, err)
	return c
}

func ptr(i int64) *int64 {
	return &i
}
