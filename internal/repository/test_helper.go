package repository

import (
	"testing"

	"github.com/nimasrn/call-billing/pkg/pg"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testDB struct {
	*pg.DB
	rawDB *gorm.DB
}

// AllEntities lists every table the repositories touch, in dependency order.
func AllEntities() []any {
	return []any{
		&UserEntity{},
		&PhoneNumberEntity{},
		&CallEntity{},
		&WalletEntity{},
		&WalletTransactionEntity{},
	}
}

func setupTestDB(t *testing.T) *testDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// every pooled connection would otherwise open its own empty database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(AllEntities()...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = sqlDB.Close() })

	return &testDB{
		DB:    pg.New(db, db),
		rawDB: db,
	}
}
