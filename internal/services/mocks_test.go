package services

import (
	"context"
	"time"

	"github.com/nimasrn/call-billing/internal/model"
	"github.com/stretchr/testify/mock"
)

type MockCallRepository struct {
	mock.Mock
}

func (m *MockCallRepository) Upsert(ctx context.Context, c *model.Call) (*model.Call, error) {
	args := m.Called(ctx, c)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Call), args.Error(1)
}

func (m *MockCallRepository) GetByID(ctx context.Context, id int64) (*model.Call, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Call), args.Error(1)
}

func (m *MockCallRepository) ListPending(ctx context.Context, f model.PendingCallFilter) ([]*model.Call, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Call), args.Error(1)
}

func (m *MockCallRepository) MarkBilled(ctx context.Context, id int64, costCents int64, billedAt time.Time) error {
	args := m.Called(ctx, id, costCents, billedAt)
	return args.Error(0)
}

func (m *MockCallRepository) CountsByUser(ctx context.Context, userID int64) (*model.CallCounts, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CallCounts), args.Error(1)
}

type MockWalletRepository struct {
	mock.Mock
}

func (m *MockWalletRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockWalletRepository) EnsureWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}

func (m *MockWalletRepository) Debit(ctx context.Context, userID int64, amount int64) (*model.Wallet, error) {
	args := m.Called(ctx, userID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}

func (m *MockWalletRepository) Credit(ctx context.Context, userID int64, amount int64) (*model.Wallet, error) {
	args := m.Called(ctx, userID, amount)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Wallet), args.Error(1)
}

func (m *MockWalletRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

type MockWalletTransactionRepository struct {
	mock.Mock
}

func (m *MockWalletTransactionRepository) Create(ctx context.Context, txn *model.WalletTransaction) (*model.WalletTransaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.WalletTransaction), args.Error(1)
}

func (m *MockWalletTransactionRepository) ListRecentByUser(ctx context.Context, userID int64, limit int) ([]*model.WalletTransaction, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.WalletTransaction), args.Error(1)
}

type MockUserGetter struct {
	mock.Mock
}

func (m *MockUserGetter) GetByID(ctx context.Context, id int64) (*model.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.User), args.Error(1)
}
