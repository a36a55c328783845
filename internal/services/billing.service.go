package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/internal/repository"
	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/nimasrn/call-billing/pkg/prom"
	"github.com/shopspring/decimal"
)

const recentTransactionsLimit = 10

type CallRepository interface {
	Upsert(ctx context.Context, c *model.Call) (*model.Call, error)
	GetByID(ctx context.Context, id int64) (*model.Call, error)
	ListPending(ctx context.Context, f model.PendingCallFilter) ([]*model.Call, error)
	MarkBilled(ctx context.Context, id int64, costCents int64, billedAt time.Time) error
	CountsByUser(ctx context.Context, userID int64) (*model.CallCounts, error)
}

type WalletRepository interface {
	GetBalance(ctx context.Context, userID int64) (int64, error)
	EnsureWallet(ctx context.Context, userID int64) (*model.Wallet, error)
	Debit(ctx context.Context, userID int64, amount int64) (*model.Wallet, error)
	Credit(ctx context.Context, userID int64, amount int64) (*model.Wallet, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type WalletTransactionRepository interface {
	Create(ctx context.Context, txn *model.WalletTransaction) (*model.WalletTransaction, error)
	ListRecentByUser(ctx context.Context, userID int64, limit int) ([]*model.WalletTransaction, error)
}

type UserGetter interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// CostCents rounds the duration up to whole minutes and prices each minute.
func CostCents(durationSeconds, ratePerMinuteCents int64) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	return billableMinutes(durationSeconds) * ratePerMinuteCents
}

func billableMinutes(durationSeconds int64) int64 {
	if durationSeconds <= 0 {
		return 0
	}
	return (durationSeconds + 59) / 60
}

type BillingService struct {
	calls     CallRepository
	wallets   WalletRepository
	ledger    WalletTransactionRepository
	users     UserGetter
	rate      int64
	batchSize int
	now       func() time.Time
}

func NewBillingService(calls CallRepository, wallets WalletRepository, ledger WalletTransactionRepository, users UserGetter, ratePerMinuteCents int64, batchSize int) *BillingService {
	return &BillingService{
		calls:     calls,
		wallets:   wallets,
		ledger:    ledger,
		users:     users,
		rate:      ratePerMinuteCents,
		batchSize: repository.PendingLimit(batchSize),
		now:       time.Now,
	}
}

func (s *BillingService) RatePerMinuteCents() int64 {
	return s.rate
}

// BillCall debits the owner's wallet for one call, marks the call billed and
// appends the ledger row, all in one transaction. Refusal for lack of funds
// is a result with Success=false, not an error.
func (s *BillingService) BillCall(ctx context.Context, callID int64) (*model.BillingResult, error) {
	result := &model.BillingResult{CallID: callID}

	err := s.wallets.WithinTransaction(ctx, func(ctx context.Context) error {
		call, err := s.calls.GetByID(ctx, callID)
		if err != nil {
			return err
		}
		if call.IsBilled() {
			return ErrCallAlreadyBilled
		}
		if !call.IsBillable() {
			return fmt.Errorf("%w: status=%s duration=%ds", ErrCallNotBillable, call.Status, call.DurationSeconds)
		}

		cost := CostCents(call.DurationSeconds, s.rate)
		result.CostCents = cost

		wallet, err := s.wallets.Debit(ctx, call.UserID, cost)
		if err != nil {
			return err
		}

		if err := s.calls.MarkBilled(ctx, call.ID, cost, s.now().UTC()); err != nil {
			return err
		}

		callRef := call.ID
		_, err = s.ledger.Create(ctx, &model.WalletTransaction{
			WalletID:          wallet.ID,
			UserID:            call.UserID,
			AmountCents:       -cost,
			Type:              model.WalletTransactionDebit,
			CallID:            &callRef,
			ExternalCallID:    call.ExternalID,
			Description:       fmt.Sprintf("call %s: %d min at %d¢/min", call.ExternalID, billableMinutes(call.DurationSeconds), s.rate),
			IdempotencyKey:    model.CallDebitKey(call.ID),
			BalanceAfterCents: wallet.BalanceCents,
		})
		if err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}

		balance := wallet.BalanceCents
		result.BalanceAfterCents = &balance
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			prom.IncBillingResult("insufficient_funds")
			logger.Info("[billing] insufficient funds", "call_id", callID, "cost_cents", result.CostCents)
			result.Success = false
			result.Error = ErrInsufficientFunds.Error()
			return result, nil
		}
		prom.IncBillingResult("error")
		return nil, err
	}

	result.Success = true
	prom.IncBillingResult("billed")
	prom.AddBilledCents(result.CostCents)
	logger.Info("[billing] call billed", "call_id", callID, "cost_cents", result.CostCents, "balance_after_cents", *result.BalanceAfterCents)
	return result, nil
}

// ProcessPendingBills bills every pending call, optionally for one user.
// Failures are collected per call. A user without a wallet or account is
// skipped for the rest of the batch.
// ProcessPendingBills walks every pending call in pages of batchSize. Calls
// left unbilled stay behind the cursor, so one sweep visits each call once.
func (s *BillingService) ProcessPendingBills(ctx context.Context, userID *int64) (*model.BillingSummary, error) {
	summary := &model.BillingSummary{Errors: []model.CallBillingError{}}
	skipped := make(map[int64]string)

	var afterID int64
	for {
		calls, err := s.calls.ListPending(ctx, model.PendingCallFilter{UserID: userID, AfterID: afterID, Limit: s.batchSize})
		if err != nil {
			return nil, fmt.Errorf("list pending calls: %w", err)
		}

		for _, call := range calls {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			afterID = call.ID
			s.billPending(ctx, call, summary, skipped)
		}

		if len(calls) < s.batchSize {
			break
		}
	}

	logger.Info("[billing] pending bills processed",
		"processed", summary.Processed,
		"billed", summary.Billed,
		"failed", summary.Failed,
		"billed_cents", summary.TotalBilledCents)
	return summary, nil
}

func (s *BillingService) billPending(ctx context.Context, call *model.Call, summary *model.BillingSummary, skipped map[int64]string) {
	summary.Processed++
	if reason, ok := skipped[call.UserID]; ok {
		summary.Failed++
		summary.Errors = append(summary.Errors, model.CallBillingError{CallID: call.ID, UserID: call.UserID, Error: "skipped: " + reason})
		return
	}

	res, err := s.BillCall(ctx, call.ID)
	switch {
	case err == nil && res.Success:
		summary.Billed++
		summary.TotalBilledCents += res.CostCents
	case err == nil:
		summary.Failed++
		summary.Errors = append(summary.Errors, model.CallBillingError{CallID: call.ID, UserID: call.UserID, Error: res.Error})
	case errors.Is(err, ErrCallAlreadyBilled):
		// billed concurrently since the listing; nothing left to do
		summary.Processed--
	default:
		summary.Failed++
		summary.Errors = append(summary.Errors, model.CallBillingError{CallID: call.ID, UserID: call.UserID, Error: err.Error()})
		if errors.Is(err, ErrWalletNotFound) || errors.Is(err, ErrUserNotFound) {
			skipped[call.UserID] = err.Error()
		}
		logger.Warn("[billing] call billing failed", "call_id", call.ID, "user_id", call.UserID, "error", err)
	}
}

func (s *BillingService) Stats(ctx context.Context, userID int64) (*model.BillingStats, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	balance, err := s.wallets.GetBalance(ctx, userID)
	if err != nil && !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}

	counts, err := s.calls.CountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	recent, err := s.ledger.ListRecentByUser(ctx, userID, recentTransactionsLimit)
	if err != nil {
		return nil, err
	}
	if recent == nil {
		recent = []*model.WalletTransaction{}
	}

	return &model.BillingStats{
		UserID:             userID,
		BalanceCents:       balance,
		Balance:            decimal.New(balance, -2).StringFixed(2),
		TotalCalls:         counts.Total,
		BilledCalls:        counts.Billed,
		UnbilledCalls:      counts.Unbilled,
		TotalBilledCents:   counts.BilledCents,
		TotalBilledMinutes: counts.BilledMinutes,
		RecentTransactions: recent,
	}, nil
}

// Credit tops up a wallet, creating it first if the user has none.
func (s *BillingService) Credit(ctx context.Context, userID int64, amountCents int64, reference string) (*model.WalletTransaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	if reference == "" {
		reference = fmt.Sprintf("topup:%d:%d", userID, s.now().UnixNano())
	}

	var created *model.WalletTransaction
	err := s.wallets.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.wallets.EnsureWallet(ctx, userID); err != nil {
			return err
		}
		wallet, err := s.wallets.Credit(ctx, userID, amountCents)
		if err != nil {
			return err
		}
		created, err = s.ledger.Create(ctx, &model.WalletTransaction{
			WalletID:          wallet.ID,
			UserID:            userID,
			AmountCents:       amountCents,
			Type:              model.WalletTransactionCredit,
			Description:       "wallet top-up",
			IdempotencyKey:    "credit:" + reference,
			BalanceAfterCents: wallet.BalanceCents,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info("[billing] wallet credited", "user_id", userID, "amount_cents", amountCents, "balance_after_cents", created.BalanceAfterCents)
	return created, nil
}
