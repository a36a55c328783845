package model

import (
	"strconv"
	"time"
)

type Wallet struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	BalanceCents int64     `json:"balanceCents"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type WalletTransactionType string

const (
	WalletTransactionDebit  WalletTransactionType = "debit"
	WalletTransactionCredit WalletTransactionType = "credit"
)

// WalletTransaction is an append-only ledger row. AmountCents is negative
// for debits.
type WalletTransaction struct {
	ID                int64                 `json:"id"`
	WalletID          int64                 `json:"walletId"`
	UserID            int64                 `json:"userId"`
	AmountCents       int64                 `json:"amountCents"`
	Type              WalletTransactionType `json:"type"`
	CallID            *int64                `json:"callId,omitempty"`
	ExternalCallID    string                `json:"externalCallId,omitempty"`
	Description       string                `json:"description"`
	IdempotencyKey    string                `json:"idempotencyKey"`
	BalanceAfterCents int64                 `json:"balanceAfterCents"`
	CreatedAt         time.Time             `json:"createdAt"`
}

func CallDebitKey(callID int64) string {
	return "call-debit:" + strconv.FormatInt(callID, 10)
}
