package services

import (
	"errors"

	"github.com/nimasrn/call-billing/internal/repository"
)

var (
	ErrSyncInProgress  = errors.New("sync already in progress for this user")
	ErrCallNotBillable = errors.New("call is not billable")
	ErrInvalidAction   = errors.New("invalid billing action")
)

var (
	ErrUserNotFound      = repository.ErrUserNotFound
	ErrWalletNotFound    = repository.ErrWalletNotFound
	ErrCallNotFound      = repository.ErrCallNotFound
	ErrInsufficientFunds = repository.ErrInsufficientFunds
	ErrCallAlreadyBilled = repository.ErrCallAlreadyBilled
	ErrInvalidAmount     = repository.ErrInvalidAmount
	ErrDuplicateLedger   = repository.ErrDuplicateLedgerItem
)
