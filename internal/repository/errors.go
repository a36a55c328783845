package repository

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrCallNotFound        = errors.New("call not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrCallAlreadyBilled   = errors.New("call already billed")
	ErrConcurrentUpdate    = errors.New("concurrent update detected")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
	ErrInvalidPhoneNumber  = errors.New("invalid phone number")
	ErrDuplicateEmail      = errors.New("email already exists")
	ErrDuplicatePhone      = errors.New("phone number already registered")
	ErrDuplicateLedgerItem = errors.New("ledger entry already exists")
	ErrInvalidAmount       = errors.New("amount must be positive")
)
