package model

type BillingResult struct {
	Success           bool   `json:"success"`
	CallID            int64  `json:"callId"`
	CostCents         int64  `json:"costCents"`
	BalanceAfterCents *int64 `json:"balanceAfterCents,omitempty"`
	Error             string `json:"error,omitempty"`
}

type CallBillingError struct {
	CallID int64  `json:"callId"`
	UserID int64  `json:"userId"`
	Error  string `json:"error"`
}

type BillingSummary struct {
	Processed        int                `json:"processed"`
	Billed           int                `json:"billed"`
	Failed           int                `json:"failed"`
	TotalBilledCents int64              `json:"totalBilledCents"`
	Errors           []CallBillingError `json:"errors"`
}

type BillingStats struct {
	UserID             int64                `json:"userId"`
	BalanceCents       int64                `json:"balanceCents"`
	Balance            string               `json:"balance"`
	TotalCalls         int64                `json:"totalCalls"`
	BilledCalls        int64                `json:"billedCalls"`
	UnbilledCalls      int64                `json:"unbilledCalls"`
	TotalBilledCents   int64                `json:"totalBilledCents"`
	TotalBilledMinutes int64                `json:"totalBilledMinutes"`
	RecentTransactions []*WalletTransaction `json:"recentTransactions"`
}
