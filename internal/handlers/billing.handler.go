package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/call-billing/internal/model"
	"github.com/nimasrn/call-billing/internal/services"
	xhttp "github.com/nimasrn/call-billing/pkg/http"
)

const (
	actionProcessPending = "process_pending"
	actionBillCall       = "bill_call"
	actionTopUp          = "topup"
)

type BillingService interface {
	ProcessPendingBills(ctx context.Context, userID *int64) (*model.BillingSummary, error)
	BillCall(ctx context.Context, callID int64) (*model.BillingResult, error)
	Credit(ctx context.Context, userID int64, amountCents int64, reference string) (*model.WalletTransaction, error)
	Stats(ctx context.Context, userID int64) (*model.BillingStats, error)
}

type BillingHandler struct {
	svc BillingService
}

func RegisterBillingRoutes(e *router.Group, h *BillingHandler) {
	e.POST("/billing", h.Billing)
	e.GET("/billing", h.Stats)
}

func NewBillingHandler(svc BillingService) *BillingHandler {
	return &BillingHandler{
		svc: svc,
	}
}

type billingRequest struct {
	Action      string `json:"action"      validate:"required,oneof=process_pending bill_call topup"`
	UserID      *int64 `json:"userId"      validate:"required_if=Action topup,omitempty,gt=0"`
	CallID      int64  `json:"callId"      validate:"required_if=Action bill_call,omitempty,gt=0"`
	AmountCents int64  `json:"amountCents" validate:"required_if=Action topup,omitempty,gt=0"`
	Reference   string `json:"reference"   validate:"max=128"`
}

func (h *BillingHandler) Billing(ctx *xhttp.RequestCtx) {
	var req billingRequest
	if !bind(ctx, &req) {
		return
	}

	var (
		out any
		err error
	)
	switch req.Action {
	case actionProcessPending:
		out, err = h.svc.ProcessPendingBills(ctx, req.UserID)
	case actionBillCall:
		out, err = h.svc.BillCall(ctx, req.CallID)
	case actionTopUp:
		out, err = h.svc.Credit(ctx, *req.UserID, req.AmountCents, req.Reference)
	default:
		err = services.ErrInvalidAction
	}
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeJSON(ctx, xhttp.StatusOK, out)
}

func (h *BillingHandler) Stats(ctx *xhttp.RequestCtx) {
	userID, err := queryInt64(ctx, "userId")
	if err != nil || userID <= 0 {
		writeError(ctx, xhttp.StatusBadRequest, "userId query parameter is required")
		return
	}

	stats, err := h.svc.Stats(ctx, userID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, stats)
}
