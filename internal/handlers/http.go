package handlers

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/nimasrn/call-billing/internal/services"
	xhttp "github.com/nimasrn/call-billing/pkg/http"
	"github.com/nimasrn/call-billing/pkg/logger"
	"github.com/nimasrn/call-billing/pkg/validation"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

// bind decodes the body into dst and validates it, writing the 400 reply
// itself when either step fails.
func bind(ctx *xhttp.RequestCtx, dst any) bool {
	if err := readJSON(ctx, dst); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	if err := validation.Struct(dst); err != nil {
		writeJSON(ctx, xhttp.StatusBadRequest, errorResponse{
			Error:   "validation failed",
			Details: validation.FormatValidationError(err),
		})
		return false
	}
	return true
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, errorResponse{Error: msg})
}

// writeServiceError maps service errors onto status codes. Anything
// unexpected is logged and hidden behind a 500.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrUserNotFound),
		errors.Is(err, services.ErrCallNotFound),
		errors.Is(err, services.ErrWalletNotFound):
		writeError(ctx, xhttp.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrSyncInProgress),
		errors.Is(err, services.ErrCallAlreadyBilled),
		errors.Is(err, services.ErrDuplicateLedger):
		writeError(ctx, xhttp.StatusConflict, err.Error())
	case errors.Is(err, services.ErrCallNotBillable):
		writeError(ctx, xhttp.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrInvalidAction):
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	default:
		logger.Error("[handlers] request failed",
			"path", string(ctx.Path()),
			"request_id", xhttp.RequestID(ctx),
			"error", err)
		writeError(ctx, xhttp.StatusInternalServerError, "internal server error")
	}
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt64(ctx *xhttp.RequestCtx, key string) (int64, error) {
	return strconv.ParseInt(query(ctx, key), 10, 64)
}
