package httpx

import (
	"encoding/json"
	"errors"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"log/slog"
	"net/http"
)

const (
	codeInvalidRequestBody = "invalid_request_body"
	codeUnknownTopic       = "unknown_topic"
	codeUnauthorized       = "unauthorized"
	codeStreamUnsupported  = "streaming_unsupported"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{Error: msg, Code: code})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// domainErrors maps every sentinel to a stable code. Order matters only
// where errors wrap each other.
var domainErrors = []struct {
	err    error
	status int
	code   string
}{
	{pos.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{pos.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
	{pos.ErrTableNotAvailable, http.StatusConflict, "table_not_available"},
	{pos.ErrNoOpenOrder, http.StatusConflict, "no_open_order"},
	{pos.ErrTableInUse, http.StatusConflict, "table_in_use"},
	{pos.ErrTableDisabled, http.StatusConflict, "table_disabled"},
	{pos.ErrConflict, http.StatusConflict, "conflict"},
	{pos.ErrDuplicate, http.StatusConflict, "already_exists"},
	{pos.ErrVoucherNotApplicable, http.StatusUnprocessableEntity, "voucher_not_applicable"},
	{pos.ErrRedemptionExceedsBalance, http.StatusUnprocessableEntity, "redemption_exceeds_balance"},
	{pos.ErrNegativeAmount, http.StatusUnprocessableEntity, "negative_amount"},
	{pos.ErrDishUnavailable, http.StatusUnprocessableEntity, "dish_unavailable"},
	{pos.ErrTableNotFound, http.StatusNotFound, "table_not_found"},
	{pos.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{pos.ErrItemNotFound, http.StatusNotFound, "item_not_found"},
	{pos.ErrDishNotFound, http.StatusNotFound, "dish_not_found"},
	{pos.ErrMemberNotFound, http.StatusNotFound, "member_not_found"},
	{pos.ErrEmptyOrder, http.StatusBadRequest, "empty_order"},
	{pos.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{pos.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{pos.ErrInvalidPoints, http.StatusBadRequest, "invalid_points"},
	{pos.ErrSameTable, http.StatusBadRequest, "same_table"},
	{pos.ErrItemCancelDisabled, http.StatusForbidden, "item_cancel_disabled"},
	{pos.ErrDispatchFailure, http.StatusServiceUnavailable, "dispatch_failure"},
}

// writeDomainError maps err to its status and code. Unknown errors are
// logged and reported as internal.
func writeDomainError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			writeError(w, d.status, d.code, err.Error())
			return
		}
	}
	if log == nil {
		log = slog.Default()
	}
	log.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
