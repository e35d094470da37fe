package httpx

import (
	"context"
	"errors"
	"github.com/ariefcatur/resto-pos/internal/app"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/go-chi/chi/v5"
	"log/slog"
	"net/http"
	"strings"
)

// Idempotency backs the Idempotency-Key header on order creation.
type Idempotency interface {
	Claim(ctx context.Context, key string) (orderID string, claimed bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

type OrdersHandler struct {
	Orders     *app.OrderService
	Tables     *app.TableService
	Settlement *app.SettlementService
	Idem       Idempotency // optional
	Log        *slog.Logger
}

type itemReq struct {
	DishID   string `json:"dish_id"`
	Quantity int    `json:"quantity"`
	Note     string `json:"note"`
}

type createOrderReq struct {
	TableID  string    `json:"table_id"`
	MemberID string    `json:"member_id"`
	Items    []itemReq `json:"items"`
}

type addItemsReq struct {
	Items []itemReq `json:"items"`
}

type changeTableReq struct {
	OldTableID string `json:"old_table_id"`
	NewTableID string `json:"new_table_id"`
}

type itemStatusReq struct {
	Status string `json:"status"`
}

type settleReq struct {
	VoucherCode  string `json:"voucher_code"`
	MemberID     string `json:"member_id"`
	RedeemPoints int64  `json:"redeem_points"`
	Method       string `json:"method"`
}

func (q settleReq) input(orderID string) app.SettleInput {
	return app.SettleInput{
		OrderID:      orderID,
		VoucherCode:  q.VoucherCode,
		MemberID:     q.MemberID,
		RedeemPoints: q.RedeemPoints,
		Method:       q.Method,
	}
}

type settleResp struct {
	Order   orderResp   `json:"order"`
	Payment paymentResp `json:"payment"`
}

func toItemInputs(in []itemReq) []app.ItemInput {
	out := make([]app.ItemInput, 0, len(in))
	for _, it := range in {
		out = append(out, app.ItemInput{DishID: it.DishID, Quantity: it.Quantity, Note: it.Note})
	}
	return out
}

func (h *OrdersHandler) Register(r chi.Router) {
	withTimeout(r, func(r chi.Router) {
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Post("/orders/{id}/items", h.addItems)
		r.Post("/orders/{id}/send", h.sendToKitchen)
		r.Post("/orders/{id}/cancel", h.cancel)
		r.Post("/orders/{id}/table", h.changeTable)
		r.Post("/orders/{id}/items/{itemId}/status", h.changeItemStatus)
		r.Post("/orders/{id}/quote", h.quote)
		r.Post("/orders/{id}/settle", h.settle)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.Idem != nil {
		orderID, claimed, err := h.Idem.Claim(ctx, key)
		switch {
		case errors.Is(err, pos.ErrConflict):
			writeDomainError(w, r, h.Log, err)
			return
		case err != nil:
			// idempotency is best effort when Redis is unavailable
			h.logger().Warn("idempotency claim failed", slog.String("error", err.Error()))
			key = ""
		case !claimed:
			detail, err := h.Orders.Get(ctx, orderID)
			if err != nil {
				writeDomainError(w, r, h.Log, err)
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusOK, toOrderDetail(detail))
			return
		}
	} else {
		key = ""
	}

	detail, err := h.Orders.Create(ctx, app.CreateOrderInput{
		TableID:  req.TableID,
		MemberID: req.MemberID,
		Items:    toItemInputs(req.Items),
	})
	if err != nil {
		if key != "" {
			_ = h.Idem.Release(context.WithoutCancel(ctx), key)
		}
		writeDomainError(w, r, h.Log, err)
		return
	}
	if key != "" {
		if err := h.Idem.Complete(context.WithoutCancel(ctx), key, detail.Order.ID); err != nil {
			// the order exists; the client still gets it and the claim expires
			h.logger().Error("idempotency complete failed", slog.String("order_id", detail.Order.ID), slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusCreated, toOrderDetail(detail))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Orders.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDetail(detail))
}

func (h *OrdersHandler) addItems(w http.ResponseWriter, r *http.Request) {
	var req addItemsReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	detail, err := h.Orders.AddItems(r.Context(), chi.URLParam(r, "id"), toItemInputs(req.Items))
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDetail(detail))
}

func (h *OrdersHandler) sendToKitchen(w http.ResponseWriter, r *http.Request) {
	detail, err := h.Orders.SendToKitchen(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDetail(detail))
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *OrdersHandler) changeTable(w http.ResponseWriter, r *http.Request) {
	var req changeTableReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	o, err := h.Tables.ChangeTable(r.Context(), chi.URLParam(r, "id"), req.OldTableID, req.NewTableID)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *OrdersHandler) changeItemStatus(w http.ResponseWriter, r *http.Request) {
	var req itemStatusReq
	if !decodeJSON(w, r, &req, false) {
		return
	}
	to := pos.ItemStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	it, err := h.Orders.ChangeItemStatus(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"), to)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(it))
}

func (h *OrdersHandler) quote(w http.ResponseWriter, r *http.Request) {
	var req settleReq
	if !decodeJSON(w, r, &req, true) {
		return
	}
	res, err := h.Settlement.Quote(r.Context(), req.input(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *OrdersHandler) settle(w http.ResponseWriter, r *http.Request) {
	var req settleReq
	if !decodeJSON(w, r, &req, true) {
		return
	}
	orderID := chi.URLParam(r, "id")
	receipt, err := h.Settlement.Settle(r.Context(), req.input(orderID))
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	detail, err := h.Orders.Get(r.Context(), orderID)
	if err != nil {
		writeDomainError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, settleResp{Order: toOrder(detail.Order), Payment: toPayment(receipt.Payment)})
}

func (h *OrdersHandler) logger() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}
