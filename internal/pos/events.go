package pos

import (
	"time"
)

const (
	EventOrderCreated           = "OrderCreated"
	EventOrderItemsAdded        = "OrderItemsAdded"
	EventOrderStatusChanged     = "OrderStatusChanged"
	EventOrderItemStatusChanged = "OrderItemStatusChanged"
	EventOrderTableChanged      = "OrderTableChanged"
	EventTableStatusChanged     = "TableStatusChanged"
	EventPaymentSettled         = "PaymentSettled"
)

const (
	AggregateOrder = "order"
	AggregateTable = "table"
)

// ---- Payload per event ----

type ItemLine struct {
	ItemID   string `json:"item_id"`
	DishID   string `json:"dish_id"`
	DishName string `json:"dish_name"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
	Status   string `json:"status"`
	Note     string `json:"note,omitempty"`
}

type OrderCreatedPayload struct {
	OrderID    string     `json:"order_id"`
	Code       string     `json:"code"`
	TableID    string     `json:"table_id,omitempty"`
	TableName  string     `json:"table_name,omitempty"`
	MemberID   string     `json:"member_id,omitempty"`
	Items      []ItemLine `json:"items"`
	TotalPrice string     `json:"total_price"`
}

type OrderItemsAddedPayload struct {
	OrderID    string     `json:"order_id"`
	TableID    string     `json:"table_id,omitempty"`
	TableName  string     `json:"table_name,omitempty"`
	Items      []ItemLine `json:"items"`
	TotalPrice string     `json:"total_price"`
}

type OrderStatusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	Code      string    `json:"code"`
	TableID   string    `json:"table_id,omitempty"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ChangedAt time.Time `json:"changed_at"`
}

// OrderTableChangedPayload is emitted when an order is moved by a table
// transfer or merge.
type OrderTableChangedPayload struct {
	OrderID    string    `json:"order_id"`
	Code       string    `json:"code"`
	OldTableID string    `json:"old_table_id"`
	NewTableID string    `json:"new_table_id"`
	ChangedAt  time.Time `json:"changed_at"`
}

// OrderItemStatusChangedPayload carries enough for a kitchen display to render
// without further lookups.
type OrderItemStatusChangedPayload struct {
	OrderID   string    `json:"order_id"`
	OrderCode string    `json:"order_code"`
	ItemID    string    `json:"item_id"`
	DishID    string    `json:"dish_id"`
	DishName  string    `json:"dish_name"`
	Quantity  int       `json:"quantity"`
	Note      string    `json:"note,omitempty"`
	TableID   string    `json:"table_id,omitempty"`
	TableName string    `json:"table_name,omitempty"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ChangedAt time.Time `json:"changed_at"`
}

type TableStatusChangedPayload struct {
	TableID      string    `json:"table_id"`
	TableName    string    `json:"table_name"`
	OldStatus    string    `json:"old_status"`
	NewStatus    string    `json:"new_status"`
	MergedRootID string    `json:"merged_root_id,omitempty"`
	OrderID      string    `json:"order_id,omitempty"`
	Reason       string    `json:"reason"`
	ChangedAt    time.Time `json:"changed_at"`
}

type PaymentSettledPayload struct {
	OrderID        string `json:"order_id"`
	OrderCode      string `json:"order_code"`
	TableID        string `json:"table_id,omitempty"`
	PaymentID      string `json:"payment_id"`
	Method         string `json:"method"`
	Subtotal       string `json:"subtotal"`
	TotalDiscount  string `json:"total_discount"`
	VoucherCode    string `json:"voucher_code,omitempty"`
	VATAmount      string `json:"vat_amount"`
	FinalAmount    string `json:"final_amount"`
	MemberID       string `json:"member_id,omitempty"`
	PointsRedeemed int64  `json:"points_redeemed"`
	PointsEarned   int64  `json:"points_earned"`
}

// ItemLines converts items to their event form.
func ItemLines(items []OrderItem) []ItemLine {
	out := make([]ItemLine, 0, len(items))
	for _, it := range items {
		out = append(out, ItemLine{
			ItemID:   it.ID,
			DishID:   it.DishID,
			DishName: it.DishName,
			Quantity: it.Quantity,
			Price:    it.Price.String(),
			Status:   string(it.Status),
			Note:     it.Note,
		})
	}
	return out
}
