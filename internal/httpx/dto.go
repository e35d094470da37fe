package httpx

import (
	"github.com/ariefcatur/resto-pos/internal/app"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"time"
)

type tableResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Capacity     int       `json:"capacity"`
	Status       string    `json:"status"`
	MergedRootID string    `json:"merged_root_id,omitempty"`
	Disabled     bool      `json:"disabled,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toTable(t pos.Table) tableResp {
	return tableResp{
		ID:           t.ID,
		Name:         t.Name,
		Capacity:     t.Capacity,
		Status:       string(t.Status),
		MergedRootID: t.MergedRootID,
		Disabled:     t.Disabled,
		UpdatedAt:    t.UpdatedAt,
	}
}

type itemResp struct {
	ID        string    `json:"id"`
	DishID    string    `json:"dish_id"`
	DishName  string    `json:"dish_name"`
	Quantity  int       `json:"quantity"`
	Price     string    `json:"price"`
	Status    string    `json:"status"`
	Note      string    `json:"note,omitempty"`
	Position  int       `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toItem(it pos.OrderItem) itemResp {
	return itemResp{
		ID:        it.ID,
		DishID:    it.DishID,
		DishName:  it.DishName,
		Quantity:  it.Quantity,
		Price:     it.Price.String(),
		Status:    string(it.Status),
		Note:      it.Note,
		Position:  it.Position,
		UpdatedAt: it.UpdatedAt,
	}
}

func toItems(items []pos.OrderItem) []itemResp {
	out := make([]itemResp, 0, len(items))
	for _, it := range items {
		out = append(out, toItem(it))
	}
	return out
}

type orderResp struct {
	ID         string     `json:"id"`
	Code       string     `json:"code"`
	TableID    string     `json:"table_id,omitempty"`
	Status     string     `json:"status"`
	MemberID   string     `json:"member_id,omitempty"`
	TotalPrice string     `json:"total_price"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Items      []itemResp `json:"items,omitempty"`
}

func toOrder(o pos.Order) orderResp {
	return orderResp{
		ID:         o.ID,
		Code:       o.Code,
		TableID:    o.TableID,
		Status:     string(o.Status),
		MemberID:   o.MemberID,
		TotalPrice: o.TotalPrice.String(),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func toOrderDetail(d app.OrderDetail) orderResp {
	out := toOrder(d.Order)
	out.Items = toItems(d.Items)
	return out
}

type paymentResp struct {
	ID                 string    `json:"id"`
	OrderID            string    `json:"order_id"`
	Method             string    `json:"method"`
	Subtotal           string    `json:"subtotal"`
	VoucherCode        string    `json:"voucher_code,omitempty"`
	VoucherDiscount    string    `json:"voucher_discount"`
	DefaultDiscount    string    `json:"default_discount"`
	TotalDiscount      string    `json:"total_discount"`
	AfterDiscount      string    `json:"amount_after_discount"`
	PointsRedeemed     int64     `json:"points_redeemed"`
	RedemptionDiscount string    `json:"redemption_discount"`
	AmountBeforeVAT    string    `json:"amount_before_vat"`
	VATRate            string    `json:"vat_rate"`
	VATAmount          string    `json:"vat_amount"`
	FinalAmount        string    `json:"final_amount"`
	PointsEarned       int64     `json:"points_earned"`
	CreatedAt          time.Time `json:"created_at"`
}

func toPayment(p pos.Payment) paymentResp {
	return paymentResp{
		ID:                 p.ID,
		OrderID:            p.OrderID,
		Method:             p.Method,
		Subtotal:           p.Subtotal.String(),
		VoucherCode:        p.VoucherCode,
		VoucherDiscount:    p.VoucherDiscount.String(),
		DefaultDiscount:    p.DefaultDiscount.String(),
		TotalDiscount:      p.TotalDiscount.String(),
		AfterDiscount:      p.AfterDiscount.String(),
		PointsRedeemed:     p.PointsRedeemed,
		RedemptionDiscount: p.RedemptionDiscount.String(),
		AmountBeforeVAT:    p.AmountBeforeVAT.String(),
		VATRate:            p.VATRate.String(),
		VATAmount:          p.VATAmount.String(),
		FinalAmount:        p.FinalAmount.String(),
		PointsEarned:       p.PointsEarned,
		CreatedAt:          p.CreatedAt,
	}
}

type kitchenTicketResp struct {
	OrderID   string     `json:"order_id"`
	OrderCode string     `json:"order_code"`
	TableID   string     `json:"table_id,omitempty"`
	TableName string     `json:"table_name,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	Items     []itemResp `json:"items"`
}

func toKitchen(tickets []app.KitchenTicket) []kitchenTicketResp {
	out := make([]kitchenTicketResp, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, kitchenTicketResp{
			OrderID:   t.OrderID,
			OrderCode: t.OrderCode,
			TableID:   t.TableID,
			TableName: t.TableName,
			CreatedAt: t.CreatedAt,
			Items:     toItems(t.Items),
		})
	}
	return out
}

type tableViewResp struct {
	tableResp
	Order             *orderResp     `json:"order,omitempty"`
	ItemCounts        map[string]int `json:"item_counts,omitempty"`
	WaitingForPayment bool           `json:"waiting_for_payment"`
}

func toTableViews(views []app.TableView) []tableViewResp {
	out := make([]tableViewResp, 0, len(views))
	for _, v := range views {
		row := tableViewResp{tableResp: toTable(v.Table), WaitingForPayment: v.WaitingForPayment}
		if v.Order != nil {
			o := toOrder(*v.Order)
			row.Order = &o
		}
		if len(v.ItemCounts) > 0 {
			row.ItemCounts = make(map[string]int, len(v.ItemCounts))
			for st, n := range v.ItemCounts {
				row.ItemCounts[string(st)] = n
			}
		}
		out = append(out, row)
	}
	return out
}
