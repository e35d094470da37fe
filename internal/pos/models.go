package pos

import (
	"github.com/shopspring/decimal"
	"time"
)

type Table struct {
	ID           string
	Name         string
	Capacity     int
	Status       TableStatus
	MergedRootID string // set only while Status == TableMerged
	Disabled     bool
	UpdatedAt    time.Time
}

type Dish struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Available bool
}

type Order struct {
	ID         string
	Code       string
	TableID    string // empty for takeaway
	Status     OrderStatus
	MemberID   string
	TotalPrice decimal.Decimal // recomputed from non-canceled items
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type OrderItem struct {
	ID        string
	OrderID   string
	DishID    string
	DishName  string
	Quantity  int
	Price     decimal.Decimal // snapshot at order time
	Status    ItemStatus
	Note      string
	Position  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineTotal is price x quantity.
func (it OrderItem) LineTotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Total sums non-canceled items.
func Total(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.Status == ItemCanceled {
			continue
		}
		total = total.Add(it.LineTotal())
	}
	return total
}

type Voucher struct {
	Code           string
	Type           DiscountType
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	MaxDiscount    decimal.Decimal // zero means uncapped
	UsageLimit     int             // zero means unlimited
	UsedCount      int
	StartsAt       time.Time
	EndsAt         time.Time
	Status         VoucherStatus
}

type Member struct {
	ID     string
	Name   string
	Phone  string
	Points int64
}

type LoyaltyEntry struct {
	ID        string
	MemberID  string
	OrderID   string
	Delta     int64
	Reason    string // REDEEM | EARN
	CreatedAt time.Time
}

const (
	LoyaltyRedeem = "REDEEM"
	LoyaltyEarn   = "EARN"
)

// Payment is the persisted settlement of an order.
type Payment struct {
	ID                 string
	OrderID            string
	Method             string
	Subtotal           decimal.Decimal
	VoucherCode        string
	VoucherDiscount    decimal.Decimal
	DefaultDiscount    decimal.Decimal
	TotalDiscount      decimal.Decimal
	AfterDiscount      decimal.Decimal
	PointsRedeemed     int64
	RedemptionDiscount decimal.Decimal
	AmountBeforeVAT    decimal.Decimal
	VATRate            decimal.Decimal
	VATAmount          decimal.Decimal
	FinalAmount        decimal.Decimal
	PointsEarned       int64
	CreatedAt          time.Time
}
