package app

import (
	"context"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"time"
)

// Repository is the transactional store behind every use case. Lock* methods
// take an exclusive per-aggregate lock held until the enclosing transaction
// ends and fail with pos.ErrConflict when the lock cannot be acquired in time.
// Tables are always locked before orders.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateTable(ctx context.Context, t pos.Table) error
	GetTable(ctx context.Context, id string) (pos.Table, error)
	// LockTables locks in ascending id order and returns the locked rows.
	LockTables(ctx context.Context, ids ...string) (map[string]pos.Table, error)
	UpdateTable(ctx context.Context, t pos.Table) error
	ListTables(ctx context.Context) ([]pos.Table, error)
	TablesMergedInto(ctx context.Context, rootID string) ([]pos.Table, error)

	CreateOrder(ctx context.Context, o pos.Order) error
	GetOrder(ctx context.Context, id string) (pos.Order, error)
	LockOrder(ctx context.Context, id string) (pos.Order, error)
	UpdateOrder(ctx context.Context, o pos.Order) error
	// OpenOrderByTable returns the NEW/SERVING order on a table, nil if none.
	OpenOrderByTable(ctx context.Context, tableID string) (*pos.Order, error)
	// ListOpenOrders returns NEW/SERVING orders, oldest first.
	ListOpenOrders(ctx context.Context) ([]pos.Order, error)

	AddItems(ctx context.Context, items []pos.OrderItem) error
	// ListItems returns an order's items in insertion order.
	ListItems(ctx context.Context, orderID string) ([]pos.OrderItem, error)
	ListItemsForOrders(ctx context.Context, orderIDs []string) (map[string][]pos.OrderItem, error)
	UpdateItem(ctx context.Context, it pos.OrderItem) error

	CreateDish(ctx context.Context, d pos.Dish) error
	GetDishes(ctx context.Context, ids []string) (map[string]pos.Dish, error)

	CreateVoucher(ctx context.Context, v pos.Voucher) error
	FindVoucher(ctx context.Context, code string) (*pos.Voucher, error)
	LockVoucher(ctx context.Context, code string) (*pos.Voucher, error)
	UpdateVoucherUsage(ctx context.Context, code string, used int) error

	CreateMember(ctx context.Context, m pos.Member) error
	GetMember(ctx context.Context, id string) (pos.Member, error)
	LockMember(ctx context.Context, id string) (pos.Member, error)
	UpdateMemberPoints(ctx context.Context, id string, points int64) error
	AddLoyaltyEntries(ctx context.Context, entries []pos.LoyaltyEntry) error

	CreatePayment(ctx context.Context, p pos.Payment) error
	GetPaymentByOrder(ctx context.Context, orderID string) (*pos.Payment, error)

	// AppendEvents writes pending outbox rows in the current transaction.
	AppendEvents(ctx context.Context, events []outbox.Event) error
}

// Policy holds the operational switches of the state machines.
type Policy struct {
	// AllowWalkUpSettlement lets an order be settled straight from NEW.
	AllowWalkUpSettlement bool
	AllowItemCancel       bool
}

func DefaultPolicy() Policy {
	return Policy{AllowWalkUpSettlement: false, AllowItemCancel: true}
}

// commit appends the batch as the last step of a transaction.
func commit(ctx context.Context, repo Repository, b *outbox.Batch) error {
	events, err := b.Events()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	return repo.AppendEvents(ctx, events)
}

func tableEvent(b *outbox.Batch, t pos.Table, old pos.TableStatus, reason pos.TableChangeReason, orderID string, now time.Time) {
	b.Add(pos.EventTableStatusChanged, pos.AggregateTable, t.ID, pos.TableStatusChangedPayload{
		TableID:      t.ID,
		TableName:    t.Name,
		OldStatus:    string(old),
		NewStatus:    string(t.Status),
		MergedRootID: t.MergedRootID,
		OrderID:      orderID,
		Reason:       string(reason),
		ChangedAt:    now,
	}, now)
}
