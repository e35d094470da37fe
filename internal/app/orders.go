package app

import (
	"context"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/clock"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/google/uuid"
	"log/slog"
	"strings"
	"time"
)

type ItemInput struct {
	DishID   string
	Quantity int
	Note     string
}

type CreateOrderInput struct {
	TableID  string // empty for takeaway
	MemberID string
	Items    []ItemInput
}

// OrderDetail is an order with its items in insertion order.
type OrderDetail struct {
	Order pos.Order
	Items []pos.OrderItem
}

// OrderService drives the order and order item state machines.
type OrderService struct {
	repo   Repository
	clock  clock.Clock
	policy Policy
	log    *slog.Logger
}

func NewOrderService(repo Repository, clk clock.Clock, policy Policy, log *slog.Logger) *OrderService {
	return &OrderService{repo: repo, clock: clk, policy: policy, log: log.With("component", "orders")}
}

func (s *OrderService) Get(ctx context.Context, orderID string) (OrderDetail, error) {
	o, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	items, err := s.repo.ListItems(ctx, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	return OrderDetail{Order: o, Items: items}, nil
}

// Create opens an order, occupying its table when one is given.
func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (OrderDetail, error) {
	if err := validateItems(in.Items); err != nil {
		return OrderDetail{}, err
	}

	var out OrderDetail
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		dishes, err := s.dishes(ctx, in.Items)
		if err != nil {
			return err
		}
		if in.MemberID != "" {
			if _, err := s.repo.GetMember(ctx, in.MemberID); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		o := pos.Order{
			ID:        uuid.NewString(),
			Code:      orderCode(now),
			TableID:   in.TableID,
			Status:    pos.OrderNew,
			MemberID:  in.MemberID,
			CreatedAt: now,
			UpdatedAt: now,
		}

		var table pos.Table
		if in.TableID != "" {
			locked, err := s.repo.LockTables(ctx, in.TableID)
			if err != nil {
				return err
			}
			table = locked[in.TableID]
		}

		items := buildItems(o.ID, in.Items, dishes, 1, now)
		o.TotalPrice = pos.Total(items)
		if err := s.repo.CreateOrder(ctx, o); err != nil {
			return err
		}
		if err := s.repo.AddItems(ctx, items); err != nil {
			return err
		}

		var b outbox.Batch
		b.Add(pos.EventOrderCreated, pos.AggregateOrder, o.ID, pos.OrderCreatedPayload{
			OrderID:    o.ID,
			Code:       o.Code,
			TableID:    table.ID,
			TableName:  table.Name,
			MemberID:   o.MemberID,
			Items:      pos.ItemLines(items),
			TotalPrice: o.TotalPrice.String(),
		}, now)
		if table.ID != "" {
			if _, err := occupy(ctx, s.repo, &b, table, pos.ReasonOrderCreated, o.ID, now); err != nil {
				return err
			}
		}
		if err := commit(ctx, s.repo, &b); err != nil {
			return err
		}
		out = OrderDetail{Order: o, Items: items}
		return nil
	})
	return out, err
}

// AddItems appends items to an open order.
func (s *OrderService) AddItems(ctx context.Context, orderID string, in []ItemInput) (OrderDetail, error) {
	if err := validateItems(in); err != nil {
		return OrderDetail{}, err
	}
	var out OrderDetail
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", pos.ErrAlreadyTerminal, o.Code, o.Status)
		}
		dishes, err := s.dishes(ctx, in)
		if err != nil {
			return err
		}
		existing, err := s.repo.ListItems(ctx, o.ID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		added := buildItems(o.ID, in, dishes, nextPosition(existing), now)
		if err := s.repo.AddItems(ctx, added); err != nil {
			return err
		}
		all := append(existing, added...)
		o.TotalPrice = pos.Total(all)
		o.UpdatedAt = now
		if err := s.repo.UpdateOrder(ctx, o); err != nil {
			return err
		}

		var b outbox.Batch
		t := s.table(ctx, o.TableID)
		b.Add(pos.EventOrderItemsAdded, pos.AggregateOrder, o.ID, pos.OrderItemsAddedPayload{
			OrderID:    o.ID,
			TableID:    t.ID,
			TableName:  t.Name,
			Items:      pos.ItemLines(added),
			TotalPrice: o.TotalPrice.String(),
		}, now)
		touchTable(&b, t, o.ID, now)
		out = OrderDetail{Order: o, Items: all}
		return commit(ctx, s.repo, &b)
	})
	return out, err
}

// SendToKitchen moves every NEW item to SENT_TO_KITCHEN and advances a NEW
// order to SERVING. Calling it again with nothing new to send is a no-op.
func (s *OrderService) SendToKitchen(ctx context.Context, orderID string) (OrderDetail, error) {
	var out OrderDetail
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", pos.ErrAlreadyTerminal, o.Code, o.Status)
		}
		items, err := s.repo.ListItems(ctx, o.ID)
		if err != nil {
			return err
		}
		if !hasActive(items) {
			return fmt.Errorf("%w: order %s has no active items", pos.ErrEmptyOrder, o.Code)
		}

		now := s.clock.Now()
		t := s.table(ctx, o.TableID)
		var b outbox.Batch
		sent := 0
		for i := range items {
			if items[i].Status != pos.ItemNew {
				continue
			}
			if err := s.moveItem(ctx, &b, o, t, &items[i], pos.ItemSentToKitchen, now); err != nil {
				return err
			}
			sent++
		}
		if o.Status == pos.OrderNew {
			if err := s.advance(ctx, &b, &o, now); err != nil {
				return err
			}
		}
		if sent > 0 {
			touchTable(&b, t, o.ID, now)
		}
		out = OrderDetail{Order: o, Items: items}
		return commit(ctx, s.repo, &b)
	})
	return out, err
}

// ChangeItemStatus applies one single-step item transition.
func (s *OrderService) ChangeItemStatus(ctx context.Context, orderID, itemID string, to pos.ItemStatus) (pos.OrderItem, error) {
	if !to.Valid() {
		return pos.OrderItem{}, fmt.Errorf("%w: %q", pos.ErrInvalidStatus, to)
	}
	if to == pos.ItemCanceled && !s.policy.AllowItemCancel {
		return pos.OrderItem{}, pos.ErrItemCancelDisabled
	}

	var out pos.OrderItem
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.repo.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", pos.ErrAlreadyTerminal, o.Code, o.Status)
		}
		items, err := s.repo.ListItems(ctx, o.ID)
		if err != nil {
			return err
		}
		idx := -1
		for i := range items {
			if items[i].ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %s", pos.ErrItemNotFound, itemID)
		}

		now := s.clock.Now()
		t := s.table(ctx, o.TableID)
		var b outbox.Batch
		if err := s.moveItem(ctx, &b, o, t, &items[idx], to, now); err != nil {
			return err
		}
		if to == pos.ItemSentToKitchen && o.Status == pos.OrderNew {
			if err := s.advance(ctx, &b, &o, now); err != nil {
				return err
			}
		}
		if to == pos.ItemCanceled {
			o.TotalPrice = pos.Total(items)
			o.UpdatedAt = now
			if err := s.repo.UpdateOrder(ctx, o); err != nil {
				return err
			}
		}
		touchTable(&b, t, o.ID, now)
		out = items[idx]
		return commit(ctx, s.repo, &b)
	})
	return out, err
}

// Cancel ends an open order. Items not yet DONE are canceled with it; the
// table is freed when no other open order remains on it.
func (s *OrderService) Cancel(ctx context.Context, orderID string) (pos.Order, error) {
	var out pos.Order
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		o, g, err := lockOrderWithTable(ctx, s.repo, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", pos.ErrAlreadyTerminal, o.Code, o.Status)
		}
		items, err := s.repo.ListItems(ctx, o.ID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		t := g.tables[o.TableID]
		var b outbox.Batch
		for i := range items {
			if items[i].Status.Terminal() {
				continue
			}
			if err := s.moveItem(ctx, &b, o, t, &items[i], pos.ItemCanceled, now); err != nil {
				return err
			}
		}

		old := o.Status
		o.Status = pos.OrderCanceled
		o.TotalPrice = pos.Total(items)
		o.UpdatedAt = now
		if err := s.repo.UpdateOrder(ctx, o); err != nil {
			return err
		}
		orderStatusEvent(&b, o, old, now)

		if o.TableID != "" {
			remaining, err := s.repo.OpenOrderByTable(ctx, o.TableID)
			if err != nil {
				return err
			}
			if remaining == nil && t.Status == pos.TableOccupied {
				if _, err := freeTables(ctx, s.repo, &b, t, g.satellites[t.ID], pos.ReasonTableStructureChanged, o.ID, now); err != nil {
					return err
				}
			}
		}
		out = o
		return commit(ctx, s.repo, &b)
	})
	return out, err
}

// lockOrderWithTable locks an order's table group before the order itself
// and fails with ErrConflict if the order moved tables in between.
func lockOrderWithTable(ctx context.Context, repo Repository, orderID string) (pos.Order, tableGroup, error) {
	peek, err := repo.GetOrder(ctx, orderID)
	if err != nil {
		return pos.Order{}, tableGroup{}, err
	}
	if peek.Status.Terminal() {
		return peek, tableGroup{}, nil
	}
	g := tableGroup{tables: map[string]pos.Table{}, satellites: map[string][]pos.Table{}}
	if peek.TableID != "" {
		if g, err = lockTableGroup(ctx, repo, []string{peek.TableID}); err != nil {
			return pos.Order{}, tableGroup{}, err
		}
	}
	o, err := repo.LockOrder(ctx, orderID)
	if err != nil {
		return pos.Order{}, tableGroup{}, err
	}
	if o.TableID != peek.TableID {
		return pos.Order{}, tableGroup{}, fmt.Errorf("%w: order %s changed table", pos.ErrConflict, o.Code)
	}
	return o, g, nil
}

func (s *OrderService) moveItem(ctx context.Context, b *outbox.Batch, o pos.Order, t pos.Table, it *pos.OrderItem, to pos.ItemStatus, now time.Time) error {
	if it.Status.Terminal() {
		return fmt.Errorf("%w: item %s is %s", pos.ErrAlreadyTerminal, it.ID, it.Status)
	}
	if !it.Status.CanTransition(to) {
		return fmt.Errorf("%w: item %s %s -> %s", pos.ErrInvalidTransition, it.ID, it.Status, to)
	}
	old := it.Status
	it.Status = to
	it.UpdatedAt = now
	if err := s.repo.UpdateItem(ctx, *it); err != nil {
		return err
	}
	b.Add(pos.EventOrderItemStatusChanged, pos.AggregateOrder, o.ID, pos.OrderItemStatusChangedPayload{
		OrderID:   o.ID,
		OrderCode: o.Code,
		ItemID:    it.ID,
		DishID:    it.DishID,
		DishName:  it.DishName,
		Quantity:  it.Quantity,
		Note:      it.Note,
		TableID:   t.ID,
		TableName: t.Name,
		OldStatus: string(old),
		NewStatus: string(to),
		ChangedAt: now,
	}, now)
	return nil
}

// advance moves a NEW order to SERVING.
func (s *OrderService) advance(ctx context.Context, b *outbox.Batch, o *pos.Order, now time.Time) error {
	if !o.Status.CanTransition(pos.OrderServing) {
		return fmt.Errorf("%w: order %s %s -> %s", pos.ErrInvalidTransition, o.Code, o.Status, pos.OrderServing)
	}
	old := o.Status
	o.Status = pos.OrderServing
	o.UpdatedAt = now
	if err := s.repo.UpdateOrder(ctx, *o); err != nil {
		return err
	}
	orderStatusEvent(b, *o, old, now)
	return nil
}

func (s *OrderService) dishes(ctx context.Context, in []ItemInput) (map[string]pos.Dish, error) {
	ids := make([]string, 0, len(in))
	for _, it := range in {
		ids = append(ids, it.DishID)
	}
	dishes, err := s.repo.GetDishes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		d, ok := dishes[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", pos.ErrDishNotFound, id)
		}
		if !d.Available {
			return nil, fmt.Errorf("%w: %s", pos.ErrDishUnavailable, d.Name)
		}
	}
	return dishes, nil
}

// table loads display fields for events; a missing table yields a zero value.
func (s *OrderService) table(ctx context.Context, id string) pos.Table {
	if id == "" {
		return pos.Table{}
	}
	t, err := s.repo.GetTable(ctx, id)
	if err != nil {
		s.log.Warn("table lookup failed", slog.String("table_id", id), slog.Any("err", err))
		return pos.Table{ID: id}
	}
	return t
}

func validateItems(in []ItemInput) error {
	if len(in) == 0 {
		return pos.ErrEmptyOrder
	}
	for _, it := range in {
		if it.DishID == "" {
			return fmt.Errorf("%w: missing dish id", pos.ErrDishNotFound)
		}
		if it.Quantity < 1 {
			return fmt.Errorf("%w: %d", pos.ErrInvalidQuantity, it.Quantity)
		}
	}
	return nil
}

// buildItems snapshots dish prices into new items.
func buildItems(orderID string, in []ItemInput, dishes map[string]pos.Dish, start int, now time.Time) []pos.OrderItem {
	out := make([]pos.OrderItem, 0, len(in))
	for i, it := range in {
		d := dishes[it.DishID]
		out = append(out, pos.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   orderID,
			DishID:    d.ID,
			DishName:  d.Name,
			Quantity:  it.Quantity,
			Price:     d.Price,
			Status:    pos.ItemNew,
			Note:      strings.TrimSpace(it.Note),
			Position:  start + i,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return out
}

func nextPosition(items []pos.OrderItem) int {
	n := 0
	for _, it := range items {
		if it.Position > n {
			n = it.Position
		}
	}
	return n + 1
}

func hasActive(items []pos.OrderItem) bool {
	for _, it := range items {
		if it.Status != pos.ItemCanceled {
			return true
		}
	}
	return false
}

func orderCode(now time.Time) string {
	return "ORD-" + now.Format("060102") + "-" + strings.ToUpper(uuid.NewString()[:6])
}

func orderStatusEvent(b *outbox.Batch, o pos.Order, old pos.OrderStatus, now time.Time) {
	b.Add(pos.EventOrderStatusChanged, pos.AggregateOrder, o.ID, pos.OrderStatusChangedPayload{
		OrderID:   o.ID,
		Code:      o.Code,
		TableID:   o.TableID,
		OldStatus: string(old),
		NewStatus: string(o.Status),
		ChangedAt: now,
	}, now)
}

// touchTable tells table views that an order on the table changed without
// the table itself changing status.
func touchTable(b *outbox.Batch, t pos.Table, orderID string, now time.Time) {
	if t.ID == "" || t.Status == "" {
		return
	}
	tableEvent(b, t, t.Status, pos.ReasonItemStatusChanged, orderID, now)
}
