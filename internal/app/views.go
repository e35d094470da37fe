package app

import (
	"context"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"sort"
	"time"
)

// KitchenTicket is one order on the kitchen rail.
type KitchenTicket struct {
	OrderID   string
	OrderCode string
	TableID   string
	TableName string
	CreatedAt time.Time
	Items     []pos.OrderItem
}

// TableView is one row of the POS floor overview.
type TableView struct {
	Table             pos.Table
	Order             *pos.Order
	ItemCounts        map[pos.ItemStatus]int
	WaitingForPayment bool
}

type ViewService struct {
	repo Repository
}

func NewViewService(repo Repository) *ViewService {
	return &ViewService{repo: repo}
}

// Kitchen lists open orders oldest first with their SENT_TO_KITCHEN and
// COOKING items in insertion order. Orders with nothing in progress are
// left out.
func (s *ViewService) Kitchen(ctx context.Context) ([]KitchenTicket, error) {
	orders, err := s.repo.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return []KitchenTicket{}, nil
	}
	names, err := s.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItemsForOrders(ctx, orderIDs(orders))
	if err != nil {
		return nil, err
	}

	sort.SliceStable(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	out := make([]KitchenTicket, 0, len(orders))
	for _, o := range orders {
		var active []pos.OrderItem
		for _, it := range items[o.ID] {
			if it.Status == pos.ItemSentToKitchen || it.Status == pos.ItemCooking {
				active = append(active, it)
			}
		}
		if len(active) == 0 {
			continue
		}
		sort.SliceStable(active, func(i, j int) bool { return active[i].Position < active[j].Position })
		out = append(out, KitchenTicket{
			OrderID:   o.ID,
			OrderCode: o.Code,
			TableID:   o.TableID,
			TableName: names[o.TableID],
			CreatedAt: o.CreatedAt,
			Items:     active,
		})
	}
	return out, nil
}

// Tables returns every enabled table with its open order and item counts.
func (s *ViewService) Tables(ctx context.Context) ([]TableView, error) {
	tables, err := s.repo.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := s.repo.ListOpenOrders(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItemsForOrders(ctx, orderIDs(orders))
	if err != nil {
		return nil, err
	}
	byTable := make(map[string]pos.Order, len(orders))
	for _, o := range orders {
		if o.TableID != "" {
			byTable[o.TableID] = o
		}
	}

	out := make([]TableView, 0, len(tables))
	for _, t := range tables {
		if t.Disabled {
			continue
		}
		v := TableView{Table: t, ItemCounts: map[pos.ItemStatus]int{}}
		if o, ok := byTable[t.ID]; ok {
			o := o
			v.Order = &o
			v.WaitingForPayment = o.Status == pos.OrderServing
			for _, it := range items[o.ID] {
				v.ItemCounts[it.Status]++
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *ViewService) tableNames(ctx context.Context) (map[string]string, error) {
	tables, err := s.repo.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(tables))
	for _, t := range tables {
		out[t.ID] = t.Name
	}
	return out, nil
}

func orderIDs(orders []pos.Order) []string {
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}
