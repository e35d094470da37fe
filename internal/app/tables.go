package app

import (
	"context"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/clock"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/shopspring/decimal"
	"log/slog"
	"time"
)

// TableService is the table registry: occupancy, reservations and the
// merge/split/transfer topology.
type TableService struct {
	repo  Repository
	clock clock.Clock
	log   *slog.Logger
}

func NewTableService(repo Repository, clk clock.Clock, log *slog.Logger) *TableService {
	return &TableService{repo: repo, clock: clk, log: log.With("component", "tables")}
}

func (s *TableService) Occupy(ctx context.Context, tableID string) (pos.Table, error) {
	var out pos.Table
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockTables(ctx, tableID)
		if err != nil {
			return err
		}
		var b outbox.Batch
		out, err = occupy(ctx, s.repo, &b, locked[tableID], pos.ReasonTableStructureChanged, "", s.clock.Now())
		if err != nil {
			return err
		}
		return commit(ctx, s.repo, &b)
	})
	return out, err
}

// Release frees an occupied table that no longer has an open order.
func (s *TableService) Release(ctx context.Context, tableID string) (pos.Table, error) {
	var out pos.Table
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		g, err := lockTableGroup(ctx, s.repo, []string{tableID})
		if err != nil {
			return err
		}
		t := g.tables[tableID]
		if t.Status != pos.TableOccupied {
			return fmt.Errorf("%w: table %s is %s", pos.ErrInvalidTransition, t.ID, t.Status)
		}
		open, err := s.repo.OpenOrderByTable(ctx, tableID)
		if err != nil {
			return err
		}
		if open != nil {
			return fmt.Errorf("%w: order %s", pos.ErrTableInUse, open.Code)
		}
		var b outbox.Batch
		out, err = freeTables(ctx, s.repo, &b, t, g.satellites[tableID], pos.ReasonTableStructureChanged, "", s.clock.Now())
		if err != nil {
			return err
		}
		return commit(ctx, s.repo, &b)
	})
	return out, err
}

func (s *TableService) Reserve(ctx context.Context, tableID string) (pos.Table, error) {
	return s.simple(ctx, tableID, pos.TableAvailable, pos.TableReserved)
}

func (s *TableService) Unreserve(ctx context.Context, tableID string) (pos.Table, error) {
	return s.simple(ctx, tableID, pos.TableReserved, pos.TableAvailable)
}

// Split detaches a merged table from its root.
func (s *TableService) Split(ctx context.Context, tableID string) (pos.Table, error) {
	return s.simple(ctx, tableID, pos.TableMerged, pos.TableAvailable)
}

func (s *TableService) simple(ctx context.Context, tableID string, from, to pos.TableStatus) (pos.Table, error) {
	var out pos.Table
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockTables(ctx, tableID)
		if err != nil {
			return err
		}
		t := locked[tableID]
		if t.Disabled && to != pos.TableAvailable {
			return fmt.Errorf("%w: %s", pos.ErrTableDisabled, t.ID)
		}
		if t.Status != from {
			return fmt.Errorf("%w: table %s is %s, want %s", pos.ErrInvalidTransition, t.ID, t.Status, from)
		}
		var b outbox.Batch
		out, err = setTableStatus(ctx, s.repo, &b, t, to, "", pos.ReasonTableStructureChanged, "", s.clock.Now())
		if err != nil {
			return err
		}
		return commit(ctx, s.repo, &b)
	})
	return out, err
}

// Merge absorbs source into target. The source's open order moves to the
// target; when both tables carry an open order the source order's items are
// moved into the target order and the emptied source order is canceled.
func (s *TableService) Merge(ctx context.Context, sourceID, targetID string) (pos.Table, error) {
	if sourceID == targetID {
		return pos.Table{}, pos.ErrSameTable
	}
	var out pos.Table
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		g, err := lockTableGroup(ctx, s.repo, []string{sourceID}, targetID)
		if err != nil {
			return err
		}
		src, tgt := g.tables[sourceID], g.tables[targetID]
		for _, t := range []pos.Table{src, tgt} {
			switch {
			case t.Status == pos.TableMerged:
				return fmt.Errorf("%w: table %s is already merged into %s", pos.ErrInvalidTransition, t.ID, t.MergedRootID)
			case t.Disabled:
				return fmt.Errorf("%w: %s", pos.ErrTableDisabled, t.ID)
			case t.Status != pos.TableOccupied && t.Status != pos.TableAvailable:
				return fmt.Errorf("%w: table %s is %s", pos.ErrTableNotAvailable, t.ID, t.Status)
			}
		}

		srcOrder, tgtOrder, err := s.lockOpenOrders(ctx, sourceID, targetID)
		if err != nil {
			return err
		}
		if srcOrder == nil && tgtOrder == nil {
			return fmt.Errorf("%w: neither %s nor %s has an open order", pos.ErrNoOpenOrder, sourceID, targetID)
		}

		now := s.clock.Now()
		var b outbox.Batch
		orderID := ""
		switch {
		case srcOrder != nil && tgtOrder != nil:
			if err := s.combineOrders(ctx, &b, *srcOrder, *tgtOrder, tgt, now); err != nil {
				return err
			}
			orderID = tgtOrder.ID
		case srcOrder != nil:
			o := *srcOrder
			o.TableID = targetID
			o.UpdatedAt = now
			if err := s.repo.UpdateOrder(ctx, o); err != nil {
				return err
			}
			b.Add(pos.EventOrderTableChanged, pos.AggregateOrder, o.ID, pos.OrderTableChangedPayload{
				OrderID: o.ID, Code: o.Code, OldTableID: sourceID, NewTableID: targetID, ChangedAt: now,
			}, now)
			orderID = o.ID
		default:
			orderID = tgtOrder.ID
		}

		for _, sat := range g.satellites[sourceID] {
			sat.MergedRootID = targetID
			sat.UpdatedAt = now
			if err := s.repo.UpdateTable(ctx, sat); err != nil {
				return err
			}
			tableEvent(&b, sat, pos.TableMerged, pos.ReasonTableStructureChanged, orderID, now)
		}
		if _, err := setTableStatus(ctx, s.repo, &b, src, pos.TableMerged, targetID, pos.ReasonTableStructureChanged, orderID, now); err != nil {
			return err
		}
		out = tgt
		if tgt.Status == pos.TableAvailable {
			if out, err = setTableStatus(ctx, s.repo, &b, tgt, pos.TableOccupied, "", pos.ReasonTableStructureChanged, orderID, now); err != nil {
				return err
			}
		}
		return commit(ctx, s.repo, &b)
	})
	return out, err
}

// lockOpenOrders locks the open orders of two tables in ascending id order.
func (s *TableService) lockOpenOrders(ctx context.Context, tableA, tableB string) (*pos.Order, *pos.Order, error) {
	a, err := s.repo.OpenOrderByTable(ctx, tableA)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.repo.OpenOrderByTable(ctx, tableB)
	if err != nil {
		return nil, nil, err
	}
	first, second := &a, &b
	if a != nil && b != nil && b.ID < a.ID {
		first, second = &b, &a
	}
	for _, p := range []**pos.Order{first, second} {
		if *p == nil {
			continue
		}
		o, err := s.repo.LockOrder(ctx, (*p).ID)
		if err != nil {
			return nil, nil, err
		}
		*p = &o
	}
	return a, b, nil
}

func (s *TableService) combineOrders(ctx context.Context, b *outbox.Batch, src, tgt pos.Order, tgtTable pos.Table, now time.Time) error {
	moved, err := s.repo.ListItems(ctx, src.ID)
	if err != nil {
		return err
	}
	kept, err := s.repo.ListItems(ctx, tgt.ID)
	if err != nil {
		return err
	}
	next := nextPosition(kept)
	started := false
	for i := range moved {
		moved[i].OrderID = tgt.ID
		moved[i].Position = next
		moved[i].UpdatedAt = now
		next++
		if err := s.repo.UpdateItem(ctx, moved[i]); err != nil {
			return err
		}
		if moved[i].Status != pos.ItemNew && moved[i].Status != pos.ItemCanceled {
			started = true
		}
	}

	all := append(kept, moved...)
	tgt.TotalPrice = pos.Total(all)
	tgt.UpdatedAt = now
	if started && tgt.Status == pos.OrderNew {
		tgt.Status = pos.OrderServing
		orderStatusEvent(b, tgt, pos.OrderNew, now)
	}
	if tgt.MemberID == "" {
		tgt.MemberID = src.MemberID
	}
	if err := s.repo.UpdateOrder(ctx, tgt); err != nil {
		return err
	}
	b.Add(pos.EventOrderItemsAdded, pos.AggregateOrder, tgt.ID, pos.OrderItemsAddedPayload{
		OrderID:    tgt.ID,
		TableID:    tgtTable.ID,
		TableName:  tgtTable.Name,
		Items:      pos.ItemLines(moved),
		TotalPrice: tgt.TotalPrice.String(),
	}, now)

	old := src.Status
	src.Status = pos.OrderCanceled
	src.TotalPrice = decimal.Zero
	src.UpdatedAt = now
	if err := s.repo.UpdateOrder(ctx, src); err != nil {
		return err
	}
	orderStatusEvent(b, src, old, now)
	return nil
}

// ChangeTable moves an open order from oldTableID to newTableID. The old
// table and anything merged into it are freed when no other open order
// remains on it.
func (s *TableService) ChangeTable(ctx context.Context, orderID, oldTableID, newTableID string) (pos.Order, error) {
	if oldTableID == newTableID {
		return pos.Order{}, pos.ErrSameTable
	}
	var out pos.Order
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		g, err := lockTableGroup(ctx, s.repo, []string{oldTableID}, newTableID)
		if err != nil {
			return err
		}
		nt := g.tables[newTableID]
		if nt.Disabled {
			return fmt.Errorf("%w: %s", pos.ErrTableDisabled, nt.ID)
		}
		if nt.Status != pos.TableAvailable {
			return fmt.Errorf("%w: table %s is %s", pos.ErrTableNotAvailable, nt.ID, nt.Status)
		}

		o, err := s.repo.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", pos.ErrAlreadyTerminal, o.Code, o.Status)
		}
		if o.TableID != oldTableID {
			return fmt.Errorf("%w: order %s is not on table %s", pos.ErrNoOpenOrder, o.Code, oldTableID)
		}

		now := s.clock.Now()
		var b outbox.Batch
		o.TableID = newTableID
		o.UpdatedAt = now
		if err := s.repo.UpdateOrder(ctx, o); err != nil {
			return err
		}
		b.Add(pos.EventOrderTableChanged, pos.AggregateOrder, o.ID, pos.OrderTableChangedPayload{
			OrderID: o.ID, Code: o.Code, OldTableID: oldTableID, NewTableID: newTableID, ChangedAt: now,
		}, now)
		if _, err := setTableStatus(ctx, s.repo, &b, nt, pos.TableOccupied, "", pos.ReasonTableStructureChanged, o.ID, now); err != nil {
			return err
		}

		remaining, err := s.repo.OpenOrderByTable(ctx, oldTableID)
		if err != nil {
			return err
		}
		if old := g.tables[oldTableID]; remaining == nil && old.Status == pos.TableOccupied {
			if _, err := freeTables(ctx, s.repo, &b, old, g.satellites[oldTableID], pos.ReasonTableStructureChanged, o.ID, now); err != nil {
				return err
			}
		}
		out = o
		return commit(ctx, s.repo, &b)
	})
	return out, err
}

// tableGroup is a set of locked tables plus, per root, the tables merged
// into it.
type tableGroup struct {
	tables     map[string]pos.Table
	satellites map[string][]pos.Table
}

// lockTableGroup locks roots, their merged satellites and any extra tables
// in one ascending-id pass.
func lockTableGroup(ctx context.Context, repo Repository, roots []string, extra ...string) (tableGroup, error) {
	ids := append([]string(nil), extra...)
	before := make(map[string]int, len(roots))
	for _, r := range roots {
		ids = append(ids, r)
		merged, err := repo.TablesMergedInto(ctx, r)
		if err != nil {
			return tableGroup{}, err
		}
		before[r] = len(merged)
		for _, m := range merged {
			ids = append(ids, m.ID)
		}
	}
	locked, err := repo.LockTables(ctx, ids...)
	if err != nil {
		return tableGroup{}, err
	}

	g := tableGroup{tables: locked, satellites: make(map[string][]pos.Table, len(roots))}
	for _, r := range roots {
		merged, err := repo.TablesMergedInto(ctx, r)
		if err != nil {
			return tableGroup{}, err
		}
		if len(merged) != before[r] {
			return tableGroup{}, fmt.Errorf("%w: tables merged into %s changed", pos.ErrConflict, r)
		}
		for _, m := range merged {
			t, ok := locked[m.ID]
			if !ok || t.MergedRootID != r {
				return tableGroup{}, fmt.Errorf("%w: tables merged into %s changed", pos.ErrConflict, r)
			}
			g.satellites[r] = append(g.satellites[r], t)
		}
	}
	return g, nil
}

func setTableStatus(ctx context.Context, repo Repository, b *outbox.Batch, t pos.Table, to pos.TableStatus, rootID string, reason pos.TableChangeReason, orderID string, now time.Time) (pos.Table, error) {
	if !t.Status.CanTransition(to) {
		return t, fmt.Errorf("%w: table %s %s -> %s", pos.ErrInvalidTransition, t.ID, t.Status, to)
	}
	old := t.Status
	t.Status = to
	t.MergedRootID = rootID
	t.UpdatedAt = now
	if err := repo.UpdateTable(ctx, t); err != nil {
		return t, err
	}
	tableEvent(b, t, old, reason, orderID, now)
	return t, nil
}

// occupy requires a locked AVAILABLE table.
func occupy(ctx context.Context, repo Repository, b *outbox.Batch, t pos.Table, reason pos.TableChangeReason, orderID string, now time.Time) (pos.Table, error) {
	if t.Disabled {
		return t, fmt.Errorf("%w: %s", pos.ErrTableDisabled, t.ID)
	}
	if t.Status != pos.TableAvailable {
		return t, fmt.Errorf("%w: table %s is %s", pos.ErrTableNotAvailable, t.ID, t.Status)
	}
	return setTableStatus(ctx, repo, b, t, pos.TableOccupied, "", reason, orderID, now)
}

// freeTables returns a root table and its satellites to AVAILABLE.
func freeTables(ctx context.Context, repo Repository, b *outbox.Batch, root pos.Table, satellites []pos.Table, reason pos.TableChangeReason, orderID string, now time.Time) (pos.Table, error) {
	for _, sat := range satellites {
		if _, err := setTableStatus(ctx, repo, b, sat, pos.TableAvailable, "", reason, orderID, now); err != nil {
			return root, err
		}
	}
	if root.Status == pos.TableAvailable {
		return root, nil
	}
	return setTableStatus(ctx, repo, b, root, pos.TableAvailable, "", reason, orderID, now)
}
