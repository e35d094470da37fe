// Package memstore is an in-memory transactional store. Writes are buffered
// per transaction and applied atomically at commit; aggregates are guarded by
// exclusive locks held until the transaction ends. It backs tests and
// single-process demo deployments.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultLockTimeout = 2 * time.Second

type Option func(*Store)

// WithLockTimeout bounds how long a transaction waits for an aggregate lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

type Store struct {
	mu       sync.RWMutex
	tables   map[string]pos.Table
	orders   map[string]pos.Order
	items    map[string]pos.OrderItem
	dishes   map[string]pos.Dish
	vouchers map[string]pos.Voucher
	members  map[string]pos.Member
	payments map[string]pos.Payment // by order id
	ledger   []pos.LoyaltyEntry
	events   []outbox.Event // index = position - 1
	seqs     map[string]int64

	locks       *keyLocks
	lockTimeout time.Duration

	hookMu sync.Mutex
	hooks  []func()
}

func New(opts ...Option) *Store {
	s := &Store{
		tables:      make(map[string]pos.Table),
		orders:      make(map[string]pos.Order),
		items:       make(map[string]pos.OrderItem),
		dishes:      make(map[string]pos.Dish),
		vouchers:    make(map[string]pos.Voucher),
		members:     make(map[string]pos.Member),
		payments:    make(map[string]pos.Payment),
		seqs:        make(map[string]int64),
		locks:       newKeyLocks(),
		lockTimeout: defaultLockTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OnCommit registers fn to run after every commit that appended events.
func (s *Store) OnCommit(fn func()) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

type txKey struct{}

type tx struct {
	held     map[string]bool
	lockKeys []string

	tables   map[string]pos.Table
	orders   map[string]pos.Order
	items    map[string]pos.OrderItem
	dishes   map[string]pos.Dish
	vouchers map[string]pos.Voucher
	members  map[string]pos.Member
	payments map[string]pos.Payment
	ledger   []pos.LoyaltyEntry
	events   []outbox.Event
}

func newTx() *tx {
	return &tx{
		held:     make(map[string]bool),
		tables:   make(map[string]pos.Table),
		orders:   make(map[string]pos.Order),
		items:    make(map[string]pos.OrderItem),
		dishes:   make(map[string]pos.Dish),
		vouchers: make(map[string]pos.Voucher),
		members:  make(map[string]pos.Member),
		payments: make(map[string]pos.Payment),
	}
}

func txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// WithTx runs fn in a transaction. Nested calls join the outer transaction.
// Buffered writes and outbox events are discarded when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if txFrom(ctx) != nil {
		return fn(ctx)
	}
	t := newTx()
	var err error
	func() {
		defer s.unlockAll(t)
		if err = fn(context.WithValue(ctx, txKey{}, t)); err == nil {
			s.commit(t)
		}
	}()
	if err != nil {
		return err
	}
	if len(t.events) > 0 {
		s.runHooks()
	}
	return nil
}

// write runs fn against the caller's transaction or a one-shot one.
func (s *Store) write(ctx context.Context, fn func(t *tx) error) error {
	if t := txFrom(ctx); t != nil {
		return fn(t)
	}
	return s.WithTx(ctx, func(ctx context.Context) error { return fn(txFrom(ctx)) })
}

func (s *Store) commit(t *tx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apply(s.tables, t.tables)
	apply(s.orders, t.orders)
	apply(s.items, t.items)
	apply(s.dishes, t.dishes)
	apply(s.vouchers, t.vouchers)
	apply(s.members, t.members)
	apply(s.payments, t.payments)
	s.ledger = append(s.ledger, t.ledger...)
	for _, ev := range t.events {
		key := ev.AggregateType + "/" + ev.AggregateID
		s.seqs[key]++
		ev.Sequence = s.seqs[key]
		ev.Position = int64(len(s.events) + 1)
		ev.State = outbox.StatePending
		s.events = append(s.events, ev)
	}
}

func (s *Store) unlockAll(t *tx) {
	for i := len(t.lockKeys) - 1; i >= 0; i-- {
		s.locks.release(t.lockKeys[i])
	}
	t.lockKeys = nil
}

func (s *Store) runHooks() {
	s.hookMu.Lock()
	hooks := append([]func(){}, s.hooks...)
	s.hookMu.Unlock()
	for _, h := range hooks {
		h()
	}
}

func (s *Store) lock(ctx context.Context, key string) (*tx, error) {
	t := txFrom(ctx)
	if t == nil {
		return nil, errors.New("memstore: lock outside transaction")
	}
	if t.held[key] {
		return t, nil
	}
	if err := s.locks.acquire(ctx, key, s.lockTimeout); err != nil {
		return nil, err
	}
	t.held[key] = true
	t.lockKeys = append(t.lockKeys, key)
	return t, nil
}

func apply[T any](dst, src map[string]T) {
	for k, v := range src {
		dst[k] = v
	}
}

// lookup reads id through the transaction overlay.
func lookup[T any](ctx context.Context, s *Store, committed map[string]T, overlay func(*tx) map[string]T, id string) (T, bool) {
	if t := txFrom(ctx); t != nil {
		if v, ok := overlay(t)[id]; ok {
			return v, true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := committed[id]
	return v, ok
}

// snapshot returns committed rows overlaid with the transaction's writes.
func snapshot[T any](ctx context.Context, s *Store, committed map[string]T, overlay func(*tx) map[string]T) map[string]T {
	s.mu.RLock()
	out := make(map[string]T, len(committed))
	for k, v := range committed {
		out[k] = v
	}
	s.mu.RUnlock()
	if t := txFrom(ctx); t != nil {
		apply(out, overlay(t))
	}
	return out
}

func txTables(t *tx) map[string]pos.Table { return t.tables }
func txOrders(t *tx) map[string]pos.Order { return t.orders }
func txItems(t *tx) map[string]pos.OrderItem { return t.items }
func txDishes(t *tx) map[string]pos.Dish { return t.dishes }
func txVouchers(t *tx) map[string]pos.Voucher { return t.vouchers }
func txMembers(t *tx) map[string]pos.Member { return t.members }
func txPayments(t *tx) map[string]pos.Payment { return t.payments }

// ---- tables ----

func (s *Store) CreateTable(ctx context.Context, tb pos.Table) error {
	return s.write(ctx, func(t *tx) error {
		if _, ok := lookup(ctx, s, s.tables, txTables, tb.ID); ok {
			return fmt.Errorf("%w: table %s", pos.ErrDuplicate, tb.ID)
		}
		for _, existing := range snapshot(ctx, s, s.tables, txTables) {
			if strings.EqualFold(existing.Name, tb.Name) {
				return fmt.Errorf("%w: table name %s", pos.ErrDuplicate, tb.Name)
			}
		}
		t.tables[tb.ID] = tb
		return nil
	})
}

func (s *Store) GetTable(ctx context.Context, id string) (pos.Table, error) {
	tb, ok := lookup(ctx, s, s.tables, txTables, id)
	if !ok {
		return pos.Table{}, fmt.Errorf("%w: %s", pos.ErrTableNotFound, id)
	}
	return tb, nil
}

func (s *Store) LockTables(ctx context.Context, ids ...string) (map[string]pos.Table, error) {
	uniq := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		uniq[id] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for id := range uniq {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	out := make(map[string]pos.Table, len(sorted))
	for _, id := range sorted {
		if _, err := s.lock(ctx, "table:"+id); err != nil {
			return nil, err
		}
		tb, err := s.GetTable(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = tb
	}
	return out, nil
}

func (s *Store) UpdateTable(ctx context.Context, tb pos.Table) error {
	return s.write(ctx, func(t *tx) error {
		if _, ok := lookup(ctx, s, s.tables, txTables, tb.ID); !ok {
			return fmt.Errorf("%w: %s", pos.ErrTableNotFound, tb.ID)
		}
		t.tables[tb.ID] = tb
		return nil
	})
}

func (s *Store) ListTables(ctx context.Context) ([]pos.Table, error) {
	all := snapshot(ctx, s, s.tables, txTables)
	out := make([]pos.Table, 0, len(all))
	for _, tb := range all {
		out = append(out, tb)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) TablesMergedInto(ctx context.Context, rootID string) ([]pos.Table, error) {
	var out []pos.Table
	for _, tb := range snapshot(ctx, s, s.tables, txTables) {
		if tb.Status == pos.TableMerged && tb.MergedRootID == rootID {
			out = append(out, tb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ---- orders ----

func (s *Store) CreateOrder(ctx context.Context, o pos.Order) error {
	return s.write(ctx, func(t *tx) error {
		if _, ok := lookup(ctx, s, s.orders, txOrders, o.ID); ok {
			return fmt.Errorf("%w: order %s", pos.ErrDuplicate, o.ID)
		}
		t.orders[o.ID] = o
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, id string) (pos.Order, error) {
	o, ok := lookup(ctx, s, s.orders, txOrders, id)
	if !ok {
		return pos.Order{}, fmt.Errorf("%w: %s", pos.ErrOrderNotFound, id)
	}
	return o, nil
}

func (s *Store) LockOrder(ctx context.Context, id string) (pos.Order, error) {
	if _, err := s.lock(ctx, "order:"+id); err != nil {
		return pos.Order{}, err
	}
	return s.GetOrder(ctx, id)
}

func (s *Store) UpdateOrder(ctx context.Context, o pos.Order) error {
	return s.write(ctx, func(t *tx) error {
		if _, ok := lookup(ctx, s, s.orders, txOrders, o.ID); !ok {
			return fmt.Errorf("%w: %s", pos.ErrOrderNotFound, o.ID)
		}
		t.orders[o.ID] = o
		return nil
	})
}

func (s *Store) OpenOrderByTable(ctx context.Context, tableID string) (*pos.Order, error) {
	open, _ := s.ListOpenOrders(ctx)
	for _, o := range open {
		if o.TableID == tableID {
			o := o
			return &o, nil
		}
	}
	return nil, nil
}

func (s *Store) ListOpenOrders(ctx context.Context) ([]pos.Order, error) {
	var out []pos.Order
	for _, o := range snapshot(ctx, s, s.orders, txOrders) {
		if o.Status.Open() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ---- items ----

func (s *Store) AddItems(ctx context.Context, items []pos.OrderItem) error {
	return s.write(ctx, func(t *tx) error {
		for _, it := range items {
			if _, ok := lookup(ctx, s, s.items, txItems, it.ID); ok {
				return fmt.Errorf("%w: item %s", pos.ErrDuplicate, it.ID)
			}
			t.items[it.ID] = it
		}
		return nil
	})
}

func (s *Store) ListItems(ctx context.Context, orderID string) ([]pos.OrderItem, error) {
	byOrder, err := s.ListItemsForOrders(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	return byOrder[orderID], nil
}

func (s *Store) ListItemsForOrders(ctx context.Context, orderIDs []string) (map[string][]pos.OrderItem, error) {
	want := make(map[string]bool, len(orderIDs))
	for _, id := range orderIDs {
		want[id] = true
	}
	out := make(map[string][]pos.OrderItem, len(orderIDs))
	for _, it := range snapshot(ctx, s, s.items, txItems) {
		if want[it.OrderID] {
			out[it.OrderID] = append(out[it.OrderID], it)
		}
	}
	for id := range out {
		items := out[id]
		sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	}
	return out, nil
}

func (s *Store) UpdateItem(ctx context.Context, it pos.OrderItem) error {
	return s.write(ctx, func(t *tx) error {
		if _, ok := lookup(ctx, s, s.items, txItems, it.ID); !ok {
			return fmt.Errorf("%w: %s", pos.ErrItemNotFound, it.ID)
		}
		t.items[it.ID] = it
		return nil
	})
}

// ---- menu ----

func (s *Store) CreateDish(ctx context.Context, d pos.Dish) error {
	return s.write(ctx, func(t *tx) error {
		if _, ok := lookup(ctx, s, s.dishes, txDishes, d.ID); ok {
			return fmt.Errorf("%w: dish %s", pos.ErrDuplicate, d.ID)
		}
		t.dishes[d.ID] = d
		return nil
	})
}

func (s *Store) GetDishes(ctx context.Context, ids []string) (map[string]pos.Dish, error) {
	out := make(map[string]pos.Dish, len(ids))
	for _, id := range ids {
		if d, ok := lookup(ctx, s, s.dishes, txDishes, id); ok {
			out[id] = d
		}
	}
	return out, nil
}

// ---- vouchers ----

func (s *Store) CreateVoucher(ctx context.Context, v pos.Voucher) error {
	return s.write(ctx, func(t *tx) error {
		if _, ok := lookup(ctx, s, s.vouchers, txVouchers, v.Code); ok {
			return fmt.Errorf("%w: voucher %s", pos.ErrDuplicate, v.Code)
		}
		t.vouchers[v.Code] = v
		return nil
	})
}

func (s *Store) FindVoucher(ctx context.Context, code string) (*pos.Voucher, error) {
	v, ok := lookup(ctx, s, s.vouchers, txVouchers, code)
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *Store) LockVoucher(ctx context.Context, code string) (*pos.Voucher, error) {
	if _, err := s.lock(ctx, "voucher:"+code); err != nil {
		return nil, err
	}
	return s.FindVoucher(ctx, code)
}

func (s *Store) UpdateVoucherUsage(ctx context.Context, code string, used int) error {
	return s.write(ctx, func(t *tx) error {
		v, ok := lookup(ctx, s, s.vouchers, txVouchers, code)
		if !ok {
			return fmt.Errorf("%w: voucher %s", pos.ErrVoucherNotApplicable, code)
		}
		v.UsedCount = used
		t.vouchers[code] = v
		return nil
	})
}

// ---- members ----

func (s *Store) CreateMember(ctx context.Context, m pos.Member) error {
	return s.write(ctx, func(t *tx) error {
		if _, ok := lookup(ctx, s, s.members, txMembers, m.ID); ok {
			return fmt.Errorf("%w: member %s", pos.ErrDuplicate, m.ID)
		}
		t.members[m.ID] = m
		return nil
	})
}

func (s *Store) GetMember(ctx context.Context, id string) (pos.Member, error) {
	m, ok := lookup(ctx, s, s.members, txMembers, id)
	if !ok {
		return pos.Member{}, fmt.Errorf("%w: %s", pos.ErrMemberNotFound, id)
	}
	return m, nil
}

func (s *Store) LockMember(ctx context.Context, id string) (pos.Member, error) {
	if _, err := s.lock(ctx, "member:"+id); err != nil {
		return pos.Member{}, err
	}
	return s.GetMember(ctx, id)
}

func (s *Store) UpdateMemberPoints(ctx context.Context, id string, points int64) error {
	return s.write(ctx, func(t *tx) error {
		m, ok := lookup(ctx, s, s.members, txMembers, id)
		if !ok {
			return fmt.Errorf("%w: %s", pos.ErrMemberNotFound, id)
		}
		m.Points = points
		t.members[id] = m
		return nil
	})
}

func (s *Store) AddLoyaltyEntries(ctx context.Context, entries []pos.LoyaltyEntry) error {
	return s.write(ctx, func(t *tx) error {
		t.ledger = append(t.ledger, entries...)
		return nil
	})
}

// LoyaltyEntries returns the committed ledger of a member.
func (s *Store) LoyaltyEntries(memberID string) []pos.LoyaltyEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pos.LoyaltyEntry
	for _, e := range s.ledger {
		if e.MemberID == memberID {
			out = append(out, e)
		}
	}
	return out
}

// ---- payments ----

func (s *Store) CreatePayment(ctx context.Context, p pos.Payment) error {
	return s.write(ctx, func(t *tx) error {
		if _, ok := lookup(ctx, s, s.payments, txPayments, p.OrderID); ok {
			return fmt.Errorf("%w: payment for order %s", pos.ErrDuplicate, p.OrderID)
		}
		t.payments[p.OrderID] = p
		return nil
	})
}

func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (*pos.Payment, error) {
	p, ok := lookup(ctx, s, s.payments, txPayments, orderID)
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// ---- outbox ----

// AppendEvents buffers events; positions and per-aggregate sequences are
// assigned at commit so they follow commit order.
func (s *Store) AppendEvents(ctx context.Context, events []outbox.Event) error {
	return s.write(ctx, func(t *tx) error {
		t.events = append(t.events, events...)
		return nil
	})
}

func (s *Store) PendingEvents(_ context.Context, limit int) ([]outbox.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []outbox.Event
	for _, ev := range s.events {
		if ev.State != outbox.StatePending {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkDispatched(_ context.Context, position int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position < 1 || position > int64(len(s.events)) {
		return fmt.Errorf("memstore: no outbox event at position %d", position)
	}
	ev := &s.events[position-1]
	ev.State = outbox.StateDispatched
	ev.Attempts++
	ev.DispatchedAt = &at
	return nil
}

// Events returns every committed outbox event in position order.
func (s *Store) Events() []outbox.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]outbox.Event(nil), s.events...)
}
