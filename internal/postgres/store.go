package postgres

import (
	"context"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"sort"
	"sync"
	"time"
)

const defaultLockTimeout = 3 * time.Second

type Option func(*Store)

func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

// Store persists the POS aggregates and the outbox in Postgres.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration

	hookMu sync.Mutex
	hooks  []func()
}

func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, lockTimeout: defaultLockTimeout}
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

func (s *Store) runHooks() {
	s.hookMu.Lock()
	hooks := append([]func(){}, s.hooks...)
	s.hookMu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// numeric scans a NUMERIC column into a decimal.
type numeric struct{ dst *decimal.Decimal }

func dec(d *decimal.Decimal) *numeric { return &numeric{dst: d} }

func (n *numeric) ScanNumeric(v pgtype.Numeric) error {
	if !v.Valid || v.Int == nil {
		*n.dst = decimal.Zero
		return nil
	}
	if v.NaN || v.InfinityModifier != pgtype.Finite {
		return fmt.Errorf("postgres: non-finite numeric")
	}
	*n.dst = decimal.NewFromBigInt(v.Int, v.Exp)
	return nil
}

func num(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ---- tables ----

const tableCols = `id, name, capacity, status, COALESCE(merged_root_id, ''), disabled, updated_at`

func scanTable(row pgx.Row) (pos.Table, error) {
	var t pos.Table
	err := row.Scan(&t.ID, &t.Name, &t.Capacity, &t.Status, &t.MergedRootID, &t.Disabled, &t.UpdatedAt)
	return t, err
}

func (s *Store) CreateTable(ctx context.Context, t pos.Table) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO dining_tables (id, name, capacity, status, merged_root_id, disabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.Capacity, t.Status, nullString(t.MergedRootID), t.Disabled, t.UpdatedAt)
	if err != nil {
		return mapErr(fmt.Errorf("create table: %w", err))
	}
	return nil
}

func (s *Store) GetTable(ctx context.Context, id string) (pos.Table, error) {
	t, err := scanTable(s.q(ctx).QueryRow(ctx, `SELECT `+tableCols+` FROM dining_tables WHERE id = $1`, id))
	if isNoRows(err) {
		return pos.Table{}, fmt.Errorf("%w: %s", pos.ErrTableNotFound, id)
	}
	if err != nil {
		return pos.Table{}, fmt.Errorf("get table: %w", err)
	}
	return t, nil
}

// LockTables takes row locks in id order so concurrent callers never
// deadlock on each other.
func (s *Store) LockTables(ctx context.Context, ids ...string) (map[string]pos.Table, error) {
	tx, err := s.lockq(ctx)
	if err != nil {
		return nil, err
	}
	sorted := sortedUnique(ids)
	out := make(map[string]pos.Table, len(sorted))
	for _, id := range sorted {
		t, err := scanTable(tx.QueryRow(ctx, `SELECT `+tableCols+` FROM dining_tables WHERE id = $1 FOR UPDATE`, id))
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", pos.ErrTableNotFound, id)
		}
		if err != nil {
			return nil, mapErr(fmt.Errorf("lock table %s: %w", id, err))
		}
		out[id] = t
	}
	return out, nil
}

func (s *Store) UpdateTable(ctx context.Context, t pos.Table) error {
	ct, err := s.q(ctx).Exec(ctx, `
		UPDATE dining_tables
		SET name = $2, capacity = $3, status = $4, merged_root_id = $5, disabled = $6, updated_at = $7
		WHERE id = $1`,
		t.ID, t.Name, t.Capacity, t.Status, nullString(t.MergedRootID), t.Disabled, t.UpdatedAt)
	if err != nil {
		return mapErr(fmt.Errorf("update table: %w", err))
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", pos.ErrTableNotFound, t.ID)
	}
	return nil
}

func (s *Store) listTables(ctx context.Context, query string, args ...any) ([]pos.Table, error) {
	rows, err := s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	var out []pos.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListTables(ctx context.Context) ([]pos.Table, error) {
	return s.listTables(ctx, `SELECT `+tableCols+` FROM dining_tables ORDER BY id`)
}

func (s *Store) TablesMergedInto(ctx context.Context, rootID string) ([]pos.Table, error) {
	return s.listTables(ctx, `
		SELECT `+tableCols+` FROM dining_tables
		WHERE status = 'MERGED' AND merged_root_id = $1
		ORDER BY id`, rootID)
}

// ---- orders ----

const orderCols = `id, code, COALESCE(table_id, ''), status, COALESCE(member_id, ''), total_price, created_at, updated_at`

func scanOrder(row pgx.Row) (pos.Order, error) {
	var o pos.Order
	err := row.Scan(&o.ID, &o.Code, &o.TableID, &o.Status, &o.MemberID, dec(&o.TotalPrice), &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (s *Store) CreateOrder(ctx context.Context, o pos.Order) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO orders (id, code, table_id, status, member_id, total_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.Code, nullString(o.TableID), o.Status, nullString(o.MemberID), num(o.TotalPrice), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return mapErr(fmt.Errorf("create order: %w", err))
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (pos.Order, error) {
	return s.getOrder(ctx, s.q(ctx), `SELECT `+orderCols+` FROM orders WHERE id = $1`, id)
}

func (s *Store) LockOrder(ctx context.Context, id string) (pos.Order, error) {
	tx, err := s.lockq(ctx)
	if err != nil {
		return pos.Order{}, err
	}
	return s.getOrder(ctx, tx, `SELECT `+orderCols+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) getOrder(ctx context.Context, q querier, query, id string) (pos.Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if isNoRows(err) {
		return pos.Order{}, fmt.Errorf("%w: %s", pos.ErrOrderNotFound, id)
	}
	if err != nil {
		return pos.Order{}, mapErr(fmt.Errorf("get order: %w", err))
	}
	return o, nil
}

func (s *Store) UpdateOrder(ctx context.Context, o pos.Order) error {
	ct, err := s.q(ctx).Exec(ctx, `
		UPDATE orders
		SET table_id = $2, status = $3, member_id = $4, total_price = $5, updated_at = $6
		WHERE id = $1`,
		o.ID, nullString(o.TableID), o.Status, nullString(o.MemberID), num(o.TotalPrice), o.UpdatedAt)
	if err != nil {
		return mapErr(fmt.Errorf("update order: %w", err))
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", pos.ErrOrderNotFound, o.ID)
	}
	return nil
}

func (s *Store) OpenOrderByTable(ctx context.Context, tableID string) (*pos.Order, error) {
	o, err := scanOrder(s.q(ctx).QueryRow(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE table_id = $1 AND status IN ('NEW', 'SERVING')
		LIMIT 1`, tableID))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open order by table: %w", err)
	}
	return &o, nil
}

func (s *Store) ListOpenOrders(ctx context.Context) ([]pos.Order, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+orderCols+` FROM orders
		WHERE status IN ('NEW', 'SERVING')
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()
	var out []pos.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// ---- items ----

const itemCols = `id, order_id, dish_id, dish_name, quantity, price, status, note, position, created_at, updated_at`

func scanItem(row pgx.Row) (pos.OrderItem, error) {
	var it pos.OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.DishID, &it.DishName, &it.Quantity, dec(&it.Price),
		&it.Status, &it.Note, &it.Position, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func (s *Store) AddItems(ctx context.Context, items []pos.OrderItem) error {
	q := s.q(ctx)
	for _, it := range items {
		_, err := q.Exec(ctx, `
			INSERT INTO order_items (id, order_id, dish_id, dish_name, quantity, price, status, note, position, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			it.ID, it.OrderID, it.DishID, it.DishName, it.Quantity, num(it.Price),
			it.Status, it.Note, it.Position, it.CreatedAt, it.UpdatedAt)
		if err != nil {
			return mapErr(fmt.Errorf("add item: %w", err))
		}
	}
	return nil
}

func (s *Store) ListItems(ctx context.Context, orderID string) ([]pos.OrderItem, error) {
	byOrder, err := s.ListItemsForOrders(ctx, []string{orderID})
	if err != nil {
		return nil, err
	}
	return byOrder[orderID], nil
}

func (s *Store) ListItemsForOrders(ctx context.Context, orderIDs []string) (map[string][]pos.OrderItem, error) {
	out := make(map[string][]pos.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (s *Store) UpdateItem(ctx context.Context, it pos.OrderItem) error {
	ct, err := s.q(ctx).Exec(ctx, `
		UPDATE order_items
		SET order_id = $2, status = $3, note = $4, position = $5, updated_at = $6
		WHERE id = $1`,
		it.ID, it.OrderID, it.Status, it.Note, it.Position, it.UpdatedAt)
	if err != nil {
		return mapErr(fmt.Errorf("update item: %w", err))
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", pos.ErrItemNotFound, it.ID)
	}
	return nil
}

// ---- menu ----

func (s *Store) CreateDish(ctx context.Context, d pos.Dish) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO dishes (id, name, price, available) VALUES ($1, $2, $3, $4)`,
		d.ID, d.Name, num(d.Price), d.Available)
	if err != nil {
		return mapErr(fmt.Errorf("create dish: %w", err))
	}
	return nil
}

func (s *Store) GetDishes(ctx context.Context, ids []string) (map[string]pos.Dish, error) {
	out := make(map[string]pos.Dish, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.q(ctx).Query(ctx, `SELECT id, name, price, available FROM dishes WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get dishes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var d pos.Dish
		if err := rows.Scan(&d.ID, &d.Name, dec(&d.Price), &d.Available); err != nil {
			return nil, err
		}
		out[d.ID] = d
	}
	return out, rows.Err()
}
