package postgres

import (
	"context"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/jackc/pgx/v5"
	"time"
)

// ---- vouchers ----

const voucherCols = `code, type, value, min_order_amount, max_discount, usage_limit, used_count, starts_at, ends_at, status`

func scanVoucher(row pgx.Row) (pos.Voucher, error) {
	var (
		v            pos.Voucher
		starts, ends *time.Time
	)
	err := row.Scan(&v.Code, &v.Type, dec(&v.Value), dec(&v.MinOrderAmount), dec(&v.MaxDiscount),
		&v.UsageLimit, &v.UsedCount, &starts, &ends, &v.Status)
	if starts != nil {
		v.StartsAt = *starts
	}
	if ends != nil {
		v.EndsAt = *ends
	}
	return v, err
}

func (s *Store) CreateVoucher(ctx context.Context, v pos.Voucher) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO vouchers (`+voucherCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.Code, v.Type, num(v.Value), num(v.MinOrderAmount), num(v.MaxDiscount),
		v.UsageLimit, v.UsedCount, nullTime(v.StartsAt), nullTime(v.EndsAt), v.Status)
	if err != nil {
		return mapErr(fmt.Errorf("create voucher: %w", err))
	}
	return nil
}

func (s *Store) FindVoucher(ctx context.Context, code string) (*pos.Voucher, error) {
	return s.findVoucher(ctx, s.q(ctx), `SELECT `+voucherCols+` FROM vouchers WHERE code = $1`, code)
}

func (s *Store) LockVoucher(ctx context.Context, code string) (*pos.Voucher, error) {
	tx, err := s.lockq(ctx)
	if err != nil {
		return nil, err
	}
	return s.findVoucher(ctx, tx, `SELECT `+voucherCols+` FROM vouchers WHERE code = $1 FOR UPDATE`, code)
}

func (s *Store) findVoucher(ctx context.Context, q querier, query, code string) (*pos.Voucher, error) {
	v, err := scanVoucher(q.QueryRow(ctx, query, code))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr(fmt.Errorf("find voucher: %w", err))
	}
	return &v, nil
}

func (s *Store) UpdateVoucherUsage(ctx context.Context, code string, used int) error {
	ct, err := s.q(ctx).Exec(ctx, `UPDATE vouchers SET used_count = $2 WHERE code = $1`, code, used)
	if err != nil {
		return mapErr(fmt.Errorf("update voucher usage: %w", err))
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: voucher %s", pos.ErrVoucherNotApplicable, code)
	}
	return nil
}

// ---- members ----

func (s *Store) CreateMember(ctx context.Context, m pos.Member) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO members (id, name, phone, points) VALUES ($1, $2, $3, $4)`,
		m.ID, m.Name, m.Phone, m.Points)
	if err != nil {
		return mapErr(fmt.Errorf("create member: %w", err))
	}
	return nil
}

func (s *Store) GetMember(ctx context.Context, id string) (pos.Member, error) {
	return s.getMember(ctx, s.q(ctx), `SELECT id, name, phone, points FROM members WHERE id = $1`, id)
}

func (s *Store) LockMember(ctx context.Context, id string) (pos.Member, error) {
	tx, err := s.lockq(ctx)
	if err != nil {
		return pos.Member{}, err
	}
	return s.getMember(ctx, tx, `SELECT id, name, phone, points FROM members WHERE id = $1 FOR UPDATE`, id)
}

func (s *Store) getMember(ctx context.Context, q querier, query, id string) (pos.Member, error) {
	var m pos.Member
	err := q.QueryRow(ctx, query, id).Scan(&m.ID, &m.Name, &m.Phone, &m.Points)
	if isNoRows(err) {
		return pos.Member{}, fmt.Errorf("%w: %s", pos.ErrMemberNotFound, id)
	}
	if err != nil {
		return pos.Member{}, mapErr(fmt.Errorf("get member: %w", err))
	}
	return m, nil
}

func (s *Store) UpdateMemberPoints(ctx context.Context, id string, points int64) error {
	ct, err := s.q(ctx).Exec(ctx, `UPDATE members SET points = $2 WHERE id = $1`, id, points)
	if err != nil {
		return mapErr(fmt.Errorf("update member points: %w", err))
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s", pos.ErrMemberNotFound, id)
	}
	return nil
}

func (s *Store) AddLoyaltyEntries(ctx context.Context, entries []pos.LoyaltyEntry) error {
	q := s.q(ctx)
	for _, e := range entries {
		_, err := q.Exec(ctx, `
			INSERT INTO loyalty_entries (id, member_id, order_id, delta, reason, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.MemberID, e.OrderID, e.Delta, e.Reason, e.CreatedAt)
		if err != nil {
			return mapErr(fmt.Errorf("add loyalty entry: %w", err))
		}
	}
	return nil
}

// LoyaltyEntries returns a member's ledger, oldest first.
func (s *Store) LoyaltyEntries(ctx context.Context, memberID string) ([]pos.LoyaltyEntry, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, member_id, order_id, delta, reason, created_at
		FROM loyalty_entries WHERE member_id = $1
		ORDER BY created_at, id`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list loyalty entries: %w", err)
	}
	defer rows.Close()
	var out []pos.LoyaltyEntry
	for rows.Next() {
		var e pos.LoyaltyEntry
		if err := rows.Scan(&e.ID, &e.MemberID, &e.OrderID, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- payments ----

func (s *Store) CreatePayment(ctx context.Context, p pos.Payment) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO payments (
			id, order_id, method, subtotal, voucher_code, voucher_discount, default_discount,
			total_discount, after_discount, points_redeemed, redemption_discount,
			amount_before_vat, vat_rate, vat_amount, final_amount, points_earned, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		p.ID, p.OrderID, p.Method, num(p.Subtotal), nullString(p.VoucherCode), num(p.VoucherDiscount),
		num(p.DefaultDiscount), num(p.TotalDiscount), num(p.AfterDiscount), p.PointsRedeemed,
		num(p.RedemptionDiscount), num(p.AmountBeforeVAT), num(p.VATRate), num(p.VATAmount),
		num(p.FinalAmount), p.PointsEarned, p.CreatedAt)
	if err != nil {
		return mapErr(fmt.Errorf("create payment: %w", err))
	}
	return nil
}

func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (*pos.Payment, error) {
	var p pos.Payment
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, order_id, method, subtotal, COALESCE(voucher_code, ''), voucher_discount,
			default_discount, total_discount, after_discount, points_redeemed, redemption_discount,
			amount_before_vat, vat_rate, vat_amount, final_amount, points_earned, created_at
		FROM payments WHERE order_id = $1`, orderID).Scan(
		&p.ID, &p.OrderID, &p.Method, dec(&p.Subtotal), &p.VoucherCode, dec(&p.VoucherDiscount),
		dec(&p.DefaultDiscount), dec(&p.TotalDiscount), dec(&p.AfterDiscount), &p.PointsRedeemed,
		dec(&p.RedemptionDiscount), dec(&p.AmountBeforeVAT), dec(&p.VATRate), dec(&p.VATAmount),
		dec(&p.FinalAmount), &p.PointsEarned, &p.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}
