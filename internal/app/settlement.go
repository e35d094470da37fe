package app

import (
	"context"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/clock"
	"github.com/ariefcatur/resto-pos/internal/outbox"
	"github.com/ariefcatur/resto-pos/internal/payment"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/google/uuid"
	"log/slog"
	"strings"
)

const defaultPaymentMethod = "CASH"

type SettleInput struct {
	OrderID      string
	VoucherCode  string
	MemberID     string // falls back to the order's member
	RedeemPoints int64
	Method       string
}

type Receipt struct {
	Payment pos.Payment
	Result  payment.Result
}

// SettlementService prices and settles orders.
type SettlementService struct {
	repo    Repository
	clock   clock.Clock
	pricing payment.Policy
	policy  Policy
	log     *slog.Logger
}

func NewSettlementService(repo Repository, clk clock.Clock, pricing payment.Policy, policy Policy, log *slog.Logger) *SettlementService {
	return &SettlementService{repo: repo, clock: clk, pricing: pricing, policy: policy, log: log.With("component", "settlement")}
}

// Quote prices an open order without persisting anything.
func (s *SettlementService) Quote(ctx context.Context, in SettleInput) (payment.Result, error) {
	o, err := s.repo.GetOrder(ctx, in.OrderID)
	if err != nil {
		return payment.Result{}, err
	}
	if o.Status.Terminal() {
		return payment.Result{}, fmt.Errorf("%w: order %s is %s", pos.ErrAlreadyTerminal, o.Code, o.Status)
	}
	items, err := s.repo.ListItems(ctx, o.ID)
	if err != nil {
		return payment.Result{}, err
	}
	member, err := s.member(ctx, in, o, s.repo.GetMember)
	if err != nil {
		return payment.Result{}, err
	}
	calc := payment.NewCalculator(s.pricing, s.repo)
	return calc.Calculate(ctx, payment.Input{
		Items:        items,
		VoucherCode:  normalizeCode(in.VoucherCode),
		Member:       member,
		RedeemPoints: in.RedeemPoints,
		Now:          s.clock.Now(),
	})
}

// Settle computes the amount due, records the payment and the loyalty ledger,
// marks the order PAID and frees its table along with any tables merged
// into it. A second settle of the same order fails with ErrAlreadyTerminal.
func (s *SettlementService) Settle(ctx context.Context, in SettleInput) (Receipt, error) {
	var out Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		o, g, err := lockOrderWithTable(ctx, s.repo, in.OrderID)
		if err != nil {
			return err
		}
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", pos.ErrAlreadyTerminal, o.Code, o.Status)
		}
		if o.Status == pos.OrderNew && !s.policy.AllowWalkUpSettlement {
			return fmt.Errorf("%w: order %s has not been sent to the kitchen", pos.ErrInvalidTransition, o.Code)
		}
		if !o.Status.CanTransition(pos.OrderPaid) {
			return fmt.Errorf("%w: order %s %s -> %s", pos.ErrInvalidTransition, o.Code, o.Status, pos.OrderPaid)
		}
		items, err := s.repo.ListItems(ctx, o.ID)
		if err != nil {
			return err
		}
		if !hasActive(items) {
			return fmt.Errorf("%w: order %s has no active items", pos.ErrEmptyOrder, o.Code)
		}
		member, err := s.member(ctx, in, o, s.repo.LockMember)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		calc := payment.NewCalculator(s.pricing, lockingVouchers{s.repo})
		res, err := calc.Calculate(ctx, payment.Input{
			Items:        items,
			VoucherCode:  normalizeCode(in.VoucherCode),
			Member:       member,
			RedeemPoints: in.RedeemPoints,
			Now:          now,
		})
		if err != nil {
			return err
		}

		if res.Voucher != nil {
			if err := s.repo.UpdateVoucherUsage(ctx, res.Voucher.Code, res.Voucher.UsedCount+1); err != nil {
				return err
			}
		}
		if member != nil {
			if err := s.applyLoyalty(ctx, *member, o.ID, res); err != nil {
				return err
			}
			o.MemberID = member.ID
		}

		method := strings.ToUpper(strings.TrimSpace(in.Method))
		if method == "" {
			method = defaultPaymentMethod
		}
		p := pos.Payment{
			ID:                 uuid.NewString(),
			OrderID:            o.ID,
			Method:             method,
			Subtotal:           res.Subtotal,
			VoucherCode:        res.AppliedVoucherCode,
			VoucherDiscount:    res.VoucherDiscount,
			DefaultDiscount:    res.DefaultDiscount,
			TotalDiscount:      res.TotalDiscount,
			AfterDiscount:      res.AmountAfterDiscount,
			PointsRedeemed:     res.PointsRedeemed,
			RedemptionDiscount: res.RedemptionDiscount,
			AmountBeforeVAT:    res.AmountBeforeVAT,
			VATRate:            res.VATRate,
			VATAmount:          res.VATAmount,
			FinalAmount:        res.FinalAmount,
			PointsEarned:       res.PointsEarned,
			CreatedAt:          now,
		}
		if err := s.repo.CreatePayment(ctx, p); err != nil {
			return err
		}

		o.Status = pos.OrderPaid
		o.UpdatedAt = now
		if err := s.repo.UpdateOrder(ctx, o); err != nil {
			return err
		}

		var b outbox.Batch
		b.Add(pos.EventPaymentSettled, pos.AggregateOrder, o.ID, pos.PaymentSettledPayload{
			OrderID:        o.ID,
			OrderCode:      o.Code,
			TableID:        o.TableID,
			PaymentID:      p.ID,
			Method:         p.Method,
			Subtotal:       p.Subtotal.String(),
			TotalDiscount:  p.TotalDiscount.String(),
			VoucherCode:    p.VoucherCode,
			VATAmount:      p.VATAmount.String(),
			FinalAmount:    p.FinalAmount.String(),
			MemberID:       o.MemberID,
			PointsRedeemed: p.PointsRedeemed,
			PointsEarned:   p.PointsEarned,
		}, now)
		if t, ok := g.tables[o.TableID]; ok {
			if _, err := freeTables(ctx, s.repo, &b, t, g.satellites[t.ID], pos.ReasonPaymentDone, o.ID, now); err != nil {
				return err
			}
		}

		out = Receipt{Payment: p, Result: res}
		return commit(ctx, s.repo, &b)
	})
	if err != nil {
		return Receipt{}, err
	}
	s.log.Info("order settled",
		slog.String("order_id", in.OrderID),
		slog.String("final_amount", out.Payment.FinalAmount.String()),
		slog.Int64("points_earned", out.Payment.PointsEarned))
	return out, nil
}

func (s *SettlementService) member(ctx context.Context, in SettleInput, o pos.Order, load func(context.Context, string) (pos.Member, error)) (*pos.Member, error) {
	id := in.MemberID
	if id == "" {
		id = o.MemberID
	}
	if id == "" {
		return nil, nil
	}
	m, err := load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SettlementService) applyLoyalty(ctx context.Context, m pos.Member, orderID string, res payment.Result) error {
	now := s.clock.Now()
	var entries []pos.LoyaltyEntry
	if res.PointsRedeemed > 0 {
		entries = append(entries, pos.LoyaltyEntry{
			ID: uuid.NewString(), MemberID: m.ID, OrderID: orderID,
			Delta: -res.PointsRedeemed, Reason: pos.LoyaltyRedeem, CreatedAt: now,
		})
	}
	if res.PointsEarned > 0 {
		entries = append(entries, pos.LoyaltyEntry{
			ID: uuid.NewString(), MemberID: m.ID, OrderID: orderID,
			Delta: res.PointsEarned, Reason: pos.LoyaltyEarn, CreatedAt: now,
		})
	}
	if len(entries) == 0 {
		return nil
	}
	if err := s.repo.AddLoyaltyEntries(ctx, entries); err != nil {
		return err
	}
	return s.repo.UpdateMemberPoints(ctx, m.ID, m.Points-res.PointsRedeemed+res.PointsEarned)
}

// lockingVouchers resolves vouchers under a row lock so the usage count read
// by the calculator is the one incremented.
type lockingVouchers struct{ repo Repository }

func (l lockingVouchers) FindVoucher(ctx context.Context, code string) (*pos.Voucher, error) {
	return l.repo.LockVoucher(ctx, code)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
