// Package payment computes the amount due for an order. All arithmetic is
// exact decimal; rounding (half-up to the currency scale) happens only when a
// figure is written to the Result.
package payment

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/shopspring/decimal"
	"time"
)

type EarnBase string

const (
	EarnOnFinal     EarnBase = "FINAL"
	EarnOnBeforeVAT EarnBase = "BEFORE_VAT"
)

var hundred = decimal.NewFromInt(100)

type Policy struct {
	VATRate                decimal.Decimal // 0.08 for 8%
	DefaultDiscountPercent decimal.Decimal // applied to every order, summed with the voucher
	PointValue             decimal.Decimal // money per redeemed point; zero disables redemption
	EarnUnit               decimal.Decimal // money per earned point; zero disables earning
	EarnBase               EarnBase
	Scale                  int32 // currency decimal places
}

// DefaultPolicy mirrors the defaults documented for the policy file.
func DefaultPolicy() Policy {
	return Policy{
		VATRate:                decimal.RequireFromString("0.08"),
		DefaultDiscountPercent: decimal.Zero,
		PointValue:             decimal.NewFromInt(1000),
		EarnUnit:               decimal.NewFromInt(10000),
		EarnBase:               EarnOnFinal,
		Scale:                  0,
	}
}

// VoucherFinder resolves voucher codes. A missing voucher is (nil, nil).
type VoucherFinder interface {
	FindVoucher(ctx context.Context, code string) (*pos.Voucher, error)
}

type Input struct {
	Items        []pos.OrderItem
	VoucherCode  string
	Member       *pos.Member
	RedeemPoints int64
	Now          time.Time
}

type Result struct {
	Subtotal            decimal.Decimal `json:"subtotal"`
	AppliedVoucherCode  string          `json:"applied_voucher_code,omitempty"`
	VoucherDiscount     decimal.Decimal `json:"voucher_discount"`
	DefaultDiscount     decimal.Decimal `json:"default_discount"`
	TotalDiscount       decimal.Decimal `json:"total_discount"`
	AmountAfterDiscount decimal.Decimal `json:"amount_after_discount"`
	PointsRedeemed      int64           `json:"points_redeemed"`
	RedemptionDiscount  decimal.Decimal `json:"redemption_discount"`
	AmountBeforeVAT     decimal.Decimal `json:"amount_before_vat"`
	VATRate             decimal.Decimal `json:"vat_rate"`
	VATAmount           decimal.Decimal `json:"vat_amount"`
	FinalAmount         decimal.Decimal `json:"final_amount"`
	PointsEarned        int64           `json:"points_earned"`

	// Voucher is the applied voucher, nil when none applied.
	Voucher *pos.Voucher `json:"-"`
}

type Calculator struct {
	policy   Policy
	vouchers VoucherFinder
}

func NewCalculator(policy Policy, vouchers VoucherFinder) *Calculator {
	return &Calculator{policy: policy, vouchers: vouchers}
}

func (c *Calculator) Policy() Policy { return c.policy }

// Calculate runs the fixed pipeline: subtotal, voucher, default discount,
// floor at zero, loyalty redemption, VAT, loyalty earning.
func (c *Calculator) Calculate(ctx context.Context, in Input) (Result, error) {
	if in.RedeemPoints < 0 {
		return Result{}, pos.ErrInvalidPoints
	}

	subtotal := pos.Total(in.Items)
	res := Result{VATRate: c.policy.VATRate}

	// voucher problems never block payment
	voucherDiscount := decimal.Zero
	if in.VoucherCode != "" && c.vouchers != nil {
		v, err := c.vouchers.FindVoucher(ctx, in.VoucherCode)
		if err != nil {
			return Result{}, fmt.Errorf("find voucher: %w", err)
		}
		if v != nil {
			if d, err := VoucherDiscount(*v, subtotal, in.Now); err == nil {
				voucherDiscount = d
				res.AppliedVoucherCode = v.Code
				res.Voucher = v
			} else if !errors.Is(err, pos.ErrVoucherNotApplicable) {
				return Result{}, err
			}
		}
	}

	defaultDiscount := subtotal.Mul(c.policy.DefaultDiscountPercent).Div(hundred)
	totalDiscount := voucherDiscount.Add(defaultDiscount)

	afterDiscount := subtotal.Sub(totalDiscount)
	if afterDiscount.IsNegative() {
		afterDiscount = decimal.Zero
	}

	redemption := decimal.Zero
	var pointsUsed int64
	if in.RedeemPoints > 0 {
		if in.Member == nil {
			return Result{}, pos.ErrMemberNotFound
		}
		if in.RedeemPoints > in.Member.Points {
			return Result{}, fmt.Errorf("%w: requested %d, available %d",
				pos.ErrRedemptionExceedsBalance, in.RedeemPoints, in.Member.Points)
		}
		redemption, pointsUsed = c.redeem(in.RedeemPoints, afterDiscount)
	}

	beforeVAT := afterDiscount.Sub(redemption)
	vat := beforeVAT.Mul(c.policy.VATRate)
	final := beforeVAT.Add(vat)
	if final.IsNegative() {
		return Result{}, fmt.Errorf("%w: %s", pos.ErrNegativeAmount, final.String())
	}

	res.Subtotal = c.round(subtotal)
	res.VoucherDiscount = c.round(voucherDiscount)
	res.DefaultDiscount = c.round(defaultDiscount)
	res.TotalDiscount = c.round(totalDiscount)
	res.AmountAfterDiscount = c.round(afterDiscount)
	res.PointsRedeemed = pointsUsed
	res.RedemptionDiscount = c.round(redemption)
	// the receipt must add up: before-VAT absorbs the rounding residue
	res.VATAmount = c.round(vat)
	res.FinalAmount = c.round(final)
	res.AmountBeforeVAT = res.FinalAmount.Sub(res.VATAmount)
	res.PointsEarned = c.earn(beforeVAT, final)
	return res, nil
}

// redeem converts points to a discount capped at the amount still payable.
// Only the points needed to cover the cap are consumed.
func (c *Calculator) redeem(points int64, payable decimal.Decimal) (decimal.Decimal, int64) {
	if !c.policy.PointValue.IsPositive() || !payable.IsPositive() {
		return decimal.Zero, 0
	}
	value := c.policy.PointValue.Mul(decimal.NewFromInt(points))
	if value.LessThanOrEqual(payable) {
		return value, points
	}
	needed := payable.Div(c.policy.PointValue).Ceil().IntPart()
	return payable, needed
}

func (c *Calculator) earn(beforeVAT, final decimal.Decimal) int64 {
	if !c.policy.EarnUnit.IsPositive() {
		return 0
	}
	base := final
	if c.policy.EarnBase == EarnOnBeforeVAT {
		base = beforeVAT
	}
	return base.Div(c.policy.EarnUnit).Floor().IntPart()
}

func (c *Calculator) round(d decimal.Decimal) decimal.Decimal {
	// values are non-negative here, so half-away-from-zero is half-up
	return d.Round(c.policy.Scale)
}

// VoucherDiscount returns the raw discount a voucher grants on subtotal, or
// ErrVoucherNotApplicable describing why it does not apply.
func VoucherDiscount(v pos.Voucher, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	switch {
	case v.Status != pos.VoucherActive:
		return decimal.Zero, fmt.Errorf("%w: voucher %s is %s", pos.ErrVoucherNotApplicable, v.Code, v.Status)
	case !v.StartsAt.IsZero() && now.Before(v.StartsAt):
		return decimal.Zero, fmt.Errorf("%w: voucher %s not started", pos.ErrVoucherNotApplicable, v.Code)
	case !v.EndsAt.IsZero() && now.After(v.EndsAt):
		return decimal.Zero, fmt.Errorf("%w: voucher %s expired", pos.ErrVoucherNotApplicable, v.Code)
	case subtotal.LessThan(v.MinOrderAmount):
		return decimal.Zero, fmt.Errorf("%w: order below minimum %s", pos.ErrVoucherNotApplicable, v.MinOrderAmount)
	case v.UsageLimit > 0 && v.UsedCount >= v.UsageLimit:
		return decimal.Zero, fmt.Errorf("%w: voucher %s fully used", pos.ErrVoucherNotApplicable, v.Code)
	}

	var d decimal.Decimal
	switch v.Type {
	case pos.DiscountPercent:
		d = subtotal.Mul(v.Value).Div(hundred)
	case pos.DiscountFixed:
		d = v.Value
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown discount type %q", pos.ErrVoucherNotApplicable, v.Type)
	}
	if v.MaxDiscount.IsPositive() && d.GreaterThan(v.MaxDiscount) {
		d = v.MaxDiscount
	}
	return d, nil
}
