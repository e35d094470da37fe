package payment

import (
	"context"
	"errors"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type voucherMap map[string]pos.Voucher

func (m voucherMap) FindVoucher(_ context.Context, code string) (*pos.Voucher, error) {
	v, ok := m[code]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

type failingFinder struct{}

func (failingFinder) FindVoucher(context.Context, string) (*pos.Voucher, error) {
	return nil, errors.New("db down")
}

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func items(lines ...pos.OrderItem) []pos.OrderItem { return lines }

func line(price string, qty int) pos.OrderItem {
	return pos.OrderItem{Price: dec(price), Quantity: qty, Status: pos.ItemDone}
}

func percentVoucher() pos.Voucher {
	return pos.Voucher{
		Code:        "TEN",
		Type:        pos.DiscountPercent,
		Value:       dec("10"),
		MaxDiscount: dec("15000"),
		StartsAt:    now.Add(-24 * time.Hour),
		EndsAt:      now.Add(24 * time.Hour),
		Status:      pos.VoucherActive,
	}
}

func noEarnPolicy() Policy {
	p := DefaultPolicy()
	p.EarnUnit = decimal.Zero
	return p
}

func TestCalculate_CappedPercentVoucherWithVAT(t *testing.T) {
	calc := NewCalculator(noEarnPolicy(), voucherMap{"TEN": percentVoucher()})

	res, err := calc.Calculate(context.Background(), Input{
		Items:       items(line("100000", 2)),
		VoucherCode: "TEN",
		Now:         now,
	})
	require.NoError(t, err)

	assert.True(t, res.Subtotal.Equal(dec("200000")))
	assert.Equal(t, "TEN", res.AppliedVoucherCode)
	assert.True(t, res.VoucherDiscount.Equal(dec("15000")), "got %s", res.VoucherDiscount)
	assert.True(t, res.DefaultDiscount.IsZero())
	assert.True(t, res.AmountAfterDiscount.Equal(dec("185000")))
	assert.True(t, res.VATAmount.Equal(dec("14800")))
	assert.True(t, res.FinalAmount.Equal(dec("199800")))
	require.NotNil(t, res.Voucher)
}

func TestCalculate_ExpiredVoucherSilentlyIgnored(t *testing.T) {
	v := percentVoucher()
	v.EndsAt = now.Add(-time.Hour)
	calc := NewCalculator(noEarnPolicy(), voucherMap{"TEN": v})

	res, err := calc.Calculate(context.Background(), Input{
		Items:       items(line("100000", 2)),
		VoucherCode: "TEN",
		Now:         now,
	})
	require.NoError(t, err)
	assert.Empty(t, res.AppliedVoucherCode)
	assert.Nil(t, res.Voucher)
	assert.True(t, res.VoucherDiscount.IsZero())
	assert.True(t, res.FinalAmount.Equal(dec("216000")))
}

func TestCalculate_VoucherNotApplicableCases(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(v *pos.Voucher)
	}{
		{"inactive", func(v *pos.Voucher) { v.Status = pos.VoucherInactive }},
		{"not started", func(v *pos.Voucher) { v.StartsAt = now.Add(time.Hour) }},
		{"below minimum", func(v *pos.Voucher) { v.MinOrderAmount = dec("500000") }},
		{"usage exhausted", func(v *pos.Voucher) { v.UsageLimit = 3; v.UsedCount = 3 }},
		{"unknown type", func(v *pos.Voucher) { v.Type = "BOGO" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := percentVoucher()
			tt.mutate(&v)

			_, err := VoucherDiscount(v, dec("200000"), now)
			require.ErrorIs(t, err, pos.ErrVoucherNotApplicable)

			calc := NewCalculator(noEarnPolicy(), voucherMap{"TEN": v})
			res, err := calc.Calculate(context.Background(), Input{
				Items:       items(line("100000", 2)),
				VoucherCode: "TEN",
				Now:         now,
			})
			require.NoError(t, err)
			assert.Empty(t, res.AppliedVoucherCode)
		})
	}
}

func TestCalculate_UnknownVoucherCode(t *testing.T) {
	calc := NewCalculator(noEarnPolicy(), voucherMap{})
	res, err := calc.Calculate(context.Background(), Input{
		Items:       items(line("50000", 1)),
		VoucherCode: "NOPE",
		Now:         now,
	})
	require.NoError(t, err)
	assert.Empty(t, res.AppliedVoucherCode)
}

func TestCalculate_VoucherLookupFailurePropagates(t *testing.T) {
	calc := NewCalculator(noEarnPolicy(), failingFinder{})
	_, err := calc.Calculate(context.Background(), Input{
		Items:       items(line("50000", 1)),
		VoucherCode: "TEN",
		Now:         now,
	})
	require.Error(t, err)
}

func TestCalculate_FixedVoucherAndDefaultDiscountFloorAtZero(t *testing.T) {
	p := noEarnPolicy()
	p.DefaultDiscountPercent = dec("50")
	calc := NewCalculator(p, voucherMap{"BIG": {
		Code:   "BIG",
		Type:   pos.DiscountFixed,
		Value:  dec("80000"),
		Status: pos.VoucherActive,
	}})

	res, err := calc.Calculate(context.Background(), Input{
		Items:       items(line("100000", 1)),
		VoucherCode: "BIG",
		Now:         now,
	})
	require.NoError(t, err)
	assert.True(t, res.TotalDiscount.Equal(dec("130000")))
	assert.True(t, res.AmountAfterDiscount.IsZero())
	assert.True(t, res.FinalAmount.IsZero())
}

func TestCalculate_CanceledItemsExcluded(t *testing.T) {
	calc := NewCalculator(noEarnPolicy(), nil)
	canceled := line("999999", 1)
	canceled.Status = pos.ItemCanceled

	res, err := calc.Calculate(context.Background(), Input{
		Items: items(line("10000", 3), canceled),
		Now:   now,
	})
	require.NoError(t, err)
	assert.True(t, res.Subtotal.Equal(dec("30000")))
}

func TestCalculate_LoyaltyRedemption(t *testing.T) {
	calc := NewCalculator(DefaultPolicy(), nil)
	member := &pos.Member{ID: "m1", Points: 100}

	t.Run("converts points", func(t *testing.T) {
		res, err := calc.Calculate(context.Background(), Input{
			Items:        items(line("100000", 1)),
			Member:       member,
			RedeemPoints: 20,
			Now:          now,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 20, res.PointsRedeemed)
		assert.True(t, res.RedemptionDiscount.Equal(dec("20000")))
		assert.True(t, res.AmountBeforeVAT.Equal(dec("80000")))
		assert.True(t, res.FinalAmount.Equal(dec("86400")))
		assert.EqualValues(t, 8, res.PointsEarned)
	})

	t.Run("capped at payable amount", func(t *testing.T) {
		res, err := calc.Calculate(context.Background(), Input{
			Items:        items(line("15500", 1)),
			Member:       member,
			RedeemPoints: 100,
			Now:          now,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 16, res.PointsRedeemed)
		assert.True(t, res.RedemptionDiscount.Equal(dec("15500")))
		assert.True(t, res.FinalAmount.IsZero())
	})

	t.Run("exceeds balance", func(t *testing.T) {
		_, err := calc.Calculate(context.Background(), Input{
			Items:        items(line("100000", 1)),
			Member:       member,
			RedeemPoints: 101,
			Now:          now,
		})
		require.ErrorIs(t, err, pos.ErrRedemptionExceedsBalance)
	})

	t.Run("requires member", func(t *testing.T) {
		_, err := calc.Calculate(context.Background(), Input{
			Items:        items(line("100000", 1)),
			RedeemPoints: 1,
			Now:          now,
		})
		require.ErrorIs(t, err, pos.ErrMemberNotFound)
	})

	t.Run("negative points rejected", func(t *testing.T) {
		_, err := calc.Calculate(context.Background(), Input{
			Items:        items(line("100000", 1)),
			Member:       member,
			RedeemPoints: -1,
			Now:          now,
		})
		require.ErrorIs(t, err, pos.ErrInvalidPoints)
	})
}

func TestCalculate_EarnBaseAndRounding(t *testing.T) {
	p := DefaultPolicy()
	p.EarnBase = EarnOnBeforeVAT
	p.VATRate = dec("0.1")
	p.Scale = 2
	calc := NewCalculator(p, nil)

	res, err := calc.Calculate(context.Background(), Input{
		Items: items(line("33333.335", 3)),
		Now:   now,
	})
	require.NoError(t, err)
	// 100000.005 rounds half-up at two places
	assert.Equal(t, "100000.01", res.Subtotal.StringFixed(2))
	assert.Equal(t, "10000.00", res.VATAmount.StringFixed(2))
	assert.Equal(t, "110000.01", res.FinalAmount.StringFixed(2))
	assert.EqualValues(t, 10, res.PointsEarned)
}

func TestCalculate_ReceiptComponentsAddUpAfterRounding(t *testing.T) {
	calc := NewCalculator(noEarnPolicy(), nil)

	res, err := calc.Calculate(context.Background(), Input{
		Items: items(line("1003.40", 1)),
		Now:   now,
	})
	require.NoError(t, err)
	// 1003.40 + 80.272 = 1083.672; rounding each part alone gives 1003 + 80
	assert.Equal(t, "80", res.VATAmount.String())
	assert.Equal(t, "1084", res.FinalAmount.String())
	assert.Equal(t, "1004", res.AmountBeforeVAT.String())
	assert.True(t, res.AmountBeforeVAT.Add(res.VATAmount).Equal(res.FinalAmount))
}
