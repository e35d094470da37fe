package cli

import (
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/pos"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"io"
	"strings"
	"time"
)

func NewDishCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "dish", Short: "Manage the menu"}

	var (
		d           pos.Dish
		price       string
		unavailable bool
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a dish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseMoney("price", price)
			if err != nil {
				return err
			}
			d.Price = p
			d.Available = !unavailable

			svc, closeFn, err := opts.catalog(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			out, err := svc.AddDish(cmd.Context(), d)
			if err != nil {
				return err
			}
			return opts.print(cmd, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "dish %s (%s) added at %s\n", out.Name, out.ID, out.Price)
				return err
			})
		},
	}
	add.Flags().StringVar(&d.ID, "id", "", "dish id (generated when empty)")
	add.Flags().StringVar(&d.Name, "name", "", "dish name (required)")
	add.Flags().StringVar(&price, "price", "", "unit price (required)")
	add.Flags().BoolVar(&unavailable, "unavailable", false, "add the dish as unavailable")
	_ = add.MarkFlagRequired("name")
	_ = add.MarkFlagRequired("price")

	cmd.AddCommand(add)
	return cmd
}

type voucherFlags struct {
	code, kind, value, minOrder, maxDiscount string
	limit                                    int
	starts, ends                             string
}

func (f voucherFlags) voucher() (pos.Voucher, error) {
	v := pos.Voucher{
		Code:       f.code,
		Type:       pos.DiscountType(strings.ToUpper(f.kind)),
		UsageLimit: f.limit,
	}
	var err error
	if v.Value, err = parseMoney("value", f.value); err != nil {
		return pos.Voucher{}, err
	}
	if v.MinOrderAmount, err = parseMoney("min-order", f.minOrder); err != nil {
		return pos.Voucher{}, err
	}
	if v.MaxDiscount, err = parseMoney("max-discount", f.maxDiscount); err != nil {
		return pos.Voucher{}, err
	}
	if v.StartsAt, err = parseTime("starts", f.starts); err != nil {
		return pos.Voucher{}, err
	}
	if v.EndsAt, err = parseTime("ends", f.ends); err != nil {
		return pos.Voucher{}, err
	}
	if f.limit < 0 {
		return pos.Voucher{}, fmt.Errorf("limit must not be negative")
	}
	if !v.StartsAt.IsZero() && !v.EndsAt.IsZero() && v.EndsAt.Before(v.StartsAt) {
		return pos.Voucher{}, fmt.Errorf("voucher ends before it starts")
	}
	return v, nil
}

func NewVoucherCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "voucher", Short: "Manage vouchers"}

	var f voucherFlags
	add := &cobra.Command{
		Use:   "add",
		Short: "Create a voucher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := f.voucher()
			if err != nil {
				return err
			}
			svc, closeFn, err := opts.catalog(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			out, err := svc.AddVoucher(cmd.Context(), v)
			if err != nil {
				return err
			}
			return opts.print(cmd, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "voucher %s added (%s %s)\n", out.Code, out.Type, out.Value)
				return err
			})
		},
	}
	add.Flags().StringVar(&f.code, "code", "", "voucher code (required)")
	add.Flags().StringVar(&f.kind, "type", string(pos.DiscountPercent), "PERCENT or FIXED")
	add.Flags().StringVar(&f.value, "value", "", "percent or fixed amount (required)")
	add.Flags().StringVar(&f.minOrder, "min-order", "0", "minimum order subtotal")
	add.Flags().StringVar(&f.maxDiscount, "max-discount", "0", "discount cap, 0 for none")
	add.Flags().IntVar(&f.limit, "limit", 0, "usage limit, 0 for unlimited")
	add.Flags().StringVar(&f.starts, "starts", "", "start of validity (RFC3339)")
	add.Flags().StringVar(&f.ends, "ends", "", "end of validity (RFC3339)")
	_ = add.MarkFlagRequired("code")
	_ = add.MarkFlagRequired("value")

	cmd.AddCommand(add)
	return cmd
}

func NewMemberCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage loyalty members"}

	var m pos.Member
	add := &cobra.Command{
		Use:   "add",
		Short: "Enrol a member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := opts.catalog(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			out, err := svc.AddMember(cmd.Context(), m)
			if err != nil {
				return err
			}
			return opts.print(cmd, out, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "member %s (%s) added with %d points\n", out.Name, out.ID, out.Points)
				return err
			})
		},
	}
	add.Flags().StringVar(&m.ID, "id", "", "member id (generated when empty)")
	add.Flags().StringVar(&m.Name, "name", "", "member name (required)")
	add.Flags().StringVar(&m.Phone, "phone", "", "phone number")
	add.Flags().Int64Var(&m.Points, "points", 0, "opening point balance")
	_ = add.MarkFlagRequired("name")

	cmd.AddCommand(add)
	return cmd
}

func parseMoney(flag, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("--%s: %w", flag, err)
	}
	return d, nil
}

func parseTime(flag, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", flag, err)
	}
	return t.UTC(), nil
}
