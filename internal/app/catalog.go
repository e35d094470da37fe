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

// Services bundles the use cases served by the API.
type Services struct {
	Tables     *TableService
	Orders     *OrderService
	Settlement *SettlementService
	Views      *ViewService
	Catalog    *CatalogService
}

func NewServices(repo Repository, clk clock.Clock, pricing payment.Policy, policy Policy, log *slog.Logger) *Services {
	if log == nil {
		log = slog.Default()
	}
	return &Services{
		Tables:     NewTableService(repo, clk, log),
		Orders:     NewOrderService(repo, clk, policy, log),
		Settlement: NewSettlementService(repo, clk, pricing, policy, log),
		Views:      NewViewService(repo),
		Catalog:    NewCatalogService(repo, clk),
	}
}

// CatalogService provisions tables, dishes, vouchers and members.
type CatalogService struct {
	repo  Repository
	clock clock.Clock
}

func NewCatalogService(repo Repository, clk clock.Clock) *CatalogService {
	return &CatalogService{repo: repo, clock: clk}
}

func (s *CatalogService) AddTable(ctx context.Context, t pos.Table) (pos.Table, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return pos.Table{}, fmt.Errorf("%w: table name required", pos.ErrInvalidStatus)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = pos.TableAvailable
	t.MergedRootID = ""
	t.UpdatedAt = s.clock.Now()
	if err := s.repo.CreateTable(ctx, t); err != nil {
		return pos.Table{}, err
	}
	return t, nil
}

// DisableTable soft-deletes an AVAILABLE table; historical orders keep
// referencing it.
func (s *CatalogService) DisableTable(ctx context.Context, id string) (pos.Table, error) {
	var out pos.Table
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockTables(ctx, id)
		if err != nil {
			return err
		}
		t := locked[id]
		if t.Status != pos.TableAvailable {
			return fmt.Errorf("%w: table %s is %s", pos.ErrTableInUse, t.ID, t.Status)
		}
		now := s.clock.Now()
		t.Disabled = true
		t.UpdatedAt = now
		if err := s.repo.UpdateTable(ctx, t); err != nil {
			return err
		}
		var b outbox.Batch
		tableEvent(&b, t, t.Status, pos.ReasonTableStructureChanged, "", now)
		out = t
		return commit(ctx, s.repo, &b)
	})
	return out, err
}

func (s *CatalogService) ListTables(ctx context.Context) ([]pos.Table, error) {
	return s.repo.ListTables(ctx)
}

func (s *CatalogService) AddDish(ctx context.Context, d pos.Dish) (pos.Dish, error) {
	if d.Price.IsNegative() {
		return pos.Dish{}, fmt.Errorf("%w: dish price %s", pos.ErrNegativeAmount, d.Price)
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if err := s.repo.CreateDish(ctx, d); err != nil {
		return pos.Dish{}, err
	}
	return d, nil
}

func (s *CatalogService) AddVoucher(ctx context.Context, v pos.Voucher) (pos.Voucher, error) {
	v.Code = strings.ToUpper(strings.TrimSpace(v.Code))
	switch {
	case v.Code == "":
		return pos.Voucher{}, fmt.Errorf("%w: voucher code required", pos.ErrInvalidStatus)
	case v.Type != pos.DiscountPercent && v.Type != pos.DiscountFixed:
		return pos.Voucher{}, fmt.Errorf("%w: discount type %q", pos.ErrInvalidStatus, v.Type)
	case v.Value.IsNegative() || v.MaxDiscount.IsNegative():
		return pos.Voucher{}, fmt.Errorf("%w: voucher %s", pos.ErrNegativeAmount, v.Code)
	}
	if v.Status == "" {
		v.Status = pos.VoucherActive
	}
	if err := s.repo.CreateVoucher(ctx, v); err != nil {
		return pos.Voucher{}, err
	}
	return v, nil
}

func (s *CatalogService) AddMember(ctx context.Context, m pos.Member) (pos.Member, error) {
	if m.Points < 0 {
		return pos.Member{}, pos.ErrInvalidPoints
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := s.repo.CreateMember(ctx, m); err != nil {
		return pos.Member{}, err
	}
	return m, nil
}
