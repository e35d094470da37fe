package config

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/ariefcatur/resto-pos/internal/app"
	"github.com/ariefcatur/resto-pos/internal/payment"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"io"
	"os"
)

// Policy is the pricing and operational policy of a deployment.
type Policy struct {
	Pricing payment.Policy
	Orders  app.Policy
}

// policyFile mirrors the YAML layout. Money and rates are strings so they
// parse straight into decimals.
type policyFile struct {
	Pricing struct {
		VATRate                *string `yaml:"vat_rate"`
		DefaultDiscountPercent *string `yaml:"default_discount_percent"`
		PointValue             *string `yaml:"point_value"`
		EarnUnit               *string `yaml:"earn_unit"`
		EarnBase               string  `yaml:"earn_base"`
		Scale                  *int32  `yaml:"scale"`
	} `yaml:"pricing"`
	Orders struct {
		AllowWalkUpSettlement *bool `yaml:"allow_walk_up_settlement"`
		AllowItemCancel       *bool `yaml:"allow_item_cancel"`
	} `yaml:"orders"`
}

func DefaultPolicy() Policy {
	return Policy{Pricing: payment.DefaultPolicy(), Orders: app.DefaultPolicy()}
}

// LoadPolicy reads a YAML policy file. An empty path yields the defaults;
// keys missing from the file keep their default.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(b)
}

func ParsePolicy(b []byte) (Policy, error) {
	var f policyFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}

	p := DefaultPolicy()
	fields := []struct {
		name string
		raw  *string
		dst  *decimal.Decimal
	}{
		{"vat_rate", f.Pricing.VATRate, &p.Pricing.VATRate},
		{"default_discount_percent", f.Pricing.DefaultDiscountPercent, &p.Pricing.DefaultDiscountPercent},
		{"point_value", f.Pricing.PointValue, &p.Pricing.PointValue},
		{"earn_unit", f.Pricing.EarnUnit, &p.Pricing.EarnUnit},
	}
	for _, fl := range fields {
		if fl.raw == nil {
			continue
		}
		d, err := decimal.NewFromString(*fl.raw)
		if err != nil {
			return Policy{}, fmt.Errorf("policy %s: %w", fl.name, err)
		}
		if d.IsNegative() {
			return Policy{}, fmt.Errorf("policy %s: must not be negative", fl.name)
		}
		*fl.dst = d
	}

	switch payment.EarnBase(f.Pricing.EarnBase) {
	case "":
	case payment.EarnOnFinal, payment.EarnOnBeforeVAT:
		p.Pricing.EarnBase = payment.EarnBase(f.Pricing.EarnBase)
	default:
		return Policy{}, fmt.Errorf("policy earn_base: unknown value %q", f.Pricing.EarnBase)
	}
	if f.Pricing.Scale != nil {
		if *f.Pricing.Scale < 0 {
			return Policy{}, fmt.Errorf("policy scale: must not be negative")
		}
		p.Pricing.Scale = *f.Pricing.Scale
	}
	if f.Orders.AllowWalkUpSettlement != nil {
		p.Orders.AllowWalkUpSettlement = *f.Orders.AllowWalkUpSettlement
	}
	if f.Orders.AllowItemCancel != nil {
		p.Orders.AllowItemCancel = *f.Orders.AllowItemCancel
	}
	return p, nil
}
