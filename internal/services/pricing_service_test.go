package services

import (
	"context"
	"testing"

	"github.com/mekongcart/api/internal/domain"
)

func int64Ptr(v int64) *int64 { return &v }

func newTestPricer(t *testing.T, reg *stubRegistry) Pricer {
	t.Helper()
	pricer, err := NewPricingService(PricingServiceDeps{Variants: reg.Variants()})
	if err != nil {
		t.Fatalf("NewPricingService returned error: %v", err)
	}
	return pricer
}

func TestResolveClampsToAvailableStock(t *testing.T) {
	reg := newStubRegistry()
	reg.variants[1] = domain.ProductVariant{ID: 1, ProductID: 10, SKU: "TEA-01", Name: "Lotus tea", Price: int64Ptr(50000), Stock: 3, IsActive: true}
	pricer := newTestPricer(t, reg)

	lines, err := pricer.Resolve(context.Background(), []RequestedItem{{VariantID: 1, Quantity: 5}}, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	line := lines[0]
	if line.QtyRequested != 5 || line.QtyPriced != 3 {
		t.Fatalf("expected requested 5 priced 3, got requested %d priced %d", line.QtyRequested, line.QtyPriced)
	}
	if line.LineSubtotal != 150000 {
		t.Fatalf("expected subtotal 150000, got %d", line.LineSubtotal)
	}
	if len(line.Warnings) != 1 || line.Warnings[0] != WarningLowStock {
		t.Fatalf("expected low_stock warning, got %v", line.Warnings)
	}
}

func TestResolveFlagsMissingInactiveAndUnpriced(t *testing.T) {
	reg := newStubRegistry()
	reg.variants[2] = domain.ProductVariant{ID: 2, Price: int64Ptr(20000), Stock: 5, IsActive: false}
	reg.variants[3] = domain.ProductVariant{ID: 3, Stock: 5, IsActive: true}
	pricer := newTestPricer(t, reg)

	lines, err := pricer.Resolve(context.Background(), []RequestedItem{
		{VariantID: 99, Quantity: 1},
		{VariantID: 2, Quantity: 1},
		{VariantID: 3, Quantity: 1},
	}, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	wantWarnings := []LineWarning{WarningNotFound, WarningInactive, WarningPriceMissing}
	for i, line := range lines {
		if line.QtyPriced != 0 || line.LineSubtotal != 0 {
			t.Fatalf("line %d: expected zero priced quantity, got qty %d subtotal %d", i, line.QtyPriced, line.LineSubtotal)
		}
		if len(line.Warnings) != 1 || line.Warnings[0] != wantWarnings[i] {
			t.Fatalf("line %d: expected warning %s, got %v", i, wantWarnings[i], line.Warnings)
		}
	}
}

func TestResolveTreatsNegativeStockAsZero(t *testing.T) {
	reg := newStubRegistry()
	reg.variants[1] = domain.ProductVariant{ID: 1, Price: int64Ptr(10000), Stock: -2, IsActive: true}
	pricer := newTestPricer(t, reg)

	lines, err := pricer.Resolve(context.Background(), []RequestedItem{{VariantID: 1, Quantity: 2}}, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if lines[0].QtyPriced != 0 {
		t.Fatalf("expected zero priced quantity for oversold variant, got %d", lines[0].QtyPriced)
	}
	if len(lines[0].Warnings) != 1 || lines[0].Warnings[0] != WarningLowStock {
		t.Fatalf("expected low_stock warning, got %v", lines[0].Warnings)
	}
}

func TestResolveHonoursPriceOverrides(t *testing.T) {
	reg := newStubRegistry()
	reg.variants[1] = domain.ProductVariant{ID: 1, Price: int64Ptr(50000), Stock: 10, IsActive: true}
	pricer := newTestPricer(t, reg)

	lines, err := pricer.Resolve(context.Background(), []RequestedItem{{VariantID: 1, Quantity: 2}}, ResolveOptions{
		PriceOverrides: map[uint]int64{1: 45000},
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if lines[0].UnitPrice != 45000 || lines[0].LineSubtotal != 90000 {
		t.Fatalf("expected override price 45000 subtotal 90000, got %d / %d", lines[0].UnitPrice, lines[0].LineSubtotal)
	}
}

func TestResolveOverrideDoesNotRescueUnpricedInactive(t *testing.T) {
	reg := newStubRegistry()
	reg.variants[1] = domain.ProductVariant{ID: 1, Stock: 10, IsActive: false}
	pricer := newTestPricer(t, reg)

	lines, err := pricer.Resolve(context.Background(), []RequestedItem{{VariantID: 1, Quantity: 1}}, ResolveOptions{
		PriceOverrides: map[uint]int64{1: 45000},
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if lines[0].QtyPriced != 0 {
		t.Fatalf("expected inactive variant to stay unpriced, got qty %d", lines[0].QtyPriced)
	}
	if len(lines[0].Warnings) != 1 || lines[0].Warnings[0] != WarningInactive {
		t.Fatalf("expected inactive warning, got %v", lines[0].Warnings)
	}
}

func TestResolveEmptyInput(t *testing.T) {
	pricer := newTestPricer(t, newStubRegistry())
	lines, err := pricer.Resolve(context.Background(), nil, ResolveOptions{})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if lines != nil {
		t.Fatalf("expected no lines, got %v", lines)
	}
}
