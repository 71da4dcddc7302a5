package services

import (
	"context"
	"errors"

	"github.com/mekongcart/api/internal/domain"
	"github.com/mekongcart/api/internal/repositories"
)

// ErrPricingUnavailable indicates the pricer cannot reach the catalogue.
var ErrPricingUnavailable = errors.New("pricing service: unavailable")

// ResolveOptions tunes one pricing pass.
type ResolveOptions struct {
	// ForUpdate locks the variant rows; only legal inside a unit of work.
	ForUpdate bool
	// PriceOverrides substitutes a captured price-at-add for the variant's
	// current price. Clamping still uses current stock.
	PriceOverrides map[uint]int64
}

// Pricer resolves requested lines against the current catalogue. It has no
// side effects; anomalies surface as per-line warnings, never errors.
type Pricer interface {
	Resolve(ctx context.Context, items []RequestedItem, opts ResolveOptions) ([]PricedLine, error)
}

// PricingServiceDeps wires the catalogue dependency for the pricer.
type PricingServiceDeps struct {
	Variants repositories.VariantRepository
}

type pricingService struct {
	variants repositories.VariantRepository
}

// NewPricingService constructs the catalogue-backed pricer.
func NewPricingService(deps PricingServiceDeps) (Pricer, error) {
	if deps.Variants == nil {
		return nil, errors.New("pricing service: variant repository is required")
	}
	return &pricingService{variants: deps.Variants}, nil
}

// Resolve prices each requested line against the current variant price and
// stock. The priced quantity is clamped to min(requested, max(stock, 0));
// missing variants, disabled products, and missing prices force it to zero.
func (s *pricingService) Resolve(ctx context.Context, items []RequestedItem, opts ResolveOptions) ([]PricedLine, error) {
	if len(items) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.VariantID)
	}

	var (
		variants []domain.ProductVariant
		err      error
	)
	if opts.ForUpdate {
		variants, err = s.variants.FindByIDsForUpdate(ctx, ids)
	} else {
		variants, err = s.variants.FindByIDs(ctx, ids)
	}
	if err != nil {
		return nil, errors.Join(ErrPricingUnavailable, err)
	}

	byID := make(map[uint]domain.ProductVariant, len(variants))
	for _, v := range variants {
		byID[v.ID] = v
	}

	lines := make([]PricedLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, priceLine(item, byID, opts.PriceOverrides))
	}
	return lines, nil
}

func priceLine(item RequestedItem, variants map[uint]domain.ProductVariant, overrides map[uint]int64) PricedLine {
	line := PricedLine{
		VariantID:    item.VariantID,
		QtyRequested: item.Quantity,
	}

	variant, ok := variants[item.VariantID]
	if !ok {
		line.Warnings = append(line.Warnings, WarningNotFound)
		return line
	}

	line.ProductID = variant.ProductID
	line.SKU = variant.SKU
	line.Name = variant.Name

	if !variant.IsActive {
		line.Warnings = append(line.Warnings, WarningInactive)
		return line
	}

	unitPrice, priced := priceFor(variant, overrides)
	if !priced {
		line.Warnings = append(line.Warnings, WarningPriceMissing)
		return line
	}
	line.UnitPrice = unitPrice

	available := variant.Stock
	if available < 0 {
		available = 0
	}
	qty := item.Quantity
	if qty > available {
		qty = available
		line.Warnings = append(line.Warnings, WarningLowStock)
	}
	line.QtyPriced = qty
	line.LineSubtotal = qty * unitPrice
	return line
}

func priceFor(variant domain.ProductVariant, overrides map[uint]int64) (int64, bool) {
	if override, ok := overrides[variant.ID]; ok {
		return override, true
	}
	if variant.Price == nil {
		return 0, false
	}
	return *variant.Price, true
}
