package pricing

import (
	"math"

	"github.com/noah-isme/kasir-api/internal/domain"
)

// Info is the outcome of resolving a sellable unit's price at a quantity.
// BasePrice is the unit price after wholesale-tier selection but before
// discount; EffectivePrice carries fractions until per-line rounding.
type Info struct {
	BasePrice      domain.Money
	EffectivePrice float64
	IsWholesale    bool
}

// SellableUnit is either a plain product or one of its variations. Variation
// units price with their own wholesale tiers but inherit the parent discount.
type SellableUnit struct {
	Product   *domain.Product
	Variation *domain.Variation
}

// ForProduct wraps a plain product.
func ForProduct(p *domain.Product) SellableUnit {
	return SellableUnit{Product: p}
}

// ForVariation wraps a variation of p.
func ForVariation(p *domain.Product, v *domain.Variation) SellableUnit {
	return SellableUnit{Product: p, Variation: v}
}

// UnitPrice returns the regular (pre-tier) unit price.
func (u SellableUnit) UnitPrice() domain.Money {
	if u.Variation != nil {
		return u.Variation.Price
	}
	return u.Product.Price
}

// Stock returns the tracked stock for the unit, nil meaning unlimited.
func (u SellableUnit) Stock() *int {
	if u.Variation != nil {
		return u.Variation.Stock
	}
	return u.Product.Stock
}

// Tiers returns the wholesale tiers applicable to the unit.
func (u SellableUnit) Tiers() []domain.WholesaleTier {
	if u.Variation != nil {
		return u.Variation.WholesalePrices
	}
	return u.Product.WholesalePrices
}

// Discount returns the discount applicable to the unit. Variations always
// use the parent product's discount.
func (u SellableUnit) Discount() *domain.Discount {
	return u.Product.EffectiveDiscount()
}

// Resolve computes the effective unit price for the given quantity. Tier
// eligibility depends on quantity, so callers must re-resolve whenever a
// line's quantity changes.
func Resolve(unit SellableUnit, quantity int) Info {
	base := unit.UnitPrice()
	wholesale := false

	if tier, ok := bestTier(unit.Tiers(), quantity); ok {
		base = tier.Price
		wholesale = true
	}

	return Info{
		BasePrice:      base,
		EffectivePrice: domain.ApplyDiscount(base, unit.Discount()),
		IsWholesale:    wholesale,
	}
}

// bestTier picks the tier with the largest min satisfying min ≤ quantity.
// Among tiers sharing a min the later declaration wins, matching the stored
// tier precedence. A selected tier with a max below the quantity disables
// wholesale pricing entirely rather than falling through to a lower tier.
func bestTier(tiers []domain.WholesaleTier, quantity int) (domain.WholesaleTier, bool) {
	var best *domain.WholesaleTier
	for i := range tiers {
		t := tiers[i]
		if quantity < t.Min {
			continue
		}
		if best == nil || t.Min >= best.Min {
			best = &t
		}
	}
	if best == nil {
		return domain.WholesaleTier{}, false
	}
	if best.Max != nil && quantity > *best.Max {
		return domain.WholesaleTier{}, false
	}
	return *best, true
}

// LineTotal rounds a line's effective amount to whole rupiah. Rounding is
// per line, not on the grand sum, so cent drift never accumulates across
// many small lines.
func LineTotal(effectivePrice float64, quantity int) domain.Money {
	return domain.Money(math.Round(effectivePrice * float64(quantity)))
}

// RoundAmount rounds a computed fee or adjustment amount to whole rupiah.
func RoundAmount(v float64) domain.Money {
	return domain.Money(math.Round(v))
}
