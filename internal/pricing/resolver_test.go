package pricing

import (
	"testing"

	"github.com/noah-isme/kasir-api/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestResolveRegularPrice(t *testing.T) {
	p := &domain.Product{Name: "Kopi Sachet", Price: 1500}
	info := Resolve(ForProduct(p), 3)
	if info.BasePrice != 1500 || info.IsWholesale {
		t.Fatalf("expected regular price 1500, got %+v", info)
	}
}

func TestResolvePicksLargestSatisfiedTier(t *testing.T) {
	p := &domain.Product{
		Price: 1000,
		WholesalePrices: []domain.WholesaleTier{
			{Min: 10, Price: 900},
			{Min: 50, Price: 800},
		},
	}
	info := Resolve(ForProduct(p), 60)
	if info.BasePrice != 800 || !info.IsWholesale {
		t.Fatalf("expected 50-unit tier at 800, got %+v", info)
	}
	info = Resolve(ForProduct(p), 10)
	if info.BasePrice != 900 || !info.IsWholesale {
		t.Fatalf("expected 10-unit tier at 900, got %+v", info)
	}
	info = Resolve(ForProduct(p), 9)
	if info.BasePrice != 1000 || info.IsWholesale {
		t.Fatalf("expected regular price below lowest tier, got %+v", info)
	}
}

func TestResolveEqualMinLaterDeclarationWins(t *testing.T) {
	p := &domain.Product{
		Price: 1000,
		WholesalePrices: []domain.WholesaleTier{
			{Min: 10, Price: 900},
			{Min: 10, Price: 850},
		},
	}
	info := Resolve(ForProduct(p), 12)
	if info.BasePrice != 850 {
		t.Fatalf("expected the later declared tier to win, got %d", info.BasePrice)
	}
}

func TestResolveBoundedTierDisablesWholesaleAboveMax(t *testing.T) {
	p := &domain.Product{
		Price: 1000,
		WholesalePrices: []domain.WholesaleTier{
			{Min: 10, Max: intPtr(20), Price: 900},
		},
	}
	info := Resolve(ForProduct(p), 25)
	if info.BasePrice != 1000 || info.IsWholesale {
		t.Fatalf("quantity above the selected tier's max must fall back to regular price, got %+v", info)
	}
	info = Resolve(ForProduct(p), 20)
	if info.BasePrice != 900 || !info.IsWholesale {
		t.Fatalf("quantity at max should keep the tier, got %+v", info)
	}
}

func TestResolveDiscountAppliesAfterTier(t *testing.T) {
	p := &domain.Product{
		Price:    1000,
		Discount: &domain.Discount{Type: domain.DiscountPercentage, Value: 10},
		WholesalePrices: []domain.WholesaleTier{
			{Min: 10, Price: 900},
		},
	}
	info := Resolve(ForProduct(p), 10)
	if info.BasePrice != 900 {
		t.Fatalf("expected tier base 900, got %d", info.BasePrice)
	}
	if info.EffectivePrice != 810 {
		t.Fatalf("expected 10%% off the tier price, got %v", info.EffectivePrice)
	}
}

func TestResolveFixedDiscountClampsAtZero(t *testing.T) {
	p := &domain.Product{
		Price:    500,
		Discount: &domain.Discount{Type: domain.DiscountFixed, Value: 700},
	}
	info := Resolve(ForProduct(p), 1)
	if info.EffectivePrice != 0 {
		t.Fatalf("fixed discount larger than price must clamp at zero, got %v", info.EffectivePrice)
	}
}

func TestResolveVariationInheritsParentDiscount(t *testing.T) {
	p := &domain.Product{
		Price:    0,
		Discount: &domain.Discount{Type: domain.DiscountPercentage, Value: 50},
		Variations: []domain.Variation{
			{Name: "Besar", Price: 2000},
		},
	}
	info := Resolve(ForVariation(p, &p.Variations[0]), 1)
	if info.BasePrice != 2000 || info.EffectivePrice != 1000 {
		t.Fatalf("variation must inherit the parent discount, got %+v", info)
	}
}

func TestLineTotalRoundsPerLine(t *testing.T) {
	// 333.4 * 3 = 1000.2 rounds to 1000; rounding happens per line, not on
	// the summed float.
	if got := LineTotal(333.4, 3); got != 1000 {
		t.Fatalf("expected 1000, got %d", got)
	}
	if got := LineTotal(333.5, 3); got != 1001 {
		t.Fatalf("expected 1001, got %d", got)
	}
}
