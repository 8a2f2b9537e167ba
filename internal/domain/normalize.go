package domain

// NormalizeTransaction repairs legacy transaction documents at the
// persistence boundary so the core never sees missing pricing fields.
// Early records stored only the raw unit price plus an optional flat
// discount percentage; basePrice, effectivePrice and isWholesale were
// introduced later and decode as zero values when absent.
func NormalizeTransaction(t *Transaction) {
	if t == nil {
		return
	}
	for i := range t.Items {
		normalizeLine(&t.Items[i])
	}
}

func normalizeLine(l *CartLine) {
	if l.BasePrice == 0 && l.Price != 0 {
		l.BasePrice = l.Price
	}
	if l.EffectivePrice == 0 && l.BasePrice != 0 {
		l.EffectivePrice = ApplyDiscount(l.BasePrice, l.Discount)
	}
}

// ApplyDiscount computes the post-discount unit price. Fixed discounts
// never push the price below zero.
func ApplyDiscount(base Money, d *Discount) float64 {
	price := float64(base)
	if !d.Applies() {
		return price
	}
	switch d.Type {
	case DiscountFixed:
		price -= d.Value
		if price < 0 {
			price = 0
		}
	default:
		price *= 1 - d.Value/100
	}
	return price
}

// NormalizeProduct folds the legacy flat discountPercentage field into the
// structured Discount so callers only ever consult one of them.
func NormalizeProduct(p *Product) {
	if p == nil {
		return
	}
	if !p.Discount.Applies() && p.DiscountPercentage > 0 {
		p.Discount = &Discount{Type: DiscountPercentage, Value: p.DiscountPercentage}
		p.DiscountPercentage = 0
	}
}
