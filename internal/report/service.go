// Package report aggregates settled transactions into sales summaries.
package report

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/pricing"
	"github.com/noah-isme/kasir-api/internal/store"
)

// Summary is the sales rollup for a date range.
type Summary struct {
	From             time.Time              `json:"from"`
	To               time.Time              `json:"to"`
	TransactionCount int                    `json:"transactionCount"`
	ItemsSold        int                    `json:"itemsSold"`
	Subtotal         domain.Money           `json:"subtotal"`
	TotalDiscount    domain.Money           `json:"totalDiscount"`
	FeeTotal         domain.Money           `json:"feeTotal"`
	Revenue          domain.Money           `json:"revenue"`
	Donation         domain.Money           `json:"donation"`
	GrossCollected   domain.Money           `json:"grossCollected"`
	Outstanding      domain.Money           `json:"outstanding"`
	CostOfGoods      domain.Money           `json:"costOfGoods"`
	Profit           domain.Money           `json:"profit"`
	ByMethod         map[string]MethodStats `json:"byMethod"`
	TopProducts      []ProductSales         `json:"topProducts"`
}

// MethodStats breaks totals down per payment method.
type MethodStats struct {
	Count int          `json:"count"`
	Total domain.Money `json:"total"`
}

// ProductSales ranks units sold per product name.
type ProductSales struct {
	Name     string       `json:"name"`
	Quantity int          `json:"quantity"`
	Total    domain.Money `json:"total"`
}

// Service computes reports from the transaction log.
type Service struct {
	Store store.Store
}

// Transactions lists settled transactions in a date range, newest first.
func (s *Service) Transactions(ctx context.Context, from, to time.Time) ([]domain.Transaction, error) {
	if s.Store == nil {
		return nil, errors.New("report: service not configured")
	}
	txs, err := s.Store.ListTransactions(ctx, from, to)
	if err != nil {
		return nil, err
	}
	for i := range txs {
		domain.NormalizeTransaction(&txs[i])
	}
	return txs, nil
}

// Summarize folds a date range into one Summary. Outstanding counts the
// negative change of debt transactions still carried on the documents.
func (s *Service) Summarize(ctx context.Context, from, to time.Time) (Summary, error) {
	txs, err := s.Transactions(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		From:     from,
		To:       to,
		ByMethod: make(map[string]MethodStats),
	}
	perProduct := make(map[string]*ProductSales)
	costs := make(map[int64]domain.Money)
	for _, tx := range txs {
		sum.TransactionCount++
		sum.Subtotal += tx.Subtotal
		sum.TotalDiscount += tx.TotalDiscount
		sum.Revenue += tx.Total
		sum.Donation += tx.Donation
		for _, f := range tx.Fees {
			sum.FeeTotal += f.Amount
		}
		if tx.Change < 0 {
			sum.Outstanding += -tx.Change
			sum.GrossCollected += tx.CashPaid
		} else {
			sum.GrossCollected += tx.GrandTotal
		}
		stats := sum.ByMethod[string(tx.PaymentMethod)]
		stats.Count++
		stats.Total += tx.GrandTotal
		sum.ByMethod[string(tx.PaymentMethod)] = stats
		for _, line := range tx.Items {
			sum.ItemsSold += line.Quantity
			name := line.Name
			if line.VariationName != "" {
				name = name + " - " + line.VariationName
			}
			ps, ok := perProduct[name]
			if !ok {
				ps = &ProductSales{Name: name}
				perProduct[name] = ps
			}
			ps.Quantity += line.Quantity
			ps.Total += pricing.LineTotal(line.EffectivePrice, line.Quantity)
			sum.CostOfGoods += s.purchasePrice(ctx, costs, line.ProductID) * domain.Money(line.Quantity)
		}
	}
	sum.Profit = sum.Revenue - sum.CostOfGoods
	sum.TopProducts = rank(perProduct, 10)
	return sum, nil
}

// purchasePrice resolves a product's cost price, caching lookups across the
// fold. Products deleted since the sale cost zero.
func (s *Service) purchasePrice(ctx context.Context, cache map[int64]domain.Money, id int64) domain.Money {
	if cost, ok := cache[id]; ok {
		return cost
	}
	var cost domain.Money
	if p, err := s.Store.GetProduct(ctx, id); err == nil {
		cost = p.PurchasePrice
	}
	cache[id] = cost
	return cost
}

func rank(perProduct map[string]*ProductSales, limit int) []ProductSales {
	out := make([]ProductSales, 0, len(perProduct))
	for _, ps := range perProduct {
		out = append(out, *ps)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Quantity > out[j-1].Quantity; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
