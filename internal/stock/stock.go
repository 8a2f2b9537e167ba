// Package stock applies tracked stock movements and keeps the append-only
// audit trail. Untracked units (nil stock) pass through without writes.
package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/store"
)

// ErrUnknownVariation is returned when a movement names a variation index the
// product does not have.
var ErrUnknownVariation = errors.New("stock: unknown variation")

// Movement describes one stock delta against a sellable unit. Delta is
// negative for sales and positive for returns and restocks.
type Movement struct {
	ProductID      int64
	VariationIndex *int
	Delta          int
	Type           domain.StockChangeType
	Reason         string
	User           domain.User
}

// Service performs stock mutations against the store and mirrors every
// applied movement to the sync outbox.
type Service struct {
	Store  store.Store
	Outbox outbox.Queuer
	Logger zerolog.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Apply performs the movement as a read-modify-write on the product document.
// Zero deltas and untracked units are silently skipped. Variation movements
// recompute the parent's aggregate stock.
func (s *Service) Apply(ctx context.Context, m Movement) error {
	if s.Store == nil {
		return errors.New("stock: service not configured")
	}
	if m.Delta == 0 {
		return nil
	}
	product, err := s.Store.GetProduct(ctx, m.ProductID)
	if err != nil {
		return fmt.Errorf("stock: load product %d: %w", m.ProductID, err)
	}

	var oldStock, newStock int
	var variationName string
	if m.VariationIndex != nil {
		idx := *m.VariationIndex
		if idx < 0 || idx >= len(product.Variations) {
			return fmt.Errorf("%w: product %d index %d", ErrUnknownVariation, m.ProductID, idx)
		}
		v := &product.Variations[idx]
		if v.Stock == nil {
			return nil
		}
		variationName = v.Name
		oldStock = *v.Stock
		newStock = oldStock + m.Delta
		*v.Stock = newStock
		agg := product.AggregateStock()
		product.Stock = &agg
	} else {
		if product.Stock == nil {
			return nil
		}
		oldStock = *product.Stock
		newStock = oldStock + m.Delta
		*product.Stock = newStock
	}
	product.UpdatedAt = s.now()

	if _, err := s.Store.PutProduct(ctx, &product); err != nil {
		return fmt.Errorf("stock: save product %d: %w", m.ProductID, err)
	}
	s.queue(ctx, outbox.ActionUpdateProduct, product)

	return s.Log(ctx, domain.StockHistory{
		ProductID:     product.ID,
		ProductName:   product.Name,
		VariationName: variationName,
		OldStock:      oldStock,
		NewStock:      newStock,
		ChangeAmount:  m.Delta,
		Type:          m.Type,
		Reason:        m.Reason,
		UserID:        m.User.ID,
		UserName:      m.User.Name,
	})
}

// Log appends one audit entry. Entries with a zero change amount are
// suppressed so the history only records real movements.
func (s *Service) Log(ctx context.Context, entry domain.StockHistory) error {
	if s.Store == nil {
		return errors.New("stock: service not configured")
	}
	if entry.ChangeAmount == 0 {
		return nil
	}
	if entry.Date.IsZero() {
		entry.Date = s.now()
	}
	if _, err := s.Store.AppendStockHistory(ctx, &entry); err != nil {
		return fmt.Errorf("stock: append history: %w", err)
	}
	s.queue(ctx, outbox.ActionCreateStockLog, entry)
	return nil
}

// History lists the audit trail for one product, newest first.
func (s *Service) History(ctx context.Context, productID int64) ([]domain.StockHistory, error) {
	if s.Store == nil {
		return nil, errors.New("stock: service not configured")
	}
	return s.Store.ListStockHistory(ctx, productID)
}

func (s *Service) queue(ctx context.Context, action string, payload any) {
	if s.Outbox == nil {
		return
	}
	if err := s.Outbox.Queue(ctx, action, payload); err != nil {
		s.Logger.Warn().Err(err).Str("action", action).Msg("queue sync action")
	}
}
