// Package returns reverses single lines of settled transactions. A return
// restores stock and recomputes the transaction's derived money fields;
// loyalty points and ledger postings already made are never reversed.
package returns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/obs"
	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/pricing"
	"github.com/noah-isme/kasir-api/internal/stock"
	"github.com/noah-isme/kasir-api/internal/store"
)

// ErrLineNotFound is returned when the line index is out of range.
var ErrLineNotFound = errors.New("returns: line not found in transaction")

// Result describes what a return did. Deleted is set when the last line was
// returned and the transaction was removed entirely.
type Result struct {
	Deleted      bool                `json:"deleted"`
	Transaction  *domain.Transaction `json:"transaction,omitempty"`
	ReturnedLine domain.CartLine     `json:"returnedLine"`
}

// Service executes line returns.
type Service struct {
	Store  store.Store
	Stock  *stock.Service
	Outbox outbox.Queuer
	Logger zerolog.Logger
	Now    func() time.Time
}

// ReturnLine removes the line at index from a settled transaction. Legacy
// records are normalized before mutation so pre-discount price fields are
// always present. When the last line goes, the whole transaction is deleted.
func (s *Service) ReturnLine(ctx context.Context, transactionID int64, lineIndex int, user domain.User) (Result, error) {
	if s.Store == nil {
		return Result{}, errors.New("returns: service not configured")
	}
	tx, err := s.Store.GetTransaction(ctx, transactionID)
	if err != nil {
		return Result{}, fmt.Errorf("returns: load transaction %d: %w", transactionID, err)
	}
	domain.NormalizeTransaction(&tx)
	if lineIndex < 0 || lineIndex >= len(tx.Items) {
		return Result{}, fmt.Errorf("%w: index %d", ErrLineNotFound, lineIndex)
	}
	returned := tx.Items[lineIndex]
	tx.Items = append(tx.Items[:lineIndex], tx.Items[lineIndex+1:]...)

	result := Result{ReturnedLine: returned}
	if len(tx.Items) == 0 {
		if err := s.Store.DeleteTransaction(ctx, transactionID); err != nil {
			return Result{}, fmt.Errorf("returns: delete transaction %d: %w", transactionID, err)
		}
		s.queue(ctx, outbox.ActionDeleteTransaction, tx)
		result.Deleted = true
	} else {
		recompute(&tx)
		if _, err := s.Store.PutTransaction(ctx, &tx); err != nil {
			return Result{}, fmt.Errorf("returns: save transaction %d: %w", transactionID, err)
		}
		s.queue(ctx, outbox.ActionUpdateTransaction, tx)
		result.Transaction = &tx
	}

	if returned.Tracked() {
		err := s.Stock.Apply(ctx, stock.Movement{
			ProductID:      returned.ProductID,
			VariationIndex: returned.VariationIndex,
			Delta:          returned.Quantity,
			Type:           domain.StockReturn,
			Reason:         fmt.Sprintf("return transaction #%d", transactionID),
			User:           user,
		})
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			// The transaction mutation already happened; report but keep it.
			s.Logger.Error().Err(err).Int64("transaction_id", transactionID).Msg("restore stock after return")
		}
	}

	s.Logger.Info().
		Int64("transaction_id", transactionID).
		Str("product", returned.Name).
		Int("quantity", returned.Quantity).
		Bool("deleted", result.Deleted).
		Msg("line returned")
	if obs.ReturnsTotal != nil {
		if result.Deleted {
			obs.ReturnsTotal.WithLabelValues("deleted").Inc()
		} else {
			obs.ReturnsTotal.WithLabelValues("updated").Inc()
		}
	}
	return result, nil
}

// recompute rebuilds every derived money field from the remaining lines.
// Percentage fees re-apply against the new post-discount goods total; fixed
// fee amounts stay as settled. The donation is kept, so the grand total and
// change shift by exactly the removed goods value.
func recompute(tx *domain.Transaction) {
	var subtotal, itemsTotal domain.Money
	for _, l := range tx.Items {
		subtotal += l.BasePrice * domain.Money(l.Quantity)
		itemsTotal += pricing.LineTotal(l.EffectivePrice, l.Quantity)
	}
	tx.Subtotal = subtotal
	tx.TotalDiscount = subtotal - itemsTotal

	var feeTotal domain.Money
	for i := range tx.Fees {
		if tx.Fees[i].Type == domain.FeePercentage {
			tx.Fees[i].Amount = pricing.RoundAmount(float64(itemsTotal) * tx.Fees[i].Value / 100)
		}
		feeTotal += tx.Fees[i].Amount
	}
	tx.Total = itemsTotal + feeTotal
	tx.GrandTotal = tx.Total + tx.Donation
	tx.Change = tx.CashPaid - tx.GrandTotal
}

func (s *Service) queue(ctx context.Context, action string, payload any) {
	if s.Outbox == nil {
		return
	}
	if err := s.Outbox.Queue(ctx, action, payload); err != nil {
		s.Logger.Warn().Err(err).Str("action", action).Msg("queue sync action")
	}
}
