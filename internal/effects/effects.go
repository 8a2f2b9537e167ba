// Package effects applies the side effects of a settled transaction in a
// fixed order: loyalty points, the debt ledger, stock movements, then the
// sync queue. Every step is best effort; a failed step is reported and the
// pipeline moves on, because the sale itself is already recorded.
package effects

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/obs"
	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/stock"
	"github.com/noah-isme/kasir-api/internal/store"
)

// Step names the pipeline stages in execution order.
const (
	StepPoints = "points"
	StepLedger = "ledger"
	StepStock  = "stock"
	StepSync   = "sync"
)

// StepResult records one stage outcome.
type StepResult struct {
	Step    string `json:"step"`
	Applied bool   `json:"applied"`
	Skipped string `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Report is the full pipeline outcome for one transaction.
type Report struct {
	TransactionID int64        `json:"transactionId"`
	Steps         []StepResult `json:"steps"`
}

// Failed reports whether any step errored.
func (r Report) Failed() bool {
	for _, s := range r.Steps {
		if s.Error != "" {
			return true
		}
	}
	return false
}

// Coordinator runs the pipeline. Redis, when configured, guards each
// transaction+step pair with SETNX so retried settlements never double-apply
// an already completed step.
type Coordinator struct {
	Store  store.Store
	Stock  *stock.Service
	Outbox outbox.Queuer
	Redis  *redis.Client
	TTL    time.Duration
	Logger zerolog.Logger
}

// Apply runs every step for the transaction and returns an error when any
// step failed. The detailed report is logged per step.
func (c *Coordinator) Apply(ctx context.Context, tx domain.Transaction) error {
	report := c.Run(ctx, tx)
	if report.Failed() {
		return fmt.Errorf("effects: transaction %d settled with incomplete effects", tx.ID)
	}
	return nil
}

// Run executes the pipeline and returns the per-step report.
func (c *Coordinator) Run(ctx context.Context, tx domain.Transaction) Report {
	report := Report{TransactionID: tx.ID}
	steps := []struct {
		name string
		fn   func(context.Context, domain.Transaction) (bool, string, error)
	}{
		{StepPoints, c.applyPoints},
		{StepLedger, c.applyLedger},
		{StepStock, c.applyStock},
		{StepSync, c.applySync},
	}
	for _, step := range steps {
		res := StepResult{Step: step.name}
		ok, err := c.acquire(ctx, tx.ID, step.name)
		if err != nil {
			res.Error = err.Error()
			report.Steps = append(report.Steps, res)
			c.Logger.Error().Err(err).Str("step", step.name).Int64("transaction_id", tx.ID).Msg("effects guard failed")
			continue
		}
		if !ok {
			res.Skipped = "already applied"
			report.Steps = append(report.Steps, res)
			continue
		}
		applied, skipped, err := step.fn(ctx, tx)
		res.Applied = applied
		res.Skipped = skipped
		if err != nil {
			res.Error = err.Error()
			c.release(ctx, tx.ID, step.name)
			c.Logger.Error().Err(err).Str("step", step.name).Int64("transaction_id", tx.ID).Msg("effects step failed")
			countStep(step.name, "error")
		} else {
			countStep(step.name, outcomeLabel(applied))
		}
		report.Steps = append(report.Steps, res)
	}
	return report
}

// applyPoints credits loyalty points to the attached customer.
func (c *Coordinator) applyPoints(ctx context.Context, tx domain.Transaction) (bool, string, error) {
	if tx.CustomerID == nil || tx.PointsEarned <= 0 {
		return false, "no customer or no points", nil
	}
	contact, err := c.Store.GetContact(ctx, *tx.CustomerID)
	if err != nil {
		return false, "", fmt.Errorf("load contact %d: %w", *tx.CustomerID, err)
	}
	contact.Points += tx.PointsEarned
	contact.UpdatedAt = tx.Date
	if _, err := c.Store.PutContact(ctx, &contact); err != nil {
		return false, "", fmt.Errorf("save contact %d: %w", contact.ID, err)
	}
	c.queue(ctx, outbox.ActionUpdateContact, contact)
	return true, "", nil
}

// applyLedger opens a receivable for the unpaid part of a PIUTANG sale. The
// debit amount is the absolute value of the negative change.
func (c *Coordinator) applyLedger(ctx context.Context, tx domain.Transaction) (bool, string, error) {
	if tx.PaymentMethod != domain.PaymentDebt || tx.Change >= 0 {
		return false, "no receivable", nil
	}
	if tx.CustomerID == nil {
		return false, "", errors.New("debt transaction without customer")
	}
	entry := domain.LedgerEntry{
		ContactID:   *tx.CustomerID,
		Amount:      -tx.Change,
		Type:        domain.LedgerDebit,
		Description: fmt.Sprintf("transaction #%d", tx.ID),
		Date:        tx.Date,
		UserID:      tx.UserID,
		CreatedAt:   tx.Date,
		UpdatedAt:   tx.Date,
	}
	id, err := c.Store.PutLedgerEntry(ctx, &entry)
	if err != nil {
		return false, "", fmt.Errorf("save ledger entry: %w", err)
	}
	entry.ID = id
	c.queue(ctx, outbox.ActionCreateLedger, entry)
	return true, "", nil
}

// applyStock decrements tracked stock per line and writes the sale audit
// entries. Untracked lines pass through.
func (c *Coordinator) applyStock(ctx context.Context, tx domain.Transaction) (bool, string, error) {
	if c.Stock == nil {
		return false, "", errors.New("stock service not configured")
	}
	applied := false
	var firstErr error
	for _, line := range tx.Items {
		if !line.Tracked() {
			continue
		}
		err := c.Stock.Apply(ctx, stock.Movement{
			ProductID:      line.ProductID,
			VariationIndex: line.VariationIndex,
			Delta:          -line.Quantity,
			Type:           domain.StockSale,
			Reason:         fmt.Sprintf("transaction #%d", tx.ID),
			User:           domain.User{ID: tx.UserID, Name: tx.UserName},
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		applied = true
	}
	if firstErr != nil {
		return applied, "", firstErr
	}
	if !applied {
		return false, "no tracked lines", nil
	}
	return true, "", nil
}

// applySync queues the transaction document itself; the earlier steps queue
// their own mutations as they apply them.
func (c *Coordinator) applySync(ctx context.Context, tx domain.Transaction) (bool, string, error) {
	if c.Outbox == nil {
		return false, "outbox disabled", nil
	}
	if err := c.Outbox.Queue(ctx, outbox.ActionCreateTransaction, tx); err != nil {
		return false, "", fmt.Errorf("queue transaction: %w", err)
	}
	return true, "", nil
}

func (c *Coordinator) queue(ctx context.Context, action string, payload any) {
	if c.Outbox == nil {
		return
	}
	if err := c.Outbox.Queue(ctx, action, payload); err != nil {
		c.Logger.Warn().Err(err).Str("action", action).Msg("queue sync action")
	}
}

func (c *Coordinator) guardKey(txID int64, step string) string {
	return fmt.Sprintf("effects:%d:%s", txID, step)
}

func (c *Coordinator) ttl() time.Duration {
	if c.TTL <= 0 {
		return 24 * time.Hour
	}
	return c.TTL
}

// acquire claims the transaction+step pair. Without Redis every claim
// succeeds and retries rely on the steps being cheap to re-run.
func (c *Coordinator) acquire(ctx context.Context, txID int64, step string) (bool, error) {
	if c.Redis == nil {
		return true, nil
	}
	return c.Redis.SetNX(ctx, c.guardKey(txID, step), "applied", c.ttl()).Result()
}

// release frees the claim after a failed step so a retry can run it again.
func (c *Coordinator) release(ctx context.Context, txID int64, step string) {
	if c.Redis == nil {
		return
	}
	_ = c.Redis.Del(ctx, c.guardKey(txID, step)).Err()
}

func countStep(step, result string) {
	if obs.EffectsStepTotal == nil {
		return
	}
	obs.EffectsStepTotal.WithLabelValues(step, result).Inc()
}

func outcomeLabel(applied bool) string {
	if applied {
		return "applied"
	}
	return "skipped"
}
