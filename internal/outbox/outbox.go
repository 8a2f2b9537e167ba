// Package outbox queues local mutations for synchronization with the remote
// backend. Queueing is fire-and-forget: a sync failure never blocks or rolls
// back the local flow, it only delays convergence.
package outbox

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/obs"
)

// Action names understood by the remote backend.
const (
	ActionCreateTransaction = "CREATE_TRANSACTION"
	ActionUpdateTransaction = "UPDATE_TRANSACTION"
	ActionDeleteTransaction = "DELETE_TRANSACTION"
	ActionUpdateProduct     = "UPDATE_PRODUCT"
	ActionCreateLedger      = "CREATE_LEDGER"
	ActionUpdateLedger      = "UPDATE_LEDGER"
	ActionUpdateContact     = "UPDATE_CONTACT"
	ActionCreateStockLog    = "CREATE_STOCK_LOG"

	ActionCreateProduct = "CREATE_PRODUCT"
	ActionDeleteProduct = "DELETE_PRODUCT"
	ActionCreateContact = "CREATE_CONTACT"
	ActionDeleteContact = "DELETE_CONTACT"
	ActionDeleteLedger  = "DELETE_LEDGER"
	ActionCreateFee     = "CREATE_FEE"
	ActionUpdateFee     = "UPDATE_FEE"
	ActionDeleteFee     = "DELETE_FEE"
)

// TaskTypeSync is the asynq task type carrying sync envelopes.
const TaskTypeSync = "sync:action"

// QueueName is the asynq queue sync tasks are published on.
const QueueName = "sync"

// Envelope wraps one queued mutation.
type Envelope struct {
	ID       string          `json:"id"`
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload"`
	QueuedAt time.Time       `json:"queuedAt"`
}

// Queuer publishes mutations for eventual delivery.
type Queuer interface {
	Queue(ctx context.Context, action string, payload any) error
}

// Asynq implements Queuer on top of a Redis-backed asynq client.
type Asynq struct {
	Client *asynq.Client
	Logger zerolog.Logger
}

// Queue publishes one mutation. Errors are returned for logging but callers
// must treat them as non-fatal.
func (a *Asynq) Queue(ctx context.Context, action string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env := Envelope{
		ID:       uuid.NewString(),
		Action:   action,
		Payload:  raw,
		QueuedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeSync, body)
	_, err = a.Client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.TaskID(env.ID),
		asynq.MaxRetry(10),
	)
	if err != nil {
		a.Logger.Error().Err(err).Str("action", action).Msg("enqueue sync action")
		countQueued(action, "error")
		return err
	}
	a.Logger.Debug().Str("action", action).Str("task_id", env.ID).Msg("queued sync action")
	countQueued(action, "queued")
	return nil
}

func countQueued(action, result string) {
	if obs.SyncQueuedTotal != nil {
		obs.SyncQueuedTotal.WithLabelValues(action, result).Inc()
	}
}

// Recorder is an in-memory Queuer used by tests and by deployments running
// without Redis; queued envelopes are retained for inspection.
type Recorder struct {
	mu      sync.Mutex
	entries []Envelope
}

func (r *Recorder) Queue(_ context.Context, action string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Envelope{
		ID:       uuid.NewString(),
		Action:   action,
		Payload:  raw,
		QueuedAt: time.Now().UTC(),
	})
	return nil
}

// Entries returns a snapshot of everything queued so far.
func (r *Recorder) Entries() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Envelope, len(r.entries))
	copy(out, r.entries)
	return out
}

// Actions returns the queued action names in order.
func (r *Recorder) Actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}
