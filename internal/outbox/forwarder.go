package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/obs"
	"github.com/noah-isme/kasir-api/internal/resilience"
)

// Forwarder delivers queued sync envelopes to the remote backend over HTTP.
// Delivery failures return an error so asynq retries the task with backoff.
type Forwarder struct {
	Client  resilience.HTTPClient
	BaseURL string
	APIKey  string
	Logger  zerolog.Logger
}

// HandleSync processes one sync task. Non-2xx responses from the remote are
// treated as failures except 409, which means the action was already applied.
func (f *Forwarder) HandleSync(ctx context.Context, t *asynq.Task) error {
	var env Envelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		f.Logger.Error().Err(err).Msg("malformed sync envelope")
		return fmt.Errorf("decode envelope: %v: %w", err, asynq.SkipRetry)
	}
	url := strings.TrimRight(f.BaseURL, "/") + "/sync/" + env.Action
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(t.Payload()))
	if err != nil {
		return fmt.Errorf("build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.APIKey)
	}

	started := time.Now()
	resp, err := f.Client.Do(ctx, req)
	if err != nil {
		f.Logger.Warn().Err(err).Str("action", env.Action).Str("envelope_id", env.ID).Msg("sync delivery failed")
		countDelivery(env.Action, "error", started)
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		f.Logger.Info().
			Str("action", env.Action).
			Str("envelope_id", env.ID).
			Dur("took", time.Since(started)).
			Msg("sync delivered")
		countDelivery(env.Action, "delivered", started)
		return nil
	case resp.StatusCode == http.StatusConflict:
		f.Logger.Info().Str("action", env.Action).Str("envelope_id", env.ID).Msg("sync already applied")
		countDelivery(env.Action, "duplicate", started)
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		f.Logger.Error().Int("status", resp.StatusCode).Str("action", env.Action).Msg("sync rejected")
		countDelivery(env.Action, "rejected", started)
		return fmt.Errorf("remote rejected %s: %s: %w", env.Action, resp.Status, asynq.SkipRetry)
	default:
		countDelivery(env.Action, "error", started)
		return fmt.Errorf("remote sync %s: %s", env.Action, resp.Status)
	}
}

func countDelivery(action, result string, started time.Time) {
	if obs.SyncDeliveriesTotal != nil {
		obs.SyncDeliveriesTotal.WithLabelValues(action, result).Inc()
		obs.SyncDeliveryLatency.WithLabelValues(result).Observe(float64(time.Since(started).Milliseconds()))
	}
}
