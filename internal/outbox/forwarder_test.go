package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/resilience"
)

func syncTask(t *testing.T, action string, payload any) *asynq.Task {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body, err := json.Marshal(outbox.Envelope{
		ID:       "env-1",
		Action:   action,
		Payload:  raw,
		QueuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return asynq.NewTask(outbox.TaskTypeSync, body)
}

func newForwarder(baseURL string) *outbox.Forwarder {
	return &outbox.Forwarder{
		Client: resilience.HTTPClient{
			Client:      &http.Client{Timeout: time.Second},
			MaxAttempts: 1,
			Timeout:     time.Second,
		},
		BaseURL: baseURL,
		APIKey:  "secret",
		Logger:  zerolog.Nop(),
	}
}

func TestHandleSyncDelivers(t *testing.T) {
	var gotPath, gotAuth string
	var gotEnv outbox.Envelope
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotEnv))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	f := newForwarder(srv.URL)
	err := f.HandleSync(context.Background(), syncTask(t, outbox.ActionCreateTransaction, map[string]any{"id": 1}))
	require.NoError(t, err)
	require.Equal(t, "/sync/CREATE_TRANSACTION", gotPath)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, outbox.ActionCreateTransaction, gotEnv.Action)
}

func TestHandleSyncConflictMeansApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	t.Cleanup(srv.Close)

	f := newForwarder(srv.URL)
	err := f.HandleSync(context.Background(), syncTask(t, outbox.ActionUpdateProduct, map[string]any{"id": 2}))
	require.NoError(t, err, "409 means the remote already applied the action")
}

func TestHandleSyncClientErrorSkipsRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(srv.Close)

	f := newForwarder(srv.URL)
	err := f.HandleSync(context.Background(), syncTask(t, outbox.ActionCreateLedger, map[string]any{"id": 3}))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry), "4xx must not be retried")
}

func TestHandleSyncServerErrorRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	f := newForwarder(srv.URL)
	err := f.HandleSync(context.Background(), syncTask(t, outbox.ActionCreateTransaction, map[string]any{"id": 4}))
	require.Error(t, err)
	require.False(t, errors.Is(err, asynq.SkipRetry), "5xx must stay retryable")
}

func TestHandleSyncMalformedEnvelope(t *testing.T) {
	f := newForwarder("http://localhost:0")
	err := f.HandleSync(context.Background(), asynq.NewTask(outbox.TaskTypeSync, []byte("not json")))
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestRecorderKeepsOrder(t *testing.T) {
	rec := &outbox.Recorder{}
	ctx := context.Background()
	require.NoError(t, rec.Queue(ctx, outbox.ActionCreateProduct, map[string]any{"id": 1}))
	require.NoError(t, rec.Queue(ctx, outbox.ActionUpdateProduct, map[string]any{"id": 1}))

	require.Equal(t, []string{outbox.ActionCreateProduct, outbox.ActionUpdateProduct}, rec.Actions())
	entries := rec.Entries()
	require.Len(t, entries, 2)
	require.NotEmpty(t, entries[0].ID)
	require.JSONEq(t, `{"id":1}`, string(entries[0].Payload))
}
