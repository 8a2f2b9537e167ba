package effects_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/effects"
	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/stock"
	"github.com/noah-isme/kasir-api/internal/store/memory"
)

func intPtr(v int) *int     { return &v }
func i64Ptr(v int64) *int64 { return &v }

func newCoordinator(t *testing.T) (*effects.Coordinator, *memory.Store, *outbox.Recorder) {
	t.Helper()
	db := memory.New()
	sink := &outbox.Recorder{}
	stockSvc := &stock.Service{Store: db, Outbox: sink, Logger: zerolog.Nop()}
	return &effects.Coordinator{
		Store:  db,
		Stock:  stockSvc,
		Outbox: sink,
		Logger: zerolog.Nop(),
	}, db, sink
}

func TestRunCreditsPoints(t *testing.T) {
	coord, db, sink := newCoordinator(t)
	ctx := context.Background()
	customer, err := db.PutContact(ctx, &domain.Contact{Name: "Budi", Type: domain.ContactCustomer, Points: 5})
	require.NoError(t, err)

	tx := domain.Transaction{ID: 1, CustomerID: &customer, PointsEarned: 12, PaymentMethod: domain.PaymentCash}
	report := coord.Run(ctx, tx)
	require.False(t, report.Failed())

	got, err := db.GetContact(ctx, customer)
	require.NoError(t, err)
	require.Equal(t, 17, got.Points)
	require.Contains(t, sink.Actions(), outbox.ActionUpdateContact)
}

func TestRunSkipsPointsWithoutCustomer(t *testing.T) {
	coord, _, sink := newCoordinator(t)
	tx := domain.Transaction{ID: 1, PointsEarned: 12, PaymentMethod: domain.PaymentCash}
	report := coord.Run(context.Background(), tx)
	require.False(t, report.Failed())
	require.NotContains(t, sink.Actions(), outbox.ActionUpdateContact)
}

func TestRunOpensReceivableForDebt(t *testing.T) {
	coord, db, sink := newCoordinator(t)
	ctx := context.Background()
	customer, err := db.PutContact(ctx, &domain.Contact{Name: "Budi", Type: domain.ContactCustomer})
	require.NoError(t, err)

	tx := domain.Transaction{
		ID:            9,
		CustomerID:    &customer,
		PaymentMethod: domain.PaymentDebt,
		GrandTotal:    50000,
		CashPaid:      20000,
		Change:        -30000,
		UserID:        i64Ptr(3),
		Date:          time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	report := coord.Run(ctx, tx)
	require.False(t, report.Failed())

	entries, err := db.ListLedgersByContact(ctx, customer)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, domain.Money(30000), entries[0].Amount)
	require.Equal(t, domain.LedgerDebit, entries[0].Type)
	require.Contains(t, sink.Actions(), outbox.ActionCreateLedger)
}

func TestRunNoLedgerForFullyPaidSale(t *testing.T) {
	coord, db, _ := newCoordinator(t)
	ctx := context.Background()
	customer, err := db.PutContact(ctx, &domain.Contact{Name: "Budi", Type: domain.ContactCustomer})
	require.NoError(t, err)

	tx := domain.Transaction{ID: 2, CustomerID: &customer, PaymentMethod: domain.PaymentCash, Change: 5000}
	report := coord.Run(ctx, tx)
	require.False(t, report.Failed())

	entries, err := db.ListLedgersByContact(ctx, customer)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunDecrementsTrackedStock(t *testing.T) {
	coord, db, sink := newCoordinator(t)
	ctx := context.Background()
	pid, err := db.PutProduct(ctx, &domain.Product{Name: "Teh", Price: 1000, Stock: intPtr(10)})
	require.NoError(t, err)
	untracked, err := db.PutProduct(ctx, &domain.Product{Name: "Jasa", Price: 5000})
	require.NoError(t, err)

	tx := domain.Transaction{
		ID:            3,
		PaymentMethod: domain.PaymentCash,
		Items: []domain.CartLine{
			{ProductID: pid, Quantity: 4, Stock: intPtr(10)},
			{ProductID: untracked, Quantity: 2},
		},
	}
	report := coord.Run(ctx, tx)
	require.False(t, report.Failed())

	got, err := db.GetProduct(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, 6, *got.Stock)

	unchanged, err := db.GetProduct(ctx, untracked)
	require.NoError(t, err)
	require.Nil(t, unchanged.Stock, "untracked products must stay untracked")

	require.Contains(t, sink.Actions(), outbox.ActionCreateStockLog)
	require.Contains(t, sink.Actions(), outbox.ActionCreateTransaction)
}

func TestRunIdempotentAcrossRetries(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	coord, db, _ := newCoordinator(t)
	coord.Redis = client
	ctx := context.Background()
	customer, err := db.PutContact(ctx, &domain.Contact{Name: "Budi", Type: domain.ContactCustomer})
	require.NoError(t, err)

	tx := domain.Transaction{ID: 5, CustomerID: &customer, PointsEarned: 10, PaymentMethod: domain.PaymentCash}
	require.False(t, coord.Run(ctx, tx).Failed())
	second := coord.Run(ctx, tx)
	require.False(t, second.Failed())
	for _, step := range second.Steps {
		require.Equal(t, "already applied", step.Skipped, "retry must skip step %s", step.Step)
	}

	got, err := db.GetContact(ctx, customer)
	require.NoError(t, err)
	require.Equal(t, 10, got.Points, "points must not double-apply")
}

func TestRunReleasesGuardOnFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	coord, db, _ := newCoordinator(t)
	coord.Redis = client
	ctx := context.Background()

	// Customer 999 does not exist, so the points step fails.
	tx := domain.Transaction{ID: 6, CustomerID: i64Ptr(999), PointsEarned: 5, PaymentMethod: domain.PaymentCash}
	require.True(t, coord.Run(ctx, tx).Failed())

	// Creating the customer and retrying must re-run the failed step.
	contact := domain.Contact{ID: 999, Name: "Budi", Type: domain.ContactCustomer}
	_, err = db.PutContact(ctx, &contact)
	require.NoError(t, err)
	report := coord.Run(ctx, tx)
	require.False(t, report.Failed())
	require.True(t, report.Steps[0].Applied)
}

func TestStepOrder(t *testing.T) {
	coord, _, _ := newCoordinator(t)
	report := coord.Run(context.Background(), domain.Transaction{ID: 7, PaymentMethod: domain.PaymentCash})
	require.Len(t, report.Steps, 4)
	require.Equal(t, effects.StepPoints, report.Steps[0].Step)
	require.Equal(t, effects.StepLedger, report.Steps[1].Step)
	require.Equal(t, effects.StepStock, report.Steps[2].Step)
	require.Equal(t, effects.StepSync, report.Steps[3].Step)
}
