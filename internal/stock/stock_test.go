package stock_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/stock"
	"github.com/noah-isme/kasir-api/internal/store/memory"
)

func intPtr(v int) *int { return &v }

func newService(t *testing.T) (*stock.Service, *memory.Store, *outbox.Recorder) {
	t.Helper()
	db := memory.New()
	sink := &outbox.Recorder{}
	return &stock.Service{Store: db, Outbox: sink, Logger: zerolog.Nop()}, db, sink
}

func TestApplyAdjustsProductStock(t *testing.T) {
	svc, db, sink := newService(t)
	ctx := context.Background()
	pid, err := db.PutProduct(ctx, &domain.Product{Name: "Teh", Price: 1000, Stock: intPtr(10)})
	require.NoError(t, err)

	err = svc.Apply(ctx, stock.Movement{ProductID: pid, Delta: -3, Type: domain.StockSale, Reason: "transaction #1"})
	require.NoError(t, err)

	got, err := db.GetProduct(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, 7, *got.Stock)

	history, err := db.ListStockHistory(ctx, pid)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, 10, history[0].OldStock)
	require.Equal(t, 7, history[0].NewStock)
	require.Equal(t, -3, history[0].ChangeAmount)
	require.Equal(t, domain.StockSale, history[0].Type)

	require.Contains(t, sink.Actions(), outbox.ActionUpdateProduct)
	require.Contains(t, sink.Actions(), outbox.ActionCreateStockLog)
}

func TestApplyUntrackedProductIsNoop(t *testing.T) {
	svc, db, sink := newService(t)
	ctx := context.Background()
	pid, err := db.PutProduct(ctx, &domain.Product{Name: "Jasa", Price: 5000})
	require.NoError(t, err)

	err = svc.Apply(ctx, stock.Movement{ProductID: pid, Delta: -2, Type: domain.StockSale})
	require.NoError(t, err)

	got, err := db.GetProduct(ctx, pid)
	require.NoError(t, err)
	require.Nil(t, got.Stock)
	require.Empty(t, sink.Actions())
}

func TestApplyZeroDeltaIsNoop(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	pid, err := db.PutProduct(ctx, &domain.Product{Name: "Teh", Price: 1000, Stock: intPtr(5)})
	require.NoError(t, err)

	require.NoError(t, svc.Apply(ctx, stock.Movement{ProductID: pid, Delta: 0, Type: domain.StockAdjustment}))
	history, err := db.ListStockHistory(ctx, pid)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestApplyVariationRecomputesAggregate(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	pid, err := db.PutProduct(ctx, &domain.Product{
		Name: "Es Teh",
		Variations: []domain.Variation{
			{Name: "Kecil", Price: 3000, Stock: intPtr(10)},
			{Name: "Besar", Price: 5000, Stock: intPtr(4)},
		},
	})
	require.NoError(t, err)

	err = svc.Apply(ctx, stock.Movement{ProductID: pid, VariationIndex: intPtr(1), Delta: -2, Type: domain.StockSale})
	require.NoError(t, err)

	got, err := db.GetProduct(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, 2, *got.Variations[1].Stock)
	require.Equal(t, 10, *got.Variations[0].Stock)
	require.NotNil(t, got.Stock)
	require.Equal(t, 12, *got.Stock, "parent stock mirrors the variation aggregate")

	history, err := db.ListStockHistory(ctx, pid)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "Besar", history[0].VariationName)
}

func TestApplyUnknownVariation(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	pid, err := db.PutProduct(ctx, &domain.Product{Name: "Es Teh", Variations: []domain.Variation{{Name: "Kecil", Price: 3000}}})
	require.NoError(t, err)

	err = svc.Apply(ctx, stock.Movement{ProductID: pid, VariationIndex: intPtr(3), Delta: -1, Type: domain.StockSale})
	require.ErrorIs(t, err, stock.ErrUnknownVariation)
}

func TestLogSuppressesZeroChange(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Log(ctx, domain.StockHistory{ProductID: 1, ChangeAmount: 0, Type: domain.StockAdjustment}))
	history, err := db.ListStockHistory(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, history)
}
