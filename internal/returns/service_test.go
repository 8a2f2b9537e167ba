package returns_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/returns"
	"github.com/noah-isme/kasir-api/internal/stock"
	"github.com/noah-isme/kasir-api/internal/store"
	"github.com/noah-isme/kasir-api/internal/store/memory"
)

func intPtr(v int) *int { return &v }

func newService(t *testing.T) (*returns.Service, *memory.Store, *outbox.Recorder) {
	t.Helper()
	db := memory.New()
	sink := &outbox.Recorder{}
	return &returns.Service{
		Store:  db,
		Stock:  &stock.Service{Store: db, Outbox: sink, Logger: zerolog.Nop()},
		Outbox: sink,
		Logger: zerolog.Nop(),
	}, db, sink
}

func twoLineTransaction() domain.Transaction {
	return domain.Transaction{
		Items: []domain.CartLine{
			{ProductID: 1, Name: "Teh", Quantity: 5, Price: 10000, BasePrice: 10000, EffectivePrice: 9000},
			{ProductID: 2, Name: "Kopi", Quantity: 2, Price: 2500, BasePrice: 2500, EffectivePrice: 2500},
		},
		Subtotal:      55000,
		TotalDiscount: 5000,
		Fees:          []domain.Fee{{Name: "PPN", Type: domain.FeePercentage, Value: 10, Amount: 5000}},
		Total:         55000,
		Donation:      0,
		GrandTotal:    55000,
		CashPaid:      60000,
		Change:        5000,
		PaymentMethod: domain.PaymentCash,
		Date:          time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestReturnLineRecomputesTotals(t *testing.T) {
	svc, db, sink := newService(t)
	ctx := context.Background()
	tx := twoLineTransaction()
	id, err := db.PutTransaction(ctx, &tx)
	require.NoError(t, err)

	res, err := svc.ReturnLine(ctx, id, 1, domain.User{Name: "Kasir"})
	require.NoError(t, err)
	require.False(t, res.Deleted)
	require.Equal(t, "Kopi", res.ReturnedLine.Name)

	got := res.Transaction
	require.Equal(t, domain.Money(50000), got.Subtotal)
	require.Equal(t, domain.Money(5000), got.TotalDiscount)
	require.Equal(t, domain.Money(4500), got.Fees[0].Amount, "percentage fee re-applies on the remaining goods")
	require.Equal(t, domain.Money(49500), got.Total)
	require.Equal(t, domain.Money(49500), got.GrandTotal)
	require.Equal(t, domain.Money(10500), got.Change)

	require.Contains(t, sink.Actions(), outbox.ActionUpdateTransaction)
}

func TestReturnLastLineDeletesTransaction(t *testing.T) {
	svc, db, sink := newService(t)
	ctx := context.Background()
	tx := domain.Transaction{
		Items:         []domain.CartLine{{ProductID: 1, Name: "Teh", Quantity: 1, BasePrice: 1000, EffectivePrice: 1000}},
		PaymentMethod: domain.PaymentCash,
	}
	id, err := db.PutTransaction(ctx, &tx)
	require.NoError(t, err)

	res, err := svc.ReturnLine(ctx, id, 0, domain.User{Name: "Kasir"})
	require.NoError(t, err)
	require.True(t, res.Deleted)
	require.Nil(t, res.Transaction)

	_, err = db.GetTransaction(ctx, id)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Contains(t, sink.Actions(), outbox.ActionDeleteTransaction)
}

func TestReturnRestoresTrackedStock(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	pid, err := db.PutProduct(ctx, &domain.Product{Name: "Teh", Price: 1000, Stock: intPtr(6)})
	require.NoError(t, err)
	tx := domain.Transaction{
		Items: []domain.CartLine{
			{ProductID: pid, Name: "Teh", Quantity: 4, BasePrice: 1000, EffectivePrice: 1000, Stock: intPtr(10)},
			{ProductID: pid + 100, Name: "Jasa", Quantity: 1, BasePrice: 500, EffectivePrice: 500},
		},
		PaymentMethod: domain.PaymentCash,
	}
	id, err := db.PutTransaction(ctx, &tx)
	require.NoError(t, err)

	_, err = svc.ReturnLine(ctx, id, 0, domain.User{Name: "Kasir"})
	require.NoError(t, err)

	got, err := db.GetProduct(ctx, pid)
	require.NoError(t, err)
	require.Equal(t, 10, *got.Stock)

	history, err := db.ListStockHistory(ctx, pid)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, domain.StockReturn, history[0].Type)
	require.Equal(t, 4, history[0].ChangeAmount)
}

func TestReturnDoesNotReverseLedgerOrPoints(t *testing.T) {
	svc, db, sink := newService(t)
	ctx := context.Background()
	customer, err := db.PutContact(ctx, &domain.Contact{Name: "Budi", Type: domain.ContactCustomer, Points: 20})
	require.NoError(t, err)
	entry := domain.LedgerEntry{ContactID: customer, Amount: 30000, Type: domain.LedgerDebit}
	_, err = db.PutLedgerEntry(ctx, &entry)
	require.NoError(t, err)

	tx := domain.Transaction{
		Items: []domain.CartLine{
			{ProductID: 1, Name: "Teh", Quantity: 1, BasePrice: 1000, EffectivePrice: 1000},
			{ProductID: 2, Name: "Kopi", Quantity: 1, BasePrice: 2000, EffectivePrice: 2000},
		},
		CustomerID:    &customer,
		PaymentMethod: domain.PaymentDebt,
		PointsEarned:  20,
	}
	id, err := db.PutTransaction(ctx, &tx)
	require.NoError(t, err)

	_, err = svc.ReturnLine(ctx, id, 0, domain.User{Name: "Kasir"})
	require.NoError(t, err)

	got, err := db.GetContact(ctx, customer)
	require.NoError(t, err)
	require.Equal(t, 20, got.Points, "points are never clawed back on return")

	entries, err := db.ListLedgersByContact(ctx, customer)
	require.NoError(t, err)
	require.Len(t, entries, 1, "the receivable stays as settled")
	require.NotContains(t, sink.Actions(), outbox.ActionUpdateContact)
}

func TestReturnNormalizesLegacyLines(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	// Legacy record: only the raw unit price was stored.
	tx := domain.Transaction{
		Items: []domain.CartLine{
			{ProductID: 1, Name: "Teh", Quantity: 2, Price: 1500},
			{ProductID: 2, Name: "Kopi", Quantity: 1, Price: 4000},
		},
		CashPaid:      7000,
		PaymentMethod: domain.PaymentCash,
	}
	id, err := db.PutTransaction(ctx, &tx)
	require.NoError(t, err)

	res, err := svc.ReturnLine(ctx, id, 1, domain.User{Name: "Kasir"})
	require.NoError(t, err)
	got := res.Transaction
	require.Equal(t, domain.Money(3000), got.Subtotal)
	require.Equal(t, domain.Money(3000), got.Total)
	require.Equal(t, domain.Money(4000), got.Change)
	require.Equal(t, domain.Money(1500), got.Items[0].BasePrice, "normalization backfills basePrice from price")
}

func TestReturnIndexOutOfRange(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	tx := twoLineTransaction()
	id, err := db.PutTransaction(ctx, &tx)
	require.NoError(t, err)

	_, err = svc.ReturnLine(ctx, id, 5, domain.User{Name: "Kasir"})
	require.ErrorIs(t, err, returns.ErrLineNotFound)
	_, err = svc.ReturnLine(ctx, id, -1, domain.User{Name: "Kasir"})
	require.ErrorIs(t, err, returns.ErrLineNotFound)
}
