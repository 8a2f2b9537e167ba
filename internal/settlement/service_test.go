package settlement_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-api/internal/cart"
	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/settings"
	"github.com/noah-isme/kasir-api/internal/settlement"
	"github.com/noah-isme/kasir-api/internal/store/memory"
)

type fixture struct {
	svc   *settlement.Service
	carts *cart.Service
	db    *memory.Store
}

type recordingEffects struct {
	applied []domain.Transaction
}

func (r *recordingEffects) Apply(_ context.Context, tx domain.Transaction) error {
	r.applied = append(r.applied, tx)
	return nil
}

func newFixture(t *testing.T) (*fixture, *recordingEffects) {
	t.Helper()
	db := memory.New()
	carts := &cart.Service{Store: db, Logger: zerolog.Nop()}
	eff := &recordingEffects{}
	svc := &settlement.Service{
		Store:    db,
		Carts:    carts,
		Settings: &settings.Service{Store: db},
		Effects:  eff,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) },
	}
	return &fixture{svc: svc, carts: carts, db: db}, eff
}

func (f *fixture) seedCart(t *testing.T, price domain.Money, qty int) {
	t.Helper()
	ctx := context.Background()
	id, err := f.db.PutProduct(ctx, &domain.Product{Name: "Barang", Price: price})
	require.NoError(t, err)
	_, err = f.carts.AddLine(ctx, "t1", id, nil, qty)
	require.NoError(t, err)
}

func (f *fixture) enableDonation(t *testing.T) {
	t.Helper()
	require.NoError(t, f.svc.Settings.Set(context.Background(), settings.KeyDonationRounding, true))
}

func TestBeginRequiresItems(t *testing.T) {
	f, _ := newFixture(t)
	_, err := f.svc.Begin(context.Background(), "t1")
	require.ErrorIs(t, err, cart.ErrEmptyCart)
}

func TestDonationRoundsUpToThousand(t *testing.T) {
	f, _ := newFixture(t)
	f.enableDonation(t)
	ctx := context.Background()

	// 97500 goods + 10% fee = 107250; donation lifts it to 108000.
	feeID, err := f.db.PutFee(ctx, &domain.Fee{Name: "PPN", Type: domain.FeePercentage, Value: 10})
	require.NoError(t, err)
	f.seedCart(t, 32500, 3)
	_, err = f.carts.AddFee(ctx, "t1", feeID)
	require.NoError(t, err)

	sess, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, domain.Money(107250), sess.Totals.Total)
	require.Equal(t, domain.Money(750), sess.Donation)
	require.Equal(t, domain.Money(108000), sess.GrandTotal)
}

func TestDonationZeroOnExactThousand(t *testing.T) {
	f, _ := newFixture(t)
	f.enableDonation(t)
	ctx := context.Background()
	f.seedCart(t, 5000, 2)

	sess, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, domain.Money(0), sess.Donation)
	require.Equal(t, domain.Money(10000), sess.GrandTotal)
}

func TestCashRequiresFullPayment(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	f.seedCart(t, 10000, 1)

	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.SelectMethod(ctx, "t1", domain.PaymentCash)
	require.NoError(t, err)

	_, err = f.svc.EnterAmount(ctx, "t1", 9000)
	require.ErrorIs(t, err, settlement.ErrInsufficientCash)

	sess, err := f.svc.EnterAmount(ctx, "t1", 15000)
	require.NoError(t, err)
	require.Equal(t, settlement.StateReady, sess.State)
	require.Equal(t, domain.Money(5000), sess.Change)
}

func TestQRISAutoFillsExactAmount(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	f.seedCart(t, 10000, 1)

	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	sess, err := f.svc.SelectMethod(ctx, "t1", domain.PaymentQRIS)
	require.NoError(t, err)
	require.Equal(t, settlement.StateReady, sess.State)
	require.Equal(t, sess.GrandTotal, sess.CashPaid)
	require.Equal(t, domain.Money(0), sess.Change)
}

func TestDebtNeedsCustomer(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	f.seedCart(t, 10000, 1)

	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.SelectMethod(ctx, "t1", domain.PaymentDebt)
	require.ErrorIs(t, err, settlement.ErrDebtNeedsCustomer)
}

func TestDebtDownPaymentYieldsNegativeChange(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	customer, err := f.db.PutContact(ctx, &domain.Contact{Name: "Budi", Type: domain.ContactCustomer})
	require.NoError(t, err)
	f.seedCart(t, 50000, 1)
	_, err = f.carts.SetCustomer(ctx, "t1", customer)
	require.NoError(t, err)

	_, err = f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.SelectMethod(ctx, "t1", domain.PaymentDebt)
	require.NoError(t, err)

	_, err = f.svc.EnterAmount(ctx, "t1", 60000)
	require.ErrorIs(t, err, settlement.ErrDebtOverpaid)

	sess, err := f.svc.EnterAmount(ctx, "t1", 20000)
	require.NoError(t, err)
	require.Equal(t, domain.Money(-30000), sess.Change)
}

func TestConfirmPersistsAndClears(t *testing.T) {
	f, eff := newFixture(t)
	ctx := context.Background()
	f.seedCart(t, 10000, 2)

	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.SelectMethod(ctx, "t1", domain.PaymentQRIS)
	require.NoError(t, err)

	userID := int64(7)
	tx, err := f.svc.Confirm(ctx, "t1", domain.User{ID: &userID, Name: "Kasir"})
	require.NoError(t, err)
	require.NotZero(t, tx.ID)
	require.Equal(t, domain.PaymentQRIS, tx.PaymentMethod)
	require.Equal(t, "Kasir", tx.UserName)

	stored, err := f.db.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, tx.GrandTotal, stored.GrandTotal)

	c, _ := f.carts.Get(ctx, "t1")
	require.Empty(t, c.Items, "confirm must clear the cart")

	_, err = f.svc.Preview(ctx, "t1")
	require.ErrorIs(t, err, settlement.ErrNoSession)

	require.Len(t, eff.applied, 1)
	require.Equal(t, tx.ID, eff.applied[0].ID)
}

func TestConfirmRequiresReadyState(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	f.seedCart(t, 10000, 1)

	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.Confirm(ctx, "t1", domain.User{Name: "Kasir"})
	require.ErrorIs(t, err, settlement.ErrWrongState)
}

func TestConfirmAwardsPoints(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Settings.Set(ctx, settings.KeyPointSystem, true))
	require.NoError(t, f.svc.Settings.Set(ctx, settings.KeyPointMinPurchase, 10000))
	require.NoError(t, f.svc.Settings.Set(ctx, settings.KeyPointValuePerUnit, 1000))

	customer, err := f.db.PutContact(ctx, &domain.Contact{Name: "Budi", Type: domain.ContactCustomer})
	require.NoError(t, err)
	f.seedCart(t, 10500, 1)
	_, err = f.carts.SetCustomer(ctx, "t1", customer)
	require.NoError(t, err)

	_, err = f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.SelectMethod(ctx, "t1", domain.PaymentQRIS)
	require.NoError(t, err)

	tx, err := f.svc.Confirm(ctx, "t1", domain.User{Name: "Kasir"})
	require.NoError(t, err)
	require.Equal(t, 10, tx.PointsEarned, "points floor at total/valuePerPoint")
}

func TestConfirmWithoutCustomerEarnsNoPoints(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Settings.Set(ctx, settings.KeyPointSystem, true))
	require.NoError(t, f.svc.Settings.Set(ctx, settings.KeyPointMinPurchase, 10000))
	require.NoError(t, f.svc.Settings.Set(ctx, settings.KeyPointValuePerUnit, 1000))

	f.seedCart(t, 10500, 1)
	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.SelectMethod(ctx, "t1", domain.PaymentQRIS)
	require.NoError(t, err)

	tx, err := f.svc.Confirm(ctx, "t1", domain.User{Name: "Kasir"})
	require.NoError(t, err)
	require.Equal(t, 0, tx.PointsEarned, "anonymous sales must not earn points")

	stored, err := f.db.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, 0, stored.PointsEarned)
}

func TestCancelDropsSessionOnly(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	f.seedCart(t, 10000, 1)

	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	f.svc.Cancel(ctx, "t1")

	_, err = f.svc.Preview(ctx, "t1")
	require.ErrorIs(t, err, settlement.ErrNoSession)

	c, _ := f.carts.Get(ctx, "t1")
	require.Len(t, c.Items, 1, "cancel must leave the cart intact")
}

func TestSessionFrozenAtBegin(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	id, err := f.db.PutProduct(ctx, &domain.Product{Name: "Barang", Price: 10000})
	require.NoError(t, err)
	_, err = f.carts.AddLine(ctx, "t1", id, nil, 1)
	require.NoError(t, err)

	sess, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)

	_, err = f.carts.AddLine(ctx, "t1", id, nil, 5)
	require.NoError(t, err)

	got, err := f.svc.Preview(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, sess.GrandTotal, got.GrandTotal, "cart edits after begin must not leak into the session")
}

func TestUnknownMethod(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	f.seedCart(t, 10000, 1)
	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.SelectMethod(ctx, "t1", "TRANSFER")
	require.ErrorIs(t, err, settlement.ErrUnknownMethod)
}

func TestToggleDonationPerSession(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	f.seedCart(t, 10500, 1)

	sess, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, domain.Money(0), sess.Donation)

	sess, err = f.svc.ToggleDonation(ctx, "t1", true)
	require.NoError(t, err)
	require.Equal(t, domain.Money(500), sess.Donation)
	require.Equal(t, domain.Money(11000), sess.GrandTotal)

	sess, err = f.svc.ToggleDonation(ctx, "t1", false)
	require.NoError(t, err)
	require.Equal(t, domain.Money(0), sess.Donation)
	require.Equal(t, domain.Money(10500), sess.GrandTotal)
}

func TestToggleDonationRechecksEnteredCash(t *testing.T) {
	f, _ := newFixture(t)
	ctx := context.Background()
	f.seedCart(t, 10500, 1)

	_, err := f.svc.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = f.svc.SelectMethod(ctx, "t1", domain.PaymentCash)
	require.NoError(t, err)
	sess, err := f.svc.EnterAmount(ctx, "t1", 10500)
	require.NoError(t, err)
	require.Equal(t, settlement.StateReady, sess.State)

	// Exact cash no longer covers the rounded-up grand total.
	sess, err = f.svc.ToggleDonation(ctx, "t1", true)
	require.NoError(t, err)
	require.Equal(t, settlement.StateAwaitingAmount, sess.State)
	require.Equal(t, domain.Money(0), sess.CashPaid)

	sess, err = f.svc.EnterAmount(ctx, "t1", 12000)
	require.NoError(t, err)
	require.Equal(t, settlement.StateReady, sess.State)
	require.Equal(t, domain.Money(1000), sess.Change)
}

func TestToggleDonationWithoutSession(t *testing.T) {
	f, _ := newFixture(t)
	_, err := f.svc.ToggleDonation(context.Background(), "t1", true)
	require.ErrorIs(t, err, settlement.ErrNoSession)
}
