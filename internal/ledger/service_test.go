package ledger_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/ledger"
	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/store/memory"
)

func newService(t *testing.T) (*ledger.Service, *memory.Store, *outbox.Recorder, int64) {
	t.Helper()
	db := memory.New()
	sink := &outbox.Recorder{}
	svc := &ledger.Service{Store: db, Outbox: sink, Logger: zerolog.Nop()}
	contactID, err := db.PutContact(context.Background(), &domain.Contact{Name: "Budi", Type: domain.ContactCustomer})
	require.NoError(t, err)
	return svc, db, sink, contactID
}

func TestBalance(t *testing.T) {
	entries := []domain.LedgerEntry{
		{Amount: 50000, Type: domain.LedgerDebit},
		{Amount: 20000, Type: domain.LedgerCredit},
		{Amount: 10000, Type: domain.LedgerDebit},
	}
	if got := ledger.Balance(entries); got != 40000 {
		t.Fatalf("expected balance 40000, got %d", got)
	}
}

func TestAddValidatesInput(t *testing.T) {
	svc, _, _, contactID := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, ledger.Input{ContactID: contactID, Amount: 0, Type: domain.LedgerDebit}, domain.User{})
	require.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = svc.Add(ctx, ledger.Input{ContactID: contactID, Amount: 1000, Type: "transfer"}, domain.User{})
	require.ErrorIs(t, err, ledger.ErrInvalidType)
}

func TestAddRequiresExistingContact(t *testing.T) {
	svc, _, _, _ := newService(t)
	_, err := svc.Add(context.Background(), ledger.Input{ContactID: 999, Amount: 1000, Type: domain.LedgerDebit}, domain.User{})
	require.Error(t, err)
}

func TestStatementFor(t *testing.T) {
	svc, _, sink, contactID := newService(t)
	ctx := context.Background()

	_, err := svc.Add(ctx, ledger.Input{ContactID: contactID, Amount: 50000, Type: domain.LedgerDebit, Description: "hutang warung"}, domain.User{})
	require.NoError(t, err)
	_, err = svc.Add(ctx, ledger.Input{ContactID: contactID, Amount: 20000, Type: domain.LedgerCredit, Description: "cicilan"}, domain.User{})
	require.NoError(t, err)

	st, err := svc.StatementFor(ctx, contactID)
	require.NoError(t, err)
	require.Equal(t, "Budi", st.Contact.Name)
	require.Len(t, st.Entries, 2)
	require.Equal(t, domain.Money(30000), st.Balance)

	require.Equal(t, []string{outbox.ActionCreateLedger, outbox.ActionCreateLedger}, sink.Actions())
}

func TestUpdateAndDelete(t *testing.T) {
	svc, db, sink, contactID := newService(t)
	ctx := context.Background()

	entry, err := svc.Add(ctx, ledger.Input{ContactID: contactID, Amount: 50000, Type: domain.LedgerDebit}, domain.User{})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, entry.ID, ledger.Input{ContactID: contactID, Amount: 45000, Type: domain.LedgerDebit, Description: "koreksi"})
	require.NoError(t, err)
	require.Equal(t, domain.Money(45000), updated.Amount)
	require.Equal(t, "koreksi", updated.Description)

	require.NoError(t, svc.Delete(ctx, entry.ID))
	entries, err := db.ListLedgersByContact(ctx, contactID)
	require.NoError(t, err)
	require.Empty(t, entries)

	require.Contains(t, sink.Actions(), outbox.ActionUpdateLedger)
	require.Contains(t, sink.Actions(), outbox.ActionDeleteLedger)
}
