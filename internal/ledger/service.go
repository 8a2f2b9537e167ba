// Package ledger keeps the simplified receivable/payable book per contact.
// The balance is the running sum of debits minus credits; settlement posts
// debits automatically for unpaid PIUTANG sales, payments come in as
// credits through this service.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/store"
)

// ErrInvalidAmount is returned for non-positive ledger amounts.
var ErrInvalidAmount = errors.New("ledger: amount must be positive")

// ErrInvalidType is returned for entry types other than debit/credit.
var ErrInvalidType = errors.New("ledger: type must be debit or credit")

// Input is the create/update payload for a manual entry.
type Input struct {
	ContactID   int64                  `json:"contactId"`
	Amount      domain.Money           `json:"amount"`
	Type        domain.LedgerEntryType `json:"type"`
	Description string                 `json:"description"`
	DueDate     *time.Time             `json:"dueDate"`
}

// Statement is a contact's ledger with the derived balance.
type Statement struct {
	Contact domain.Contact       `json:"contact"`
	Entries []domain.LedgerEntry `json:"entries"`
	Balance domain.Money         `json:"balance"`
}

// Service implements ledger operations.
type Service struct {
	Store  store.Store
	Outbox outbox.Queuer
	Logger zerolog.Logger
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func validate(in Input) error {
	if in.Amount <= 0 {
		return ErrInvalidAmount
	}
	if in.Type != domain.LedgerDebit && in.Type != domain.LedgerCredit {
		return ErrInvalidType
	}
	return nil
}

// Add posts a manual entry against a contact.
func (s *Service) Add(ctx context.Context, in Input, user domain.User) (domain.LedgerEntry, error) {
	if s.Store == nil {
		return domain.LedgerEntry{}, errors.New("ledger: service not configured")
	}
	if err := validate(in); err != nil {
		return domain.LedgerEntry{}, err
	}
	if _, err := s.Store.GetContact(ctx, in.ContactID); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("ledger: load contact %d: %w", in.ContactID, err)
	}
	now := s.now()
	entry := domain.LedgerEntry{
		ContactID:   in.ContactID,
		Amount:      in.Amount,
		Type:        in.Type,
		Description: in.Description,
		Date:        now,
		DueDate:     in.DueDate,
		UserID:      user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := s.Store.PutLedgerEntry(ctx, &entry)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("ledger: add entry: %w", err)
	}
	entry.ID = id
	s.queue(ctx, outbox.ActionCreateLedger, entry)
	return entry, nil
}

// Update edits an existing entry's amount, description or due date.
func (s *Service) Update(ctx context.Context, id int64, in Input) (domain.LedgerEntry, error) {
	if s.Store == nil {
		return domain.LedgerEntry{}, errors.New("ledger: service not configured")
	}
	if err := validate(in); err != nil {
		return domain.LedgerEntry{}, err
	}
	entry, err := s.Store.GetLedgerEntry(ctx, id)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("ledger: load entry %d: %w", id, err)
	}
	entry.Amount = in.Amount
	entry.Type = in.Type
	entry.Description = in.Description
	entry.DueDate = in.DueDate
	entry.UpdatedAt = s.now()
	if _, err := s.Store.PutLedgerEntry(ctx, &entry); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("ledger: update entry %d: %w", id, err)
	}
	s.queue(ctx, outbox.ActionUpdateLedger, entry)
	return entry, nil
}

// Delete removes an entry.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if s.Store == nil {
		return errors.New("ledger: service not configured")
	}
	entry, err := s.Store.GetLedgerEntry(ctx, id)
	if err != nil {
		return fmt.Errorf("ledger: load entry %d: %w", id, err)
	}
	if err := s.Store.DeleteLedgerEntry(ctx, id); err != nil {
		return fmt.Errorf("ledger: delete entry %d: %w", id, err)
	}
	s.queue(ctx, outbox.ActionDeleteLedger, entry)
	return nil
}

// StatementFor loads a contact's entries and derives the balance.
func (s *Service) StatementFor(ctx context.Context, contactID int64) (Statement, error) {
	if s.Store == nil {
		return Statement{}, errors.New("ledger: service not configured")
	}
	contact, err := s.Store.GetContact(ctx, contactID)
	if err != nil {
		return Statement{}, fmt.Errorf("ledger: load contact %d: %w", contactID, err)
	}
	entries, err := s.Store.ListLedgersByContact(ctx, contactID)
	if err != nil {
		return Statement{}, fmt.Errorf("ledger: list entries: %w", err)
	}
	return Statement{Contact: contact, Entries: entries, Balance: Balance(entries)}, nil
}

// Balance folds entries into the outstanding amount the contact owes.
func Balance(entries []domain.LedgerEntry) domain.Money {
	var balance domain.Money
	for _, e := range entries {
		switch e.Type {
		case domain.LedgerDebit:
			balance += e.Amount
		case domain.LedgerCredit:
			balance -= e.Amount
		}
	}
	return balance
}

func (s *Service) queue(ctx context.Context, action string, payload any) {
	if s.Outbox == nil {
		return
	}
	if err := s.Outbox.Queue(ctx, action, payload); err != nil {
		s.Logger.Warn().Err(err).Str("action", action).Msg("queue sync action")
	}
}
