// Package contact manages customers and suppliers, including the loyalty
// point balance credited by settled sales.
package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/store"
)

// ErrInvalidInput is returned when a payload fails validation.
var ErrInvalidInput = errors.New("contact: invalid input")

// ErrInsufficientPoints is returned when a redemption exceeds the balance.
var ErrInsufficientPoints = errors.New("contact: insufficient points")

// Input is the create/update payload.
type Input struct {
	Name    string             `json:"name" validate:"required"`
	Type    domain.ContactType `json:"type" validate:"required,oneof=customer supplier"`
	Phone   string             `json:"phone"`
	Barcode string             `json:"barcode"`
}

// Service implements contact operations.
type Service struct {
	Store    store.Store
	Outbox   outbox.Queuer
	Validate *validator.Validate
	Logger   zerolog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) validate(in Input) error {
	if s.Validate == nil {
		return nil
	}
	if err := s.Validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Create adds a contact.
func (s *Service) Create(ctx context.Context, in Input) (domain.Contact, error) {
	if s.Store == nil {
		return domain.Contact{}, errors.New("contact: service not configured")
	}
	if err := s.validate(in); err != nil {
		return domain.Contact{}, err
	}
	now := s.now()
	c := domain.Contact{
		Name:      in.Name,
		Type:      in.Type,
		Phone:     in.Phone,
		Barcode:   in.Barcode,
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := s.Store.PutContact(ctx, &c)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("contact: create: %w", err)
	}
	c.ID = id
	s.queue(ctx, outbox.ActionCreateContact, c)
	return c, nil
}

// Update replaces contact master data; the point balance is preserved.
func (s *Service) Update(ctx context.Context, id int64, in Input) (domain.Contact, error) {
	if s.Store == nil {
		return domain.Contact{}, errors.New("contact: service not configured")
	}
	if err := s.validate(in); err != nil {
		return domain.Contact{}, err
	}
	existing, err := s.Store.GetContact(ctx, id)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("contact: load %d: %w", id, err)
	}
	c := domain.Contact{
		ID:        existing.ID,
		Name:      in.Name,
		Type:      in.Type,
		Phone:     in.Phone,
		Barcode:   in.Barcode,
		Points:    existing.Points,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: s.now(),
	}
	if _, err := s.Store.PutContact(ctx, &c); err != nil {
		return domain.Contact{}, fmt.Errorf("contact: update %d: %w", id, err)
	}
	s.queue(ctx, outbox.ActionUpdateContact, c)
	return c, nil
}

// Delete removes a contact together with its ledger entries; a receivable
// without a debtor is unrecoverable anyway.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if s.Store == nil {
		return errors.New("contact: service not configured")
	}
	c, err := s.Store.GetContact(ctx, id)
	if err != nil {
		return fmt.Errorf("contact: load %d: %w", id, err)
	}
	entries, err := s.Store.ListLedgersByContact(ctx, id)
	if err != nil {
		return fmt.Errorf("contact: list ledgers %d: %w", id, err)
	}
	if err := s.Store.DeleteContact(ctx, id); err != nil {
		return fmt.Errorf("contact: delete %d: %w", id, err)
	}
	for _, e := range entries {
		if err := s.Store.DeleteLedgerEntry(ctx, e.ID); err != nil {
			s.Logger.Warn().Err(err).Int64("ledger_id", e.ID).Msg("delete ledger entry of removed contact")
			continue
		}
		s.queue(ctx, outbox.ActionDeleteLedger, e)
	}
	s.queue(ctx, outbox.ActionDeleteContact, c)
	return nil
}

// Get loads one contact.
func (s *Service) Get(ctx context.Context, id int64) (domain.Contact, error) {
	if s.Store == nil {
		return domain.Contact{}, errors.New("contact: service not configured")
	}
	return s.Store.GetContact(ctx, id)
}

// List returns contacts of one type.
func (s *Service) List(ctx context.Context, kind domain.ContactType) ([]domain.Contact, error) {
	if s.Store == nil {
		return nil, errors.New("contact: service not configured")
	}
	return s.Store.ListContactsByType(ctx, kind)
}

// Search filters contacts of one type by name, phone or barcode. A query
// matching a barcode exactly returns only that contact, so a scan at the
// register resolves without ambiguity.
func (s *Service) Search(ctx context.Context, kind domain.ContactType, query string) ([]domain.Contact, error) {
	if s.Store == nil {
		return nil, errors.New("contact: service not configured")
	}
	contacts, err := s.Store.ListContactsByType(ctx, kind)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return contacts, nil
	}
	for _, c := range contacts {
		if c.Barcode != "" && c.Barcode == query {
			return []domain.Contact{c}, nil
		}
	}
	needle := strings.ToLower(query)
	matched := make([]domain.Contact, 0, len(contacts))
	for _, c := range contacts {
		if strings.Contains(strings.ToLower(c.Name), needle) ||
			strings.Contains(c.Phone, query) ||
			strings.Contains(strings.ToLower(c.Barcode), needle) {
			matched = append(matched, c)
		}
	}
	return matched, nil
}

// RedeemPoints deducts points from a customer's balance.
func (s *Service) RedeemPoints(ctx context.Context, id int64, points int) (domain.Contact, error) {
	if s.Store == nil {
		return domain.Contact{}, errors.New("contact: service not configured")
	}
	if points <= 0 {
		return domain.Contact{}, fmt.Errorf("%w: points must be positive", ErrInvalidInput)
	}
	c, err := s.Store.GetContact(ctx, id)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("contact: load %d: %w", id, err)
	}
	if c.Points < points {
		return domain.Contact{}, fmt.Errorf("%w: have %d, want %d", ErrInsufficientPoints, c.Points, points)
	}
	c.Points -= points
	c.UpdatedAt = s.now()
	if _, err := s.Store.PutContact(ctx, &c); err != nil {
		return domain.Contact{}, fmt.Errorf("contact: update %d: %w", id, err)
	}
	s.queue(ctx, outbox.ActionUpdateContact, c)
	return c, nil
}

// ResetPoints zeroes a customer's balance, e.g. when a loyalty period closes.
func (s *Service) ResetPoints(ctx context.Context, id int64) (domain.Contact, error) {
	if s.Store == nil {
		return domain.Contact{}, errors.New("contact: service not configured")
	}
	c, err := s.Store.GetContact(ctx, id)
	if err != nil {
		return domain.Contact{}, fmt.Errorf("contact: load %d: %w", id, err)
	}
	if c.Points == 0 {
		return c, nil
	}
	c.Points = 0
	c.UpdatedAt = s.now()
	if _, err := s.Store.PutContact(ctx, &c); err != nil {
		return domain.Contact{}, fmt.Errorf("contact: update %d: %w", id, err)
	}
	s.queue(ctx, outbox.ActionUpdateContact, c)
	return c, nil
}

func (s *Service) queue(ctx context.Context, action string, payload any) {
	if s.Outbox == nil {
		return
	}
	if err := s.Outbox.Queue(ctx, action, payload); err != nil {
		s.Logger.Warn().Err(err).Str("action", action).Msg("queue sync action")
	}
}
