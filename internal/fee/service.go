// Package fee manages fee/tax definitions. Carts snapshot definitions at
// attach time, so editing or deleting a definition never touches fees
// already attached to a cart or a settled transaction.
package fee

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

// ErrInvalidInput is returned when a definition fails validation.
var ErrInvalidInput = errors.New("fee: invalid input")

// Input is the create payload.
type Input struct {
	Name      string         `json:"name"`
	Type      domain.FeeType `json:"type"`
	Value     float64        `json:"value"`
	IsDefault bool           `json:"isDefault"`
	IsTax     bool           `json:"isTax"`
}

// Service implements fee definition operations.
type Service struct {
	Store  store.Store
	Outbox outbox.Queuer
	Logger zerolog.Logger
	Now    func() time.Time
}

// Create stores a new definition.
func (s *Service) Create(ctx context.Context, in Input) (domain.Fee, error) {
	if s.Store == nil {
		return domain.Fee{}, errors.New("fee: service not configured")
	}
	if in.Name == "" {
		return domain.Fee{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.Type != domain.FeePercentage && in.Type != domain.FeeFixed {
		return domain.Fee{}, fmt.Errorf("%w: type must be percentage or fixed", ErrInvalidInput)
	}
	if in.Value <= 0 {
		return domain.Fee{}, fmt.Errorf("%w: value must be positive", ErrInvalidInput)
	}
	f := domain.Fee{
		Name:      in.Name,
		Type:      in.Type,
		Value:     in.Value,
		IsDefault: in.IsDefault,
		IsTax:     in.IsTax,
	}
	id, err := s.Store.PutFee(ctx, &f)
	if err != nil {
		return domain.Fee{}, fmt.Errorf("fee: create: %w", err)
	}
	f.ID = id
	s.queue(ctx, outbox.ActionCreateFee, f)
	return f, nil
}

// Update replaces a definition's fields.
func (s *Service) Update(ctx context.Context, id int64, in Input) (domain.Fee, error) {
	if s.Store == nil {
		return domain.Fee{}, errors.New("fee: service not configured")
	}
	if in.Name == "" {
		return domain.Fee{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.Type != domain.FeePercentage && in.Type != domain.FeeFixed {
		return domain.Fee{}, fmt.Errorf("%w: type must be percentage or fixed", ErrInvalidInput)
	}
	if in.Value <= 0 {
		return domain.Fee{}, fmt.Errorf("%w: value must be positive", ErrInvalidInput)
	}
	f, err := s.Store.GetFee(ctx, id)
	if err != nil {
		return domain.Fee{}, fmt.Errorf("fee: load %d: %w", id, err)
	}
	f.Name = in.Name
	f.Type = in.Type
	f.Value = in.Value
	f.IsDefault = in.IsDefault
	f.IsTax = in.IsTax
	if _, err := s.Store.PutFee(ctx, &f); err != nil {
		return domain.Fee{}, fmt.Errorf("fee: update %d: %w", id, err)
	}
	s.queue(ctx, outbox.ActionUpdateFee, f)
	return f, nil
}

// Delete removes a definition. Carts that already snapshotted it keep their
// copy.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if s.Store == nil {
		return errors.New("fee: service not configured")
	}
	f, err := s.Store.GetFee(ctx, id)
	if err != nil {
		return fmt.Errorf("fee: load %d: %w", id, err)
	}
	if err := s.Store.DeleteFee(ctx, id); err != nil {
		return fmt.Errorf("fee: delete %d: %w", id, err)
	}
	s.queue(ctx, outbox.ActionDeleteFee, f)
	return nil
}

// List returns all definitions.
func (s *Service) List(ctx context.Context) ([]domain.Fee, error) {
	if s.Store == nil {
		return nil, errors.New("fee: service not configured")
	}
	return s.Store.ListFees(ctx)
}

func (s *Service) queue(ctx context.Context, action string, payload any) {
	if s.Outbox == nil {
		return
	}
	if err := s.Outbox.Queue(ctx, action, payload); err != nil {
		s.Logger.Warn().Err(err).Str("action", action).Msg("queue sync action")
	}
}
