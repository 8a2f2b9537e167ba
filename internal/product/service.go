// Package product owns catalog CRUD and manual stock adjustments. Every
// stock-affecting write pairs with an audit entry and a sync action.
package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/outbox"
	"github.com/noah-isme/kasir-api/internal/stock"
	"github.com/noah-isme/kasir-api/internal/store"
)

// ErrInvalidInput is returned when a payload fails validation.
var ErrInvalidInput = errors.New("product: invalid input")

// Input is the create/update payload.
type Input struct {
	Name            string                 `json:"name" validate:"required"`
	Price           domain.Money           `json:"price" validate:"gte=0"`
	PurchasePrice   domain.Money           `json:"purchasePrice" validate:"gte=0"`
	Stock           *int                   `json:"stock"`
	Barcode         string                 `json:"barcode"`
	Category        string                 `json:"category"`
	Discount        *domain.Discount       `json:"discount"`
	WholesalePrices []domain.WholesaleTier `json:"wholesalePrices"`
	Variations      []domain.Variation     `json:"variations"`
}

// Service implements catalog operations.
type Service struct {
	Store    store.Store
	Stock    *stock.Service
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

// Create stores a new product and writes initial-stock audit entries for
// every tracked unit.
func (s *Service) Create(ctx context.Context, in Input, user domain.User) (domain.Product, error) {
	if s.Store == nil {
		return domain.Product{}, errors.New("product: service not configured")
	}
	if err := s.validate(in); err != nil {
		return domain.Product{}, err
	}
	now := s.now()
	p := domain.Product{
		Name:            in.Name,
		Price:           in.Price,
		PurchasePrice:   in.PurchasePrice,
		Stock:           in.Stock,
		Barcode:         in.Barcode,
		Category:        in.Category,
		Discount:        in.Discount,
		WholesalePrices: in.WholesalePrices,
		Variations:      in.Variations,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.HasVariations() {
		agg := p.AggregateStock()
		p.Stock = &agg
	}
	id, err := s.Store.PutProduct(ctx, &p)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product: create: %w", err)
	}
	p.ID = id
	s.queue(ctx, outbox.ActionCreateProduct, p)
	s.logInitialStock(ctx, p, user)
	return p, nil
}

// Update replaces a product's master data. Stock fields here are trusted as
// given; quantity corrections should go through AdjustStock so they are
// audited.
func (s *Service) Update(ctx context.Context, id int64, in Input, user domain.User) (domain.Product, error) {
	if s.Store == nil {
		return domain.Product{}, errors.New("product: service not configured")
	}
	if err := s.validate(in); err != nil {
		return domain.Product{}, err
	}
	existing, err := s.Store.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product: load %d: %w", id, err)
	}
	p := domain.Product{
		ID:              existing.ID,
		Name:            in.Name,
		Price:           in.Price,
		PurchasePrice:   in.PurchasePrice,
		Stock:           in.Stock,
		Barcode:         in.Barcode,
		Category:        in.Category,
		Discount:        in.Discount,
		WholesalePrices: in.WholesalePrices,
		Variations:      in.Variations,
		CreatedAt:       existing.CreatedAt,
		UpdatedAt:       s.now(),
	}
	if p.HasVariations() {
		agg := p.AggregateStock()
		p.Stock = &agg
	}
	if _, err := s.Store.PutProduct(ctx, &p); err != nil {
		return domain.Product{}, fmt.Errorf("product: update %d: %w", id, err)
	}
	s.queue(ctx, outbox.ActionUpdateProduct, p)
	return p, nil
}

// Delete removes a product from the catalog. History entries stay.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if s.Store == nil {
		return errors.New("product: service not configured")
	}
	p, err := s.Store.GetProduct(ctx, id)
	if err != nil {
		return fmt.Errorf("product: load %d: %w", id, err)
	}
	if err := s.Store.DeleteProduct(ctx, id); err != nil {
		return fmt.Errorf("product: delete %d: %w", id, err)
	}
	s.queue(ctx, outbox.ActionDeleteProduct, p)
	return nil
}

// Get loads one product.
func (s *Service) Get(ctx context.Context, id int64) (domain.Product, error) {
	if s.Store == nil {
		return domain.Product{}, errors.New("product: service not configured")
	}
	return s.Store.GetProduct(ctx, id)
}

// List returns the whole catalog.
func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	if s.Store == nil {
		return nil, errors.New("product: service not configured")
	}
	return s.Store.ListProducts(ctx)
}

// ByBarcode resolves a scanned barcode to a product.
func (s *Service) ByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	if s.Store == nil {
		return domain.Product{}, errors.New("product: service not configured")
	}
	return s.Store.GetProductByBarcode(ctx, barcode)
}

// AdjustStock sets a unit's tracked stock to an absolute value and writes an
// adjustment audit entry for the delta.
func (s *Service) AdjustStock(ctx context.Context, id int64, variationIndex *int, newStock int, reason string, user domain.User) (domain.Product, error) {
	if s.Store == nil || s.Stock == nil {
		return domain.Product{}, errors.New("product: service not configured")
	}
	p, err := s.Store.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product: load %d: %w", id, err)
	}
	current, err := currentStock(&p, variationIndex)
	if err != nil {
		return domain.Product{}, err
	}
	if reason == "" {
		reason = "manual adjustment"
	}
	if err := s.Stock.Apply(ctx, stock.Movement{
		ProductID:      id,
		VariationIndex: variationIndex,
		Delta:          newStock - current,
		Type:           domain.StockAdjustment,
		Reason:         reason,
		User:           user,
	}); err != nil {
		return domain.Product{}, err
	}
	return s.Store.GetProduct(ctx, id)
}

// logInitialStock writes the opening audit entries for a freshly created
// product. Failures only log; creation already succeeded.
func (s *Service) logInitialStock(ctx context.Context, p domain.Product, user domain.User) {
	if s.Stock == nil {
		return
	}
	entries := make([]domain.StockHistory, 0, 1+len(p.Variations))
	if !p.HasVariations() && p.Stock != nil && *p.Stock != 0 {
		entries = append(entries, domain.StockHistory{
			ProductID:    p.ID,
			ProductName:  p.Name,
			NewStock:     *p.Stock,
			ChangeAmount: *p.Stock,
			Type:         domain.StockInitial,
			Reason:       "initial stock",
			UserID:       user.ID,
			UserName:     user.Name,
		})
	}
	for _, v := range p.Variations {
		if v.Stock == nil || *v.Stock == 0 {
			continue
		}
		entries = append(entries, domain.StockHistory{
			ProductID:     p.ID,
			ProductName:   p.Name,
			VariationName: v.Name,
			NewStock:      *v.Stock,
			ChangeAmount:  *v.Stock,
			Type:          domain.StockInitial,
			Reason:        "initial stock",
			UserID:        user.ID,
			UserName:      user.Name,
		})
	}
	for _, e := range entries {
		if err := s.Stock.Log(ctx, e); err != nil {
			s.Logger.Warn().Err(err).Int64("product_id", p.ID).Msg("log initial stock")
		}
	}
}

func (s *Service) queue(ctx context.Context, action string, payload any) {
	if s.Outbox == nil {
		return
	}
	if err := s.Outbox.Queue(ctx, action, payload); err != nil {
		s.Logger.Warn().Err(err).Str("action", action).Msg("queue sync action")
	}
}

func currentStock(p *domain.Product, variationIndex *int) (int, error) {
	if variationIndex != nil {
		if *variationIndex < 0 || *variationIndex >= len(p.Variations) {
			return 0, fmt.Errorf("%w: variation index %d", ErrInvalidInput, *variationIndex)
		}
		if p.Variations[*variationIndex].Stock == nil {
			return 0, fmt.Errorf("%w: variation stock untracked", ErrInvalidInput)
		}
		return *p.Variations[*variationIndex].Stock, nil
	}
	if p.Stock == nil {
		return 0, fmt.Errorf("%w: product stock untracked", ErrInvalidInput)
	}
	return *p.Stock, nil
}
