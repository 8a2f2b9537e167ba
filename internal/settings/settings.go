// Package settings exposes typed accessors over the settings collection.
package settings

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/noah-isme/kasir-api/internal/store"
)

// Keys consumed by the pricing/settlement core.
const (
	KeyDonationRounding  = "enableDonationRounding"
	KeyPointSystem       = "pointSystemEnabled"
	KeyPointMinPurchase  = "pointMinPurchase"
	KeyPointValuePerUnit = "pointValuePerPoint"
)

// Service reads and writes settings values stored as raw JSON.
type Service struct {
	Store store.Store
}

// Bool returns the boolean setting, false when unset.
func (s *Service) Bool(ctx context.Context, key string) (bool, error) {
	raw, err := s.Store.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	var v bool
	if err := json.Unmarshal(raw, &v); err != nil {
		return false, err
	}
	return v, nil
}

// Int64 returns the numeric setting, 0 when unset.
func (s *Service) Int64(ctx context.Context, key string) (int64, error) {
	raw, err := s.Store.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var v int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}

// Set persists any JSON-encodable value under key.
func (s *Service) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.Store.PutSetting(ctx, key, raw)
}

// PointRules bundles the loyalty configuration read in one place.
type PointRules struct {
	Enabled       bool
	MinPurchase   int64
	ValuePerPoint int64
}

// Earned computes loyalty points for a sale total. Points accrue only when
// the system is on, the total reaches the minimum purchase and a positive
// rupiah-per-point value is configured.
func (r PointRules) Earned(total int64) int {
	if !r.Enabled || r.ValuePerPoint <= 0 || total < r.MinPurchase {
		return 0
	}
	return int(total / r.ValuePerPoint)
}

// Points loads the loyalty point configuration.
func (s *Service) Points(ctx context.Context) (PointRules, error) {
	enabled, err := s.Bool(ctx, KeyPointSystem)
	if err != nil {
		return PointRules{}, err
	}
	min, err := s.Int64(ctx, KeyPointMinPurchase)
	if err != nil {
		return PointRules{}, err
	}
	value, err := s.Int64(ctx, KeyPointValuePerUnit)
	if err != nil {
		return PointRules{}, err
	}
	return PointRules{Enabled: enabled, MinPurchase: min, ValuePerPoint: value}, nil
}

// DonationRounding reports whether grand totals round up to the next 1000.
func (s *Service) DonationRounding(ctx context.Context) (bool, error) {
	return s.Bool(ctx, KeyDonationRounding)
}
