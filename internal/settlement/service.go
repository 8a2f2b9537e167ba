// Package settlement drives a cart through payment into an immutable
// transaction. Each terminal holds at most one settlement session; the cart
// is frozen when the session begins.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/cart"
	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/lock"
	"github.com/noah-isme/kasir-api/internal/obs"
	"github.com/noah-isme/kasir-api/internal/settings"
	"github.com/noah-isme/kasir-api/internal/store"
)

// State names the settlement steps a terminal walks through.
type State string

const (
	StateSelectingMethod State = "selectingMethod"
	StateAwaitingAmount  State = "awaitingAmount"
	StateReady           State = "ready"
)

// ErrNoSession is returned when no settlement is in progress for a terminal.
var ErrNoSession = errors.New("settlement: no session in progress")

// ErrWrongState is returned when an operation does not fit the current step.
var ErrWrongState = errors.New("settlement: operation not valid in current state")

// ErrUnknownMethod is returned for a payment method outside TUNAI/QRIS/PIUTANG.
var ErrUnknownMethod = errors.New("settlement: unknown payment method")

// ErrDebtNeedsCustomer is returned when PIUTANG is selected without a
// customer attached to the cart.
var ErrDebtNeedsCustomer = errors.New("settlement: debt payment requires a customer")

// ErrInsufficientCash is returned when TUNAI cash paid is below the grand total.
var ErrInsufficientCash = errors.New("settlement: cash paid below grand total")

// ErrDebtOverpaid is returned when a PIUTANG down payment exceeds the grand
// total; that sale should settle as TUNAI instead.
var ErrDebtOverpaid = errors.New("settlement: debt down payment exceeds grand total")

// Session is the settlement state exposed to handlers.
type Session struct {
	State         State                `json:"state"`
	Cart          domain.Cart          `json:"cart"`
	Totals        cart.Totals          `json:"totals"`
	Donation      domain.Money         `json:"donation"`
	GrandTotal    domain.Money         `json:"grandTotal"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod,omitempty"`
	CashPaid      domain.Money         `json:"cashPaid"`
	Change        domain.Money         `json:"change"`
}

// Effects applies the post-settlement side effects of a persisted
// transaction. Implemented by the effects coordinator.
type Effects interface {
	Apply(ctx context.Context, tx domain.Transaction) error
}

// Service runs settlements. Locker, when configured, serializes confirmation
// per terminal across instances; the in-process mutex covers a single node.
type Service struct {
	Store    store.Store
	Carts    *cart.Service
	Settings *settings.Service
	Effects  Effects
	Locker   *lock.Locker
	Logger   zerolog.Logger
	Now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Begin freezes the terminal's cart into a new settlement session, replacing
// any previous unfinished session.
func (s *Service) Begin(ctx context.Context, terminal string) (Session, error) {
	if s.Store == nil || s.Carts == nil {
		return Session{}, errors.New("settlement: service not configured")
	}
	snapshot := s.Carts.Snapshot(terminal)
	if len(snapshot.Items) == 0 {
		return Session{}, cart.ErrEmptyCart
	}
	totals := cart.Compute(snapshot)
	donation := domain.Money(0)
	if s.Settings != nil {
		enabled, err := s.Settings.DonationRounding(ctx)
		if err != nil {
			return Session{}, fmt.Errorf("settlement: load settings: %w", err)
		}
		if enabled {
			donation = roundUpToThousand(totals.Total) - totals.Total
		}
	}
	sess := &Session{
		State:      StateSelectingMethod,
		Cart:       snapshot,
		Totals:     totals,
		Donation:   donation,
		GrandTotal: totals.Total + donation,
	}
	s.mu.Lock()
	if s.sessions == nil {
		s.sessions = make(map[string]*Session)
	}
	s.sessions[terminal] = sess
	s.mu.Unlock()
	return *sess, nil
}

// Preview returns the current session without mutating it.
func (s *Service) Preview(_ context.Context, terminal string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[terminal]
	if !ok {
		return Session{}, ErrNoSession
	}
	return *sess, nil
}

// SelectMethod chooses how the sale is paid. QRIS settles for the exact
// grand total and skips amount entry; TUNAI and PIUTANG move on to it.
func (s *Service) SelectMethod(_ context.Context, terminal string, method domain.PaymentMethod) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[terminal]
	if !ok {
		return Session{}, ErrNoSession
	}
	switch method {
	case domain.PaymentCash, domain.PaymentDebt:
		if method == domain.PaymentDebt && sess.Cart.CustomerID == nil {
			return Session{}, ErrDebtNeedsCustomer
		}
		sess.PaymentMethod = method
		sess.State = StateAwaitingAmount
		sess.CashPaid = 0
		sess.Change = 0
	case domain.PaymentQRIS:
		sess.PaymentMethod = method
		sess.CashPaid = sess.GrandTotal
		sess.Change = 0
		sess.State = StateReady
	default:
		return Session{}, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return *sess, nil
}

// EnterAmount records the cash handed over. TUNAI requires at least the
// grand total; PIUTANG accepts any down payment up to it, and the negative
// change then denotes the receivable.
func (s *Service) EnterAmount(_ context.Context, terminal string, cashPaid domain.Money) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[terminal]
	if !ok {
		return Session{}, ErrNoSession
	}
	if sess.State != StateAwaitingAmount && sess.State != StateReady {
		return Session{}, ErrWrongState
	}
	if cashPaid < 0 {
		return Session{}, fmt.Errorf("%w: negative amount", ErrWrongState)
	}
	switch sess.PaymentMethod {
	case domain.PaymentCash:
		if cashPaid < sess.GrandTotal {
			return Session{}, fmt.Errorf("%w: need %d, got %d", ErrInsufficientCash, sess.GrandTotal, cashPaid)
		}
	case domain.PaymentDebt:
		if cashPaid > sess.GrandTotal {
			return Session{}, ErrDebtOverpaid
		}
	default:
		return Session{}, ErrWrongState
	}
	sess.CashPaid = cashPaid
	sess.Change = cashPaid - sess.GrandTotal
	sess.State = StateReady
	return *sess, nil
}

// ToggleDonation switches the round-up for this session only, overriding the
// store-wide setting captured at Begin. The grand total moves, so a cash
// amount already entered is re-checked against it.
func (s *Service) ToggleDonation(_ context.Context, terminal string, enabled bool) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[terminal]
	if !ok {
		return Session{}, ErrNoSession
	}
	donation := domain.Money(0)
	if enabled {
		donation = roundUpToThousand(sess.Totals.Total) - sess.Totals.Total
	}
	sess.Donation = donation
	sess.GrandTotal = sess.Totals.Total + donation
	switch sess.PaymentMethod {
	case domain.PaymentQRIS:
		sess.CashPaid = sess.GrandTotal
		sess.Change = 0
	case domain.PaymentCash:
		if sess.State == StateReady {
			if sess.CashPaid < sess.GrandTotal {
				sess.CashPaid = 0
				sess.Change = 0
				sess.State = StateAwaitingAmount
			} else {
				sess.Change = sess.CashPaid - sess.GrandTotal
			}
		}
	case domain.PaymentDebt:
		if sess.State == StateReady {
			if sess.CashPaid > sess.GrandTotal {
				sess.CashPaid = 0
				sess.Change = 0
				sess.State = StateAwaitingAmount
			} else {
				sess.Change = sess.CashPaid - sess.GrandTotal
			}
		}
	}
	return *sess, nil
}

// Cancel abandons the settlement session; the cart is untouched.
func (s *Service) Cancel(_ context.Context, terminal string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, terminal)
}

// Confirm persists the transaction, applies side effects and clears both the
// settlement session and the terminal's cart. The transaction document is
// immutable from here on.
func (s *Service) Confirm(ctx context.Context, terminal string, user domain.User) (domain.Transaction, error) {
	if s.Store == nil || s.Carts == nil {
		return domain.Transaction{}, errors.New("settlement: service not configured")
	}
	s.mu.Lock()
	sess, ok := s.sessions[terminal]
	if !ok {
		s.mu.Unlock()
		return domain.Transaction{}, ErrNoSession
	}
	if sess.State != StateReady {
		s.mu.Unlock()
		return domain.Transaction{}, ErrWrongState
	}
	frozen := *sess
	s.mu.Unlock()

	var tx domain.Transaction
	settle := func(ctx context.Context) error {
		built, err := s.buildTransaction(ctx, frozen, user)
		if err != nil {
			return err
		}
		id, err := s.Store.PutTransaction(ctx, &built)
		if err != nil {
			return fmt.Errorf("settlement: save transaction: %w", err)
		}
		built.ID = id
		tx = built
		return nil
	}

	var err error
	if s.Locker != nil {
		err = s.Locker.WithLock(ctx, "settle:"+terminal, 10*time.Second, settle)
	} else {
		err = settle(ctx)
	}
	if err != nil {
		if obs.TransactionsTotal != nil {
			obs.TransactionsTotal.WithLabelValues(string(frozen.PaymentMethod), "failed").Inc()
		}
		return domain.Transaction{}, err
	}
	if obs.TransactionsTotal != nil {
		obs.TransactionsTotal.WithLabelValues(string(tx.PaymentMethod), "settled").Inc()
		obs.TransactionValue.WithLabelValues(string(tx.PaymentMethod)).Observe(float64(tx.GrandTotal))
	}

	s.mu.Lock()
	delete(s.sessions, terminal)
	s.mu.Unlock()
	s.Carts.Clear(ctx, terminal)

	if s.Effects != nil {
		if err := s.Effects.Apply(ctx, tx); err != nil {
			// The sale is already recorded; effects are best effort.
			s.Logger.Error().Err(err).Int64("transaction_id", tx.ID).Msg("post-settlement effects incomplete")
		}
	}
	s.Logger.Info().
		Int64("transaction_id", tx.ID).
		Str("method", string(tx.PaymentMethod)).
		Int64("grand_total", tx.GrandTotal).
		Msg("transaction settled")
	return tx, nil
}

func (s *Service) buildTransaction(ctx context.Context, sess Session, user domain.User) (domain.Transaction, error) {
	points := 0
	// Points need a customer to credit; anonymous sales earn nothing.
	if s.Settings != nil && sess.Cart.CustomerID != nil {
		rules, err := s.Settings.Points(ctx)
		if err != nil {
			return domain.Transaction{}, fmt.Errorf("settlement: load point rules: %w", err)
		}
		points = rules.Earned(sess.Totals.Total)
	}
	return domain.Transaction{
		Items:         sess.Cart.Items,
		Subtotal:      sess.Totals.Subtotal,
		TotalDiscount: sess.Totals.TotalDiscount,
		Fees:          sess.Totals.Fees,
		Total:         sess.Totals.Total,
		Donation:      sess.Donation,
		GrandTotal:    sess.GrandTotal,
		CashPaid:      sess.CashPaid,
		Change:        sess.Change,
		PaymentMethod: sess.PaymentMethod,
		CustomerID:    sess.Cart.CustomerID,
		CustomerName:  sess.Cart.CustomerName,
		UserID:        user.ID,
		UserName:      user.Name,
		Date:          s.now(),
		PointsEarned:  points,
	}, nil
}

func roundUpToThousand(v domain.Money) domain.Money {
	if v%1000 == 0 {
		return v
	}
	return (v/1000 + 1) * 1000
}
