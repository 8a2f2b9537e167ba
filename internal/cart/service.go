// Package cart maintains per-terminal carts: priced lines, fee snapshots and
// the attached customer. Lines are re-priced on every quantity change because
// wholesale tier eligibility depends on quantity.
package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/pricing"
	"github.com/noah-isme/kasir-api/internal/store"
)

// ErrOutOfStock is returned when a unit with zero tracked stock is added.
var ErrOutOfStock = errors.New("cart: out of stock")

// ErrInsufficientStock is returned when the requested quantity exceeds the
// tracked stock.
var ErrInsufficientStock = errors.New("cart: insufficient stock")

// ErrUnknownVariation is returned for a variation index the product lacks.
var ErrUnknownVariation = errors.New("cart: unknown variation")

// ErrLineNotFound is returned when a mutation names a line not in the cart.
var ErrLineNotFound = errors.New("cart: line not found")

// ErrNotCustomer is returned when a non-customer contact is attached.
var ErrNotCustomer = errors.New("cart: contact is not a customer")

// ErrEmptyCart is returned when holding an empty cart.
var ErrEmptyCart = errors.New("cart: cart is empty")

// Totals is the derived money view of a cart. Subtotal is the pre-discount
// goods value, ItemsTotal the post-discount per-line-rounded value the fees
// are computed on.
type Totals struct {
	Subtotal      domain.Money `json:"subtotal"`
	TotalDiscount domain.Money `json:"totalDiscount"`
	ItemsTotal    domain.Money `json:"itemsTotal"`
	Fees          []domain.Fee `json:"fees"`
	Total         domain.Money `json:"total"`
}

type session struct {
	mu   sync.Mutex
	cart domain.Cart
}

// Service owns the terminal session registry. All cart mutations for one
// terminal serialize on that terminal's session lock.
type Service struct {
	Store  store.Store
	Logger zerolog.Logger
	Now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) session(terminal string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]*session)
	}
	sess, ok := s.sessions[terminal]
	if !ok {
		sess = &session{}
		s.sessions[terminal] = sess
	}
	return sess
}

// Get returns a snapshot of the terminal's cart with derived totals.
func (s *Service) Get(_ context.Context, terminal string) (domain.Cart, Totals) {
	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	c := cloneCart(sess.cart)
	return c, Compute(c)
}

// Snapshot returns a deep copy of the cart for settlement.
func (s *Service) Snapshot(terminal string) domain.Cart {
	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return cloneCart(sess.cart)
}

// AddLine adds quantity units of a sellable unit, merging into an existing
// line when the unit is already in the cart. Tracked stock gates the merged
// quantity: zero stock blocks the add outright.
func (s *Service) AddLine(ctx context.Context, terminal string, productID int64, variationIndex *int, quantity int) (domain.Cart, error) {
	if s.Store == nil {
		return domain.Cart{}, errors.New("cart: service not configured")
	}
	if quantity <= 0 {
		quantity = 1
	}
	product, err := s.Store.GetProduct(ctx, productID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart: load product %d: %w", productID, err)
	}
	unit, err := unitFor(&product, variationIndex)
	if err != nil {
		return domain.Cart{}, err
	}

	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	idx := findLine(sess.cart.Items, productID, variationIndex)
	want := quantity
	if idx >= 0 {
		want += sess.cart.Items[idx].Quantity
	}
	if stk := unit.Stock(); stk != nil {
		if *stk == 0 {
			return domain.Cart{}, ErrOutOfStock
		}
		if want > *stk {
			return domain.Cart{}, fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, product.Name, *stk)
		}
	}

	wasEmpty := len(sess.cart.Items) == 0
	info := pricing.Resolve(unit, want)
	if idx >= 0 {
		line := &sess.cart.Items[idx]
		line.Quantity = want
		line.BasePrice = info.BasePrice
		line.EffectivePrice = info.EffectivePrice
		line.IsWholesale = info.IsWholesale
	} else {
		sess.cart.Items = append(sess.cart.Items, newLine(&product, unit, variationIndex, want, info))
	}
	if wasEmpty {
		s.applyDefaultFees(ctx, &sess.cart)
	}
	return cloneCart(sess.cart), nil
}

// UpdateQuantity sets a line's quantity. Zero or negative removes the line;
// a quantity above the tracked stock is rejected. If the product vanished
// since it was added, the stale line is dropped. The line is re-priced at
// the new quantity.
func (s *Service) UpdateQuantity(ctx context.Context, terminal string, productID int64, variationIndex *int, quantity int) (domain.Cart, error) {
	if s.Store == nil {
		return domain.Cart{}, errors.New("cart: service not configured")
	}
	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	idx := findLine(sess.cart.Items, productID, variationIndex)
	if idx < 0 {
		return domain.Cart{}, ErrLineNotFound
	}
	if quantity <= 0 {
		sess.cart.Items = append(sess.cart.Items[:idx], sess.cart.Items[idx+1:]...)
		s.clearWhenEmpty(&sess.cart)
		return cloneCart(sess.cart), nil
	}

	product, err := s.Store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The product was deleted under us; the line is unsellable.
			s.Logger.Warn().Str("terminal", terminal).Int64("product_id", productID).Msg("dropping cart line for deleted product")
			sess.cart.Items = append(sess.cart.Items[:idx], sess.cart.Items[idx+1:]...)
			s.clearWhenEmpty(&sess.cart)
			return cloneCart(sess.cart), nil
		}
		return domain.Cart{}, fmt.Errorf("cart: load product %d: %w", productID, err)
	}
	unit, err := unitFor(&product, variationIndex)
	if err != nil {
		return domain.Cart{}, err
	}
	if stk := unit.Stock(); stk != nil {
		if *stk == 0 {
			return domain.Cart{}, ErrOutOfStock
		}
		if quantity > *stk {
			return domain.Cart{}, fmt.Errorf("%w: %s has %d left", ErrInsufficientStock, product.Name, *stk)
		}
	}
	info := pricing.Resolve(unit, quantity)
	line := &sess.cart.Items[idx]
	line.Quantity = quantity
	line.BasePrice = info.BasePrice
	line.EffectivePrice = info.EffectivePrice
	line.IsWholesale = info.IsWholesale
	return cloneCart(sess.cart), nil
}

// RemoveLine drops a line from the cart.
func (s *Service) RemoveLine(_ context.Context, terminal string, productID int64, variationIndex *int) (domain.Cart, error) {
	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	idx := findLine(sess.cart.Items, productID, variationIndex)
	if idx < 0 {
		return domain.Cart{}, ErrLineNotFound
	}
	sess.cart.Items = append(sess.cart.Items[:idx], sess.cart.Items[idx+1:]...)
	s.clearWhenEmpty(&sess.cart)
	return cloneCart(sess.cart), nil
}

// Clear empties the terminal's cart including fees and customer.
func (s *Service) Clear(_ context.Context, terminal string) {
	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.cart = domain.Cart{}
}

// SetCustomer attaches a customer contact to the cart.
func (s *Service) SetCustomer(ctx context.Context, terminal string, contactID int64) (domain.Cart, error) {
	if s.Store == nil {
		return domain.Cart{}, errors.New("cart: service not configured")
	}
	contact, err := s.Store.GetContact(ctx, contactID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart: load contact %d: %w", contactID, err)
	}
	if contact.Type != domain.ContactCustomer {
		return domain.Cart{}, ErrNotCustomer
	}
	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.cart.CustomerID = &contact.ID
	sess.cart.CustomerName = contact.Name
	return cloneCart(sess.cart), nil
}

// ClearCustomer detaches the customer.
func (s *Service) ClearCustomer(_ context.Context, terminal string) domain.Cart {
	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.cart.CustomerID = nil
	sess.cart.CustomerName = ""
	return cloneCart(sess.cart)
}

// AddFee snapshots a fee definition onto the cart. Adding an already present
// fee is a no-op, so later edits to the definition never change this cart.
func (s *Service) AddFee(ctx context.Context, terminal string, feeID int64) (domain.Cart, error) {
	if s.Store == nil {
		return domain.Cart{}, errors.New("cart: service not configured")
	}
	fee, err := s.Store.GetFee(ctx, feeID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart: load fee %d: %w", feeID, err)
	}
	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, f := range sess.cart.Fees {
		if f.ID == fee.ID {
			return cloneCart(sess.cart), nil
		}
	}
	fee.Amount = 0
	sess.cart.Fees = append(sess.cart.Fees, fee)
	return cloneCart(sess.cart), nil
}

// RemoveFee drops a fee snapshot from the cart.
func (s *Service) RemoveFee(_ context.Context, terminal string, feeID int64) (domain.Cart, error) {
	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for i, f := range sess.cart.Fees {
		if f.ID == feeID {
			sess.cart.Fees = append(sess.cart.Fees[:i], sess.cart.Fees[i+1:]...)
			return cloneCart(sess.cart), nil
		}
	}
	return domain.Cart{}, ErrLineNotFound
}

// Hold persists the cart as a pending transaction and clears the session.
func (s *Service) Hold(ctx context.Context, terminal string) (domain.PendingTransaction, error) {
	if s.Store == nil {
		return domain.PendingTransaction{}, errors.New("cart: service not configured")
	}
	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.cart.Items) == 0 {
		return domain.PendingTransaction{}, ErrEmptyCart
	}
	pending := domain.PendingTransaction{
		Cart:      cloneCart(sess.cart),
		Timestamp: s.now(),
	}
	id, err := s.Store.PutPending(ctx, &pending)
	if err != nil {
		return domain.PendingTransaction{}, fmt.Errorf("cart: hold: %w", err)
	}
	pending.ID = id
	sess.cart = domain.Cart{}
	s.Logger.Info().Str("terminal", terminal).Int64("pending_id", id).Msg("cart held")
	return pending, nil
}

// Resume restores a held cart into the terminal session, replacing whatever
// is there, and deletes the pending record.
func (s *Service) Resume(ctx context.Context, terminal string, pendingID int64) (domain.Cart, error) {
	if s.Store == nil {
		return domain.Cart{}, errors.New("cart: service not configured")
	}
	pending, err := s.Store.GetPending(ctx, pendingID)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart: load pending %d: %w", pendingID, err)
	}
	if err := s.Store.DeletePending(ctx, pendingID); err != nil {
		return domain.Cart{}, fmt.Errorf("cart: delete pending %d: %w", pendingID, err)
	}
	sess := s.session(terminal)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.cart = cloneCart(pending.Cart)
	s.Logger.Info().Str("terminal", terminal).Int64("pending_id", pendingID).Msg("cart resumed")
	return cloneCart(sess.cart), nil
}

// ListPending lists held carts, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]domain.PendingTransaction, error) {
	if s.Store == nil {
		return nil, errors.New("cart: service not configured")
	}
	return s.Store.ListPending(ctx)
}

// DeletePending discards a held cart without resuming it.
func (s *Service) DeletePending(ctx context.Context, id int64) error {
	if s.Store == nil {
		return errors.New("cart: service not configured")
	}
	return s.Store.DeletePending(ctx, id)
}

// applyDefaultFees snapshots every default fee definition onto a cart that
// just received its first line. Best effort: a store error leaves the cart
// without defaults rather than failing the add.
func (s *Service) applyDefaultFees(ctx context.Context, c *domain.Cart) {
	fees, err := s.Store.ListFees(ctx)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("load default fees")
		return
	}
	for _, f := range fees {
		if !f.IsDefault {
			continue
		}
		f.Amount = 0
		c.Fees = append(c.Fees, f)
	}
}

func (s *Service) clearWhenEmpty(c *domain.Cart) {
	if len(c.Items) == 0 {
		*c = domain.Cart{}
	}
}

// Compute derives totals from a cart. The goods total sums per-line rounded
// amounts; percentage fees are computed on that post-discount goods total
// and rounded per fee.
func Compute(c domain.Cart) Totals {
	var subtotal, itemsTotal domain.Money
	for _, l := range c.Items {
		subtotal += l.BasePrice * domain.Money(l.Quantity)
		itemsTotal += pricing.LineTotal(l.EffectivePrice, l.Quantity)
	}
	t := Totals{
		Subtotal:      subtotal,
		TotalDiscount: subtotal - itemsTotal,
		ItemsTotal:    itemsTotal,
		Total:         itemsTotal,
	}
	for _, f := range c.Fees {
		switch f.Type {
		case domain.FeePercentage:
			f.Amount = pricing.RoundAmount(float64(itemsTotal) * f.Value / 100)
		default:
			f.Amount = pricing.RoundAmount(f.Value)
		}
		t.Fees = append(t.Fees, f)
		t.Total += f.Amount
	}
	return t
}

func unitFor(p *domain.Product, variationIndex *int) (pricing.SellableUnit, error) {
	if variationIndex == nil {
		return pricing.ForProduct(p), nil
	}
	if *variationIndex < 0 || *variationIndex >= len(p.Variations) {
		return pricing.SellableUnit{}, fmt.Errorf("%w: product %d index %d", ErrUnknownVariation, p.ID, *variationIndex)
	}
	return pricing.ForVariation(p, &p.Variations[*variationIndex]), nil
}

func newLine(p *domain.Product, unit pricing.SellableUnit, variationIndex *int, quantity int, info pricing.Info) domain.CartLine {
	line := domain.CartLine{
		ProductID:      p.ID,
		Name:           p.Name,
		Quantity:       quantity,
		Price:          unit.UnitPrice(),
		BasePrice:      info.BasePrice,
		EffectivePrice: info.EffectivePrice,
		IsWholesale:    info.IsWholesale,
		Discount:       unit.Discount(),
	}
	if variationIndex != nil {
		idx := *variationIndex
		line.VariationIndex = &idx
		line.VariationName = p.Variations[idx].Name
	}
	if stk := unit.Stock(); stk != nil {
		v := *stk
		line.Stock = &v
	}
	return line
}

func findLine(items []domain.CartLine, productID int64, variationIndex *int) int {
	for i, l := range items {
		if l.SameUnit(productID, variationIndex) {
			return i
		}
	}
	return -1
}

func cloneCart(c domain.Cart) domain.Cart {
	out := c
	out.Items = make([]domain.CartLine, len(c.Items))
	copy(out.Items, c.Items)
	out.Fees = make([]domain.Fee, len(c.Fees))
	copy(out.Fees, c.Fees)
	if c.CustomerID != nil {
		id := *c.CustomerID
		out.CustomerID = &id
	}
	return out
}
