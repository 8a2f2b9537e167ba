// Package memory implements store.Store with mutex-guarded maps. It backs
// unit tests and demo mode; deep copies on every read and write keep callers
// from aliasing stored documents.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	products     map[int64]domain.Product
	transactions map[int64]domain.Transaction
	contacts     map[int64]domain.Contact
	ledgers      map[int64]domain.LedgerEntry
	fees         map[int64]domain.Fee
	stockHistory map[int64]domain.StockHistory
	pending      map[int64]domain.PendingTransaction
	settings     map[string][]byte
	nextID       map[string]int64
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		products:     map[int64]domain.Product{},
		transactions: map[int64]domain.Transaction{},
		contacts:     map[int64]domain.Contact{},
		ledgers:      map[int64]domain.LedgerEntry{},
		fees:         map[int64]domain.Fee{},
		stockHistory: map[int64]domain.StockHistory{},
		pending:      map[int64]domain.PendingTransaction{},
		settings:     map[string][]byte{},
		nextID:       map[string]int64{},
	}
}

func (s *Store) alloc(collection string) int64 {
	s.nextID[collection]++
	return s.nextID[collection]
}

// clone round-trips through JSON so stored documents and returned values
// never share slices or pointers.
func clone[T any](src T) T {
	raw, err := json.Marshal(src)
	if err != nil {
		panic(err)
	}
	var dst T
	if err := json.Unmarshal(raw, &dst); err != nil {
		panic(err)
	}
	return dst
}

func (s *Store) GetProduct(_ context.Context, id int64) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	return clone(p), nil
}

func (s *Store) PutProduct(_ context.Context, p *domain.Product) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Barcode != "" {
		for id, existing := range s.products {
			if existing.Barcode == p.Barcode && id != p.ID {
				return 0, store.ErrConflict
			}
		}
	}
	if p.ID == 0 {
		p.ID = s.alloc("products")
	}
	s.products[p.ID] = clone(*p)
	return p.ID, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProductByBarcode(_ context.Context, barcode string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if p.Barcode != "" && p.Barcode == barcode {
			return clone(p), nil
		}
	}
	return domain.Product{}, store.ErrNotFound
}

func (s *Store) GetTransaction(_ context.Context, id int64) (domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return domain.Transaction{}, store.ErrNotFound
	}
	return clone(t), nil
}

func (s *Store) PutTransaction(_ context.Context, t *domain.Transaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.alloc("transactions")
	}
	s.transactions[t.ID] = clone(*t)
	return t.ID, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.transactions, id)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, from, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Transaction, 0)
	for _, t := range s.transactions {
		if !from.IsZero() && t.Date.Before(from) {
			continue
		}
		if !to.IsZero() && t.Date.After(to) {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) GetContact(_ context.Context, id int64) (domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[id]
	if !ok {
		return domain.Contact{}, store.ErrNotFound
	}
	return clone(c), nil
}

func (s *Store) PutContact(_ context.Context, c *domain.Contact) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Barcode != "" {
		for id, existing := range s.contacts {
			if existing.Barcode == c.Barcode && id != c.ID {
				return 0, store.ErrConflict
			}
		}
	}
	if c.ID == 0 {
		c.ID = s.alloc("contacts")
	}
	s.contacts[c.ID] = clone(*c)
	return c.ID, nil
}

func (s *Store) DeleteContact(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.contacts, id)
	return nil
}

func (s *Store) ListContactsByType(_ context.Context, kind domain.ContactType) ([]domain.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Contact, 0)
	for _, c := range s.contacts {
		if kind == "" || c.Type == kind {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetLedgerEntry(_ context.Context, id int64) (domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.ledgers[id]
	if !ok {
		return domain.LedgerEntry{}, store.ErrNotFound
	}
	return clone(e), nil
}

func (s *Store) PutLedgerEntry(_ context.Context, e *domain.LedgerEntry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.alloc("ledgers")
	}
	s.ledgers[e.ID] = clone(*e)
	return e.ID, nil
}

func (s *Store) DeleteLedgerEntry(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ledgers[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.ledgers, id)
	return nil
}

func (s *Store) ListLedgersByContact(_ context.Context, contactID int64) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.LedgerEntry, 0)
	for _, e := range s.ledgers {
		if e.ContactID == contactID {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) GetFee(_ context.Context, id int64) (domain.Fee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fees[id]
	if !ok {
		return domain.Fee{}, store.ErrNotFound
	}
	return clone(f), nil
}

func (s *Store) PutFee(_ context.Context, f *domain.Fee) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == 0 {
		f.ID = s.alloc("fees")
	}
	s.fees[f.ID] = clone(*f)
	return f.ID, nil
}

func (s *Store) DeleteFee(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fees[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.fees, id)
	return nil
}

func (s *Store) ListFees(_ context.Context) ([]domain.Fee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Fee, 0, len(s.fees))
	for _, f := range s.fees {
		out = append(out, clone(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) AppendStockHistory(_ context.Context, h *domain.StockHistory) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.ID == 0 {
		h.ID = s.alloc("stock_history")
	}
	s.stockHistory[h.ID] = clone(*h)
	return h.ID, nil
}

func (s *Store) ListStockHistory(_ context.Context, productID int64) ([]domain.StockHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StockHistory, 0)
	for _, h := range s.stockHistory {
		if productID == 0 || h.ProductID == productID {
			out = append(out, clone(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetPending(_ context.Context, id int64) (domain.PendingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pending[id]
	if !ok {
		return domain.PendingTransaction{}, store.ErrNotFound
	}
	return clone(p), nil
}

func (s *Store) PutPending(_ context.Context, p *domain.PendingTransaction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.alloc("pending_transactions")
	}
	s.pending[p.ID] = clone(*p)
	return p.ID, nil
}

func (s *Store) DeletePending(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.pending, id)
	return nil
}

func (s *Store) ListPending(_ context.Context) ([]domain.PendingTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.PendingTransaction, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (s *Store) GetSetting(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) PutSetting(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.settings[key] = v
	return nil
}
