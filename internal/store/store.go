// Package store defines the document persistence consumed by the POS core.
// Collections are keyed by auto-assigned int64 ids and offer single-collection
// atomicity only; cross-entity consistency is the caller's concern.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/noah-isme/kasir-api/internal/domain"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// ErrConflict indicates a uniqueness violation, e.g. a duplicate barcode.
var ErrConflict = errors.New("store: conflict")

// Store is the full persistence surface. Put methods assign and return the
// id when the record carries a zero id, and overwrite in place otherwise.
type Store interface {
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	PutProduct(ctx context.Context, p *domain.Product) (int64, error)
	DeleteProduct(ctx context.Context, id int64) error
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error)

	GetTransaction(ctx context.Context, id int64) (domain.Transaction, error)
	PutTransaction(ctx context.Context, t *domain.Transaction) (int64, error)
	DeleteTransaction(ctx context.Context, id int64) error
	ListTransactions(ctx context.Context, from, to time.Time) ([]domain.Transaction, error)

	GetContact(ctx context.Context, id int64) (domain.Contact, error)
	PutContact(ctx context.Context, c *domain.Contact) (int64, error)
	DeleteContact(ctx context.Context, id int64) error
	ListContactsByType(ctx context.Context, kind domain.ContactType) ([]domain.Contact, error)

	GetLedgerEntry(ctx context.Context, id int64) (domain.LedgerEntry, error)
	PutLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (int64, error)
	DeleteLedgerEntry(ctx context.Context, id int64) error
	ListLedgersByContact(ctx context.Context, contactID int64) ([]domain.LedgerEntry, error)

	GetFee(ctx context.Context, id int64) (domain.Fee, error)
	PutFee(ctx context.Context, f *domain.Fee) (int64, error)
	DeleteFee(ctx context.Context, id int64) error
	ListFees(ctx context.Context) ([]domain.Fee, error)

	AppendStockHistory(ctx context.Context, h *domain.StockHistory) (int64, error)
	ListStockHistory(ctx context.Context, productID int64) ([]domain.StockHistory, error)

	GetPending(ctx context.Context, id int64) (domain.PendingTransaction, error)
	PutPending(ctx context.Context, p *domain.PendingTransaction) (int64, error)
	DeletePending(ctx context.Context, id int64) error
	ListPending(ctx context.Context) ([]domain.PendingTransaction, error)

	GetSetting(ctx context.Context, key string) ([]byte, error)
	PutSetting(ctx context.Context, key string, value []byte) error
}
