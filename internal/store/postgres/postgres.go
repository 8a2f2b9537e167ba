// Package postgres implements store.Store on PostgreSQL with one jsonb
// document table per collection. Expression indexes serve the index queries
// the core needs; the documents stay schema-free so legacy records survive
// untouched until NormalizeTransaction repairs them at read time.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/kasir-api/internal/domain"
	"github.com/noah-isme/kasir-api/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	Pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

// Migrate applies the embedded schema migrations.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	// Route through the pgx/v5 migrate driver regardless of URL scheme.
	url := databaseURL
	for _, prefix := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(url, prefix) {
			url = "pgx5://" + strings.TrimPrefix(url, prefix)
			break
		}
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() {
		_, _ = m.Close()
	}()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Store) nextID(ctx context.Context, table string) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx,
		"SELECT nextval(pg_get_serial_sequence($1, 'id'))", table).Scan(&id)
	return id, err
}

func (s *Store) getDoc(ctx context.Context, table string, id int64, dst any) error {
	var raw []byte
	err := s.Pool.QueryRow(ctx,
		fmt.Sprintf("SELECT doc FROM %s WHERE id = $1", table), id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (s *Store) putDoc(ctx context.Context, table string, id int64, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, fmt.Sprintf(
		"INSERT INTO %s (id, doc) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc", table),
		id, raw)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) deleteDoc(ctx context.Context, table string, id int64) error {
	tag, err := s.Pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", table), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func listDocs[T any](ctx context.Context, s *Store, query string, args ...any) ([]T, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	var p domain.Product
	if err := s.getDoc(ctx, "products", id, &p); err != nil {
		return domain.Product{}, err
	}
	domain.NormalizeProduct(&p)
	return p, nil
}

func (s *Store) PutProduct(ctx context.Context, p *domain.Product) (int64, error) {
	if p.ID == 0 {
		id, err := s.nextID(ctx, "products")
		if err != nil {
			return 0, err
		}
		p.ID = id
	}
	return p.ID, s.putDoc(ctx, "products", p.ID, p)
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	return s.deleteDoc(ctx, "products", id)
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := listDocs[domain.Product](ctx, s, "SELECT doc FROM products ORDER BY id")
	if err != nil {
		return nil, err
	}
	for i := range products {
		domain.NormalizeProduct(&products[i])
	}
	return products, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	var raw []byte
	err := s.Pool.QueryRow(ctx,
		"SELECT doc FROM products WHERE doc->>'barcode' = $1", barcode).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, store.ErrNotFound
		}
		return domain.Product{}, err
	}
	var p domain.Product
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.Product{}, err
	}
	domain.NormalizeProduct(&p)
	return p, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (domain.Transaction, error) {
	var t domain.Transaction
	if err := s.getDoc(ctx, "transactions", id, &t); err != nil {
		return domain.Transaction{}, err
	}
	return t, nil
}

func (s *Store) PutTransaction(ctx context.Context, t *domain.Transaction) (int64, error) {
	if t.ID == 0 {
		id, err := s.nextID(ctx, "transactions")
		if err != nil {
			return 0, err
		}
		t.ID = id
	}
	return t.ID, s.putDoc(ctx, "transactions", t.ID, t)
}

func (s *Store) DeleteTransaction(ctx context.Context, id int64) error {
	return s.deleteDoc(ctx, "transactions", id)
}

func (s *Store) ListTransactions(ctx context.Context, from, to time.Time) ([]domain.Transaction, error) {
	query := "SELECT doc FROM transactions"
	args := []any{}
	switch {
	case !from.IsZero() && !to.IsZero():
		query += " WHERE (doc->>'date')::timestamptz BETWEEN $1 AND $2"
		args = append(args, from, to)
	case !from.IsZero():
		query += " WHERE (doc->>'date')::timestamptz >= $1"
		args = append(args, from)
	case !to.IsZero():
		query += " WHERE (doc->>'date')::timestamptz <= $1"
		args = append(args, to)
	}
	query += " ORDER BY (doc->>'date')::timestamptz"
	return listDocs[domain.Transaction](ctx, s, query, args...)
}

func (s *Store) GetContact(ctx context.Context, id int64) (domain.Contact, error) {
	var c domain.Contact
	if err := s.getDoc(ctx, "contacts", id, &c); err != nil {
		return domain.Contact{}, err
	}
	return c, nil
}

func (s *Store) PutContact(ctx context.Context, c *domain.Contact) (int64, error) {
	if c.ID == 0 {
		id, err := s.nextID(ctx, "contacts")
		if err != nil {
			return 0, err
		}
		c.ID = id
	}
	return c.ID, s.putDoc(ctx, "contacts", c.ID, c)
}

func (s *Store) DeleteContact(ctx context.Context, id int64) error {
	return s.deleteDoc(ctx, "contacts", id)
}

func (s *Store) ListContactsByType(ctx context.Context, kind domain.ContactType) ([]domain.Contact, error) {
	if kind == "" {
		return listDocs[domain.Contact](ctx, s, "SELECT doc FROM contacts ORDER BY id")
	}
	return listDocs[domain.Contact](ctx, s,
		"SELECT doc FROM contacts WHERE doc->>'type' = $1 ORDER BY id", string(kind))
}

func (s *Store) GetLedgerEntry(ctx context.Context, id int64) (domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	if err := s.getDoc(ctx, "ledgers", id, &e); err != nil {
		return domain.LedgerEntry{}, err
	}
	return e, nil
}

func (s *Store) PutLedgerEntry(ctx context.Context, e *domain.LedgerEntry) (int64, error) {
	if e.ID == 0 {
		id, err := s.nextID(ctx, "ledgers")
		if err != nil {
			return 0, err
		}
		e.ID = id
	}
	return e.ID, s.putDoc(ctx, "ledgers", e.ID, e)
}

func (s *Store) DeleteLedgerEntry(ctx context.Context, id int64) error {
	return s.deleteDoc(ctx, "ledgers", id)
}

func (s *Store) ListLedgersByContact(ctx context.Context, contactID int64) ([]domain.LedgerEntry, error) {
	return listDocs[domain.LedgerEntry](ctx, s,
		"SELECT doc FROM ledgers WHERE (doc->>'contactId')::bigint = $1 ORDER BY (doc->>'date')::timestamptz",
		contactID)
}

func (s *Store) GetFee(ctx context.Context, id int64) (domain.Fee, error) {
	var f domain.Fee
	if err := s.getDoc(ctx, "fees", id, &f); err != nil {
		return domain.Fee{}, err
	}
	return f, nil
}

func (s *Store) PutFee(ctx context.Context, f *domain.Fee) (int64, error) {
	if f.ID == 0 {
		id, err := s.nextID(ctx, "fees")
		if err != nil {
			return 0, err
		}
		f.ID = id
	}
	return f.ID, s.putDoc(ctx, "fees", f.ID, f)
}

func (s *Store) DeleteFee(ctx context.Context, id int64) error {
	return s.deleteDoc(ctx, "fees", id)
}

func (s *Store) ListFees(ctx context.Context) ([]domain.Fee, error) {
	return listDocs[domain.Fee](ctx, s, "SELECT doc FROM fees ORDER BY id")
}

func (s *Store) AppendStockHistory(ctx context.Context, h *domain.StockHistory) (int64, error) {
	if h.ID == 0 {
		id, err := s.nextID(ctx, "stock_history")
		if err != nil {
			return 0, err
		}
		h.ID = id
	}
	return h.ID, s.putDoc(ctx, "stock_history", h.ID, h)
}

func (s *Store) ListStockHistory(ctx context.Context, productID int64) ([]domain.StockHistory, error) {
	if productID == 0 {
		return listDocs[domain.StockHistory](ctx, s, "SELECT doc FROM stock_history ORDER BY id")
	}
	return listDocs[domain.StockHistory](ctx, s,
		"SELECT doc FROM stock_history WHERE (doc->>'productId')::bigint = $1 ORDER BY id", productID)
}

func (s *Store) GetPending(ctx context.Context, id int64) (domain.PendingTransaction, error) {
	var p domain.PendingTransaction
	if err := s.getDoc(ctx, "pending_transactions", id, &p); err != nil {
		return domain.PendingTransaction{}, err
	}
	return p, nil
}

func (s *Store) PutPending(ctx context.Context, p *domain.PendingTransaction) (int64, error) {
	if p.ID == 0 {
		id, err := s.nextID(ctx, "pending_transactions")
		if err != nil {
			return 0, err
		}
		p.ID = id
	}
	return p.ID, s.putDoc(ctx, "pending_transactions", p.ID, p)
}

func (s *Store) DeletePending(ctx context.Context, id int64) error {
	return s.deleteDoc(ctx, "pending_transactions", id)
}

func (s *Store) ListPending(ctx context.Context) ([]domain.PendingTransaction, error) {
	return listDocs[domain.PendingTransaction](ctx, s,
		"SELECT doc FROM pending_transactions ORDER BY (doc->>'timestamp')::timestamptz DESC")
}

func (s *Store) GetSetting(ctx context.Context, key string) ([]byte, error) {
	var raw []byte
	err := s.Pool.QueryRow(ctx,
		"SELECT value FROM settings WHERE key = $1", key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return raw, nil
}

func (s *Store) PutSetting(ctx context.Context, key string, value []byte) error {
	_, err := s.Pool.Exec(ctx,
		"INSERT INTO settings (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		key, value)
	return err
}
