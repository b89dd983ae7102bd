/*
Package sqlstore implements ledger.TxStore over database/sql.

PURPOSE:
  SQLite and PostgreSQL share one schema and one set of queries. The
  differences that matter are captured in a Dialect:
  - placeholder style (? vs $1)
  - row locks (SELECT ... FOR UPDATE) vs a serialized writer
  - how the driver reports a unique violation

KEY TABLES:
  products:     Catalog, UNIQUE(name, category, lot)
  transactions: Intake/outtake headers with kind + status columns
  line_items:   (transaction, product, units > 0), ON DELETE CASCADE

TIME ENCODING:
  Dates are stored as fixed-width UTC text (timeLayout), so string
  comparison in SQL orders them chronologically on both engines.

CONCURRENCY:
  WithTx runs fn inside one *sql.Tx. Dialects without row locks set
  SerializeWriters, and WithTx then also holds a store mutex so two units
  of work never interleave their admission reads.

SEE ALSO:
  - ledger/store.go: Interface definitions
  - store/sqlite, store/postgres: Driver wiring
*/
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/warp/stock-ledger/ledger"
)

var _ ledger.TxStore = (*Store)(nil)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Dialect describes the SQL engine behind a Store.
type Dialect struct {
	// Name is used in error messages only.
	Name string

	// Numbered placeholders ($1, $2, ...) instead of ?.
	Numbered bool

	// RowLocks enables SELECT ... FOR UPDATE in LockProducts and LockTransaction.
	RowLocks bool

	// SerializeWriters makes WithTx hold a process-wide mutex.
	SerializeWriters bool

	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation func(error) bool
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) uniqueViolation(err error) bool {
	return err != nil && d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// STORE
// =============================================================================

// Store is a ledger.TxStore backed by a *sql.DB.
type Store struct {
	conn
	db *sql.DB
	mu sync.Mutex
}

// conn runs every ledger.Store query against q. Store uses the pool; the
// unit of work view uses the open *sql.Tx.
type conn struct {
	q querier
	d Dialect
}

// Open wraps db and creates the schema if needed.
func Open(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{conn: conn{q: db, d: d}, db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate %s database: %w", d.Name, err)
	}
	return s, nil
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		lot TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE (name, category, lot)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL CHECK (kind IN ('intake', 'outtake')),
		date TEXT NOT NULL,
		notes TEXT,
		customer TEXT,
		status TEXT NOT NULL CHECK (status IN ('draft', 'locked')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_kind_status
		ON transactions(kind, status)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_date
		ON transactions(date)`,
	`CREATE TABLE IF NOT EXISTS line_items (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL REFERENCES products(id),
		units BIGINT NOT NULL CHECK (units > 0),
		position INTEGER NOT NULL
	)`,
	// Hot path: balance sums per product.
	`CREATE INDEX IF NOT EXISTS idx_line_items_product
		ON line_items(product_id)`,
	`CREATE INDEX IF NOT EXISTS idx_line_items_transaction
		ON line_items(transaction_id, position)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if s.d.SerializeWriters {
		s.mu.Lock()
		defer s.mu.Unlock()
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx, d: s.d}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

const productColumns = `id, name, category, lot, created_at, updated_at`

func (c *conn) GetProduct(ctx context.Context, id ledger.ProductID) (ledger.Product, error) {
	p, err := c.queryProduct(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Product{}, &ledger.NotFoundError{Resource: "product", ID: string(id)}
	}
	return p, err
}

func (c *conn) FindProductByIdentity(ctx context.Context, identity ledger.ProductIdentity) (ledger.Product, error) {
	p, err := c.queryProduct(ctx,
		`SELECT `+productColumns+` FROM products WHERE name = ? AND category = ? AND lot = ?`,
		identity.Name, identity.Category, identity.Lot)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Product{}, &ledger.NotFoundError{Resource: "product", ID: identity.Name + "/" + identity.Category + "/" + identity.Lot}
	}
	return p, err
}

func (c *conn) InsertProduct(ctx context.Context, p ledger.Product) error {
	_, err := c.exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Category, p.Lot, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if c.d.uniqueViolation(err) {
		return &ledger.IdentityConflictError{Identity: p.Identity()}
	}
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (c *conn) InsertProductIfAbsent(ctx context.Context, p ledger.Product) (ledger.Product, error) {
	_, err := c.exec(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (name, category, lot) DO NOTHING`,
		p.ID, p.Name, p.Category, p.Lot, formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return ledger.Product{}, fmt.Errorf("failed to upsert product: %w", err)
	}
	return c.FindProductByIdentity(ctx, p.Identity())
}

func (c *conn) UpdateProduct(ctx context.Context, p ledger.Product) error {
	res, err := c.exec(ctx, `
		UPDATE products SET name = ?, category = ?, lot = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Category, p.Lot, formatTime(p.UpdatedAt), p.ID)
	if c.d.uniqueViolation(err) {
		return &ledger.IdentityConflictError{Identity: p.Identity()}
	}
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return requireRow(res, &ledger.NotFoundError{Resource: "product", ID: string(p.ID)})
}

func (c *conn) ListProducts(ctx context.Context) ([]ledger.Product, error) {
	rows, err := c.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, category, lot, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []ledger.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// LockProducts takes row locks in id order. Without row locks the dialect
// serializes writers in WithTx instead.
func (c *conn) LockProducts(ctx context.Context, ids []ledger.ProductID) error {
	if !c.d.RowLocks {
		return nil
	}
	for _, id := range ids {
		var locked string
		err := c.q.QueryRowContext(ctx, c.d.Rebind(`SELECT id FROM products WHERE id = ? FOR UPDATE`), id).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return &ledger.NotFoundError{Resource: "product", ID: string(id)}
		}
		if err != nil {
			return fmt.Errorf("failed to lock product %s: %w", id, err)
		}
	}
	return nil
}

// LockTransaction takes the transaction's row lock under RowLocks and
// checks existence otherwise.
func (c *conn) LockTransaction(ctx context.Context, kind ledger.Kind, id ledger.TransactionID) error {
	query := `SELECT id FROM transactions WHERE id = ? AND kind = ?`
	if c.d.RowLocks {
		query += ` FOR UPDATE`
	}
	var locked string
	err := c.q.QueryRowContext(ctx, c.d.Rebind(query), id, kind).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return &ledger.NotFoundError{Resource: string(kind), ID: string(id)}
	}
	if err != nil {
		return fmt.Errorf("failed to lock %s transaction %s: %w", kind, id, err)
	}
	return nil
}

func (c *conn) queryProduct(ctx context.Context, query string, args ...any) (ledger.Product, error) {
	return scanProduct(c.q.QueryRowContext(ctx, c.d.Rebind(query), args...))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner) (ledger.Product, error) {
	var (
		p                    ledger.Product
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Lot, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("failed to scan product: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, kind, date, notes, customer, status, created_at, updated_at`

func (c *conn) GetTransaction(ctx context.Context, kind ledger.Kind, id ledger.TransactionID) (ledger.Transaction, error) {
	row := c.q.QueryRowContext(ctx,
		c.d.Rebind(`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND kind = ?`),
		id, kind)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, &ledger.NotFoundError{Resource: string(kind), ID: string(id)}
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tx.LineItems, err = c.loadLineItems(ctx, id); err != nil {
		return ledger.Transaction{}, err
	}
	return tx, nil
}

func (c *conn) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	_, err := c.exec(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.Kind, formatTime(tx.Date), nullString(tx.Notes), nullString(tx.Customer),
		tx.Status, formatTime(tx.CreatedAt), formatTime(tx.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return c.insertLineItems(ctx, tx.ID, tx.LineItems)
}

func (c *conn) UpdateTransaction(ctx context.Context, tx ledger.Transaction) error {
	res, err := c.exec(ctx, `
		UPDATE transactions
		SET date = ?, notes = ?, customer = ?, status = ?, updated_at = ?
		WHERE id = ? AND kind = ?`,
		formatTime(tx.Date), nullString(tx.Notes), nullString(tx.Customer),
		tx.Status, formatTime(tx.UpdatedAt), tx.ID, tx.Kind)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return requireRow(res, &ledger.NotFoundError{Resource: string(tx.Kind), ID: string(tx.ID)})
}

func (c *conn) ReplaceLineItems(ctx context.Context, id ledger.TransactionID, items []ledger.LineItem) error {
	if _, err := c.exec(ctx, `DELETE FROM line_items WHERE transaction_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete line items: %w", err)
	}
	return c.insertLineItems(ctx, id, items)
}

func (c *conn) SetStatus(ctx context.Context, kind ledger.Kind, id ledger.TransactionID, status ledger.Status, at time.Time) error {
	res, err := c.exec(ctx,
		`UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND kind = ?`,
		status, formatTime(at), id, kind)
	if err != nil {
		return fmt.Errorf("failed to set status: %w", err)
	}
	return requireRow(res, &ledger.NotFoundError{Resource: string(kind), ID: string(id)})
}

func (c *conn) ListTransactions(ctx context.Context, filter ledger.HistoryFilter) ([]ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if !filter.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, formatTime(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, formatTime(filter.To))
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY date DESC, id DESC`

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Close before issuing more queries: a *sql.Tx has one connection.
	rows.Close()

	for i := range txs {
		if txs[i].LineItems, err = c.loadLineItems(ctx, txs[i].ID); err != nil {
			return nil, err
		}
	}
	return txs, nil
}

func scanTransaction(row scanner) (ledger.Transaction, error) {
	var (
		tx                         ledger.Transaction
		date, createdAt, updatedAt string
		notes, customer            sql.NullString
	)
	err := row.Scan(&tx.ID, &tx.Kind, &date, &notes, &customer, &tx.Status, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx, err
		}
		return tx, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.Date = parseTime(date)
	tx.Notes = notes.String
	tx.Customer = customer.String
	tx.CreatedAt = parseTime(createdAt)
	tx.UpdatedAt = parseTime(updatedAt)
	return tx, nil
}

// =============================================================================
// LINE ITEMS
// =============================================================================

func (c *conn) insertLineItems(ctx context.Context, id ledger.TransactionID, items []ledger.LineItem) error {
	for i, item := range items {
		_, err := c.exec(ctx, `
			INSERT INTO line_items (id, transaction_id, product_id, units, position)
			VALUES (?, ?, ?, ?, ?)`,
			item.ID, id, item.ProductID, item.Units, i)
		if err != nil {
			return fmt.Errorf("failed to insert line item %d: %w", i, err)
		}
	}
	return nil
}

func (c *conn) loadLineItems(ctx context.Context, id ledger.TransactionID) ([]ledger.LineItem, error) {
	rows, err := c.query(ctx, `
		SELECT li.id, li.product_id, li.units, p.name, p.category, p.lot
		FROM line_items li
		JOIN products p ON p.id = li.product_id
		WHERE li.transaction_id = ?
		ORDER BY li.position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query line items: %w", err)
	}
	defer rows.Close()

	items := []ledger.LineItem{}
	for rows.Next() {
		var item ledger.LineItem
		if err := rows.Scan(&item.ID, &item.ProductID, &item.Units, &item.ProductName, &item.Category, &item.Lot); err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// BALANCES
// =============================================================================

func (c *conn) SumLockedUnits(ctx context.Context, productID ledger.ProductID, kind ledger.Kind, exclude ledger.TransactionID) (int64, error) {
	var sum int64
	err := c.q.QueryRowContext(ctx, c.d.Rebind(`
		SELECT CAST(COALESCE(SUM(li.units), 0) AS BIGINT)
		FROM line_items li
		JOIN transactions t ON t.id = li.transaction_id
		WHERE li.product_id = ? AND t.kind = ? AND t.status = 'locked' AND t.id <> ?`),
		productID, kind, exclude).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum %s units: %w", kind, err)
	}
	return sum, nil
}

func (c *conn) LockedTotals(ctx context.Context) (map[ledger.ProductID]ledger.Totals, error) {
	rows, err := c.query(ctx, `
		SELECT li.product_id, t.kind, CAST(SUM(li.units) AS BIGINT)
		FROM line_items li
		JOIN transactions t ON t.id = li.transaction_id
		WHERE t.status = 'locked'
		GROUP BY li.product_id, t.kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	out := make(map[ledger.ProductID]ledger.Totals)
	for rows.Next() {
		var (
			id   ledger.ProductID
			kind ledger.Kind
			sum  int64
		)
		if err := rows.Scan(&id, &kind, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan totals: %w", err)
		}
		t := out[id]
		if kind == ledger.KindIntake {
			t.Intake = sum
		} else {
			t.Outtake = sum
		}
		out[id] = t
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.Rebind(query), args...)
}

func (c *conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.Rebind(query), args...)
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}
