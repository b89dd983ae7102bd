/*
store.go - Persistence interfaces for products, transactions and line items

PURPOSE:
  Defines the boundary between the ledger engine and the database. The
  engine only needs CRUD on transactions/line items, a few catalog lookups,
  aggregate sums over locked line items, and an atomic unit of work.

KEY INTERFACES:
  Store:    Reads, writes and aggregates (usable inside or outside a unit of work)
  TxStore:  Store + WithTx for atomic multi-statement work

CONCURRENCY CONTRACT:
  Inside WithTx, the sequence
      LockProducts -> SumLockedUnits ... -> write status
  must not interleave with another unit of work that locks the same products,
  and the sequence
      LockTransaction -> GetTransaction ... -> write
  must not interleave with another unit of work on the same transaction.
  Each implementation documents how it guarantees this:
  - memory:   WithTx holds the store-wide write mutex
  - sqlite:   store mutex + BEGIN IMMEDIATE
  - postgres: SELECT ... FOR UPDATE on the transaction and product rows

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for testing
  - store/sqlite:           SQLite (default)
  - store/postgres:         Postgres
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// Store persists the catalog and the ledger.
type Store interface {
	// GetProduct returns a *NotFoundError if the product does not exist.
	GetProduct(ctx context.Context, id ProductID) (Product, error)

	// FindProductByIdentity returns a *NotFoundError when no product matches.
	FindProductByIdentity(ctx context.Context, identity ProductIdentity) (Product, error)

	// InsertProduct fails with *IdentityConflictError on a duplicate identity.
	InsertProduct(ctx context.Context, p Product) error

	// InsertProductIfAbsent inserts p unless a product with the same identity
	// exists, and returns whichever row holds the identity afterwards.
	InsertProductIfAbsent(ctx context.Context, p Product) (Product, error)

	// UpdateProduct rewrites display fields. *IdentityConflictError on collision.
	UpdateProduct(ctx context.Context, p Product) error

	// ListProducts returns every product ordered by name, category, lot.
	ListProducts(ctx context.Context) ([]Product, error)

	// GetTransaction returns the transaction with its line items joined to
	// product display fields, or a *NotFoundError.
	GetTransaction(ctx context.Context, kind Kind, id TransactionID) (Transaction, error)

	// InsertTransaction writes the header and its line items.
	InsertTransaction(ctx context.Context, tx Transaction) error

	// UpdateTransaction rewrites header fields and status. Line items untouched.
	UpdateTransaction(ctx context.Context, tx Transaction) error

	// ReplaceLineItems deletes every line item of id and inserts items.
	ReplaceLineItems(ctx context.Context, id TransactionID, items []LineItem) error

	// SetStatus flips the status alone.
	SetStatus(ctx context.Context, kind Kind, id TransactionID, status Status, at time.Time) error

	// ListTransactions returns transactions (any status) matching the filter.
	ListTransactions(ctx context.Context, filter HistoryFilter) ([]Transaction, error)

	// SumLockedUnits sums the units of locked transactions of kind for the
	// product, skipping line items of exclude (empty = no exclusion).
	SumLockedUnits(ctx context.Context, productID ProductID, kind Kind, exclude TransactionID) (int64, error)

	// LockedTotals returns locked intake/outtake sums for every product that
	// has at least one locked movement.
	LockedTotals(ctx context.Context) (map[ProductID]Totals, error)

	// LockProducts takes an exclusive hold on the given products until the
	// surrounding unit of work ends. A no-op for stores that serialize writers.
	LockProducts(ctx context.Context, ids []ProductID) error

	// LockTransaction holds the transaction row until the unit of work ends,
	// so its status cannot change between read and write. Returns a
	// *NotFoundError when no transaction of kind has id.
	LockTransaction(ctx context.Context, kind Kind, id TransactionID) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Totals are locked unit sums per kind for one product.
type Totals struct {
	Intake  int64
	Outtake int64
}

func (t Totals) Balance() int64 { return t.Intake - t.Outtake }

// HistoryFilter selects transactions for the history listing. Zero times
// mean unbounded; an empty Kind means both kinds.
type HistoryFilter struct {
	Kind Kind
	From time.Time
	To   time.Time
}

// Matches reports whether tx passes the filter. Stores that cannot push
// the filter down use it directly.
func (f HistoryFilter) Matches(tx Transaction) bool {
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	if !f.From.IsZero() && tx.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.Date.After(f.To) {
		return false
	}
	return true
}
