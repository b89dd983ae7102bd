// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/stock-ledger/ledger"
)

var _ ledger.TxStore = (*Memory)(nil)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps the catalog and ledger in maps. WithTx holds the write lock
// for the whole unit of work, so units of work are fully serialized.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	products     map[ledger.ProductID]ledger.Product
	identities   map[ledger.ProductIdentity]ledger.ProductID
	transactions map[ledger.TransactionID]ledger.Transaction
}

func newState() *state {
	return &state{
		products:     make(map[ledger.ProductID]ledger.Product),
		identities:   make(map[ledger.ProductIdentity]ledger.ProductID),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

// =============================================================================
// LOCKED ACCESSORS (ledger.Store interface)
// =============================================================================

func (m *Memory) GetProduct(_ context.Context, id ledger.ProductID) (ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getProduct(id)
}

func (m *Memory) FindProductByIdentity(_ context.Context, identity ledger.ProductIdentity) (ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.findProductByIdentity(identity)
}

func (m *Memory) InsertProduct(_ context.Context, p ledger.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertProduct(p)
}

func (m *Memory) InsertProductIfAbsent(_ context.Context, p ledger.Product) (ledger.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertProductIfAbsent(p)
}

func (m *Memory) UpdateProduct(_ context.Context, p ledger.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateProduct(p)
}

func (m *Memory) ListProducts(_ context.Context) ([]ledger.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listProducts(), nil
}

func (m *Memory) GetTransaction(_ context.Context, kind ledger.Kind, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getTransaction(kind, id)
}

func (m *Memory) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.insertTransaction(tx)
}

func (m *Memory) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateTransaction(tx)
}

func (m *Memory) ReplaceLineItems(_ context.Context, id ledger.TransactionID, items []ledger.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.replaceLineItems(id, items)
}

func (m *Memory) SetStatus(_ context.Context, kind ledger.Kind, id ledger.TransactionID, status ledger.Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.setStatus(kind, id, status, at)
}

func (m *Memory) ListTransactions(_ context.Context, filter ledger.HistoryFilter) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listTransactions(filter), nil
}

func (m *Memory) SumLockedUnits(_ context.Context, productID ledger.ProductID, kind ledger.Kind, exclude ledger.TransactionID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.sumLockedUnits(productID, kind, exclude), nil
}

func (m *Memory) LockedTotals(_ context.Context) (map[ledger.ProductID]ledger.Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.lockedTotals(), nil
}

// LockProducts is a no-op: WithTx already excludes every other writer.
func (m *Memory) LockProducts(context.Context, []ledger.ProductID) error { return nil }

// LockTransaction only checks existence, for the same reason.
func (m *Memory) LockTransaction(_ context.Context, kind ledger.Kind, id ledger.TransactionID) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, err := m.st.getTransaction(kind, id)
	return err
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txMemoryView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// txMemoryView is the Store handed to WithTx callbacks. The parent's write
// lock is already held, so it touches state directly.
type txMemoryView struct {
	st *state
}

func (v *txMemoryView) GetProduct(_ context.Context, id ledger.ProductID) (ledger.Product, error) {
	return v.st.getProduct(id)
}

func (v *txMemoryView) FindProductByIdentity(_ context.Context, identity ledger.ProductIdentity) (ledger.Product, error) {
	return v.st.findProductByIdentity(identity)
}

func (v *txMemoryView) InsertProduct(_ context.Context, p ledger.Product) error {
	return v.st.insertProduct(p)
}

func (v *txMemoryView) InsertProductIfAbsent(_ context.Context, p ledger.Product) (ledger.Product, error) {
	return v.st.insertProductIfAbsent(p)
}

func (v *txMemoryView) UpdateProduct(_ context.Context, p ledger.Product) error {
	return v.st.updateProduct(p)
}

func (v *txMemoryView) ListProducts(context.Context) ([]ledger.Product, error) {
	return v.st.listProducts(), nil
}

func (v *txMemoryView) GetTransaction(_ context.Context, kind ledger.Kind, id ledger.TransactionID) (ledger.Transaction, error) {
	return v.st.getTransaction(kind, id)
}

func (v *txMemoryView) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.st.insertTransaction(tx)
}

func (v *txMemoryView) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.st.updateTransaction(tx)
}

func (v *txMemoryView) ReplaceLineItems(_ context.Context, id ledger.TransactionID, items []ledger.LineItem) error {
	return v.st.replaceLineItems(id, items)
}

func (v *txMemoryView) SetStatus(_ context.Context, kind ledger.Kind, id ledger.TransactionID, status ledger.Status, at time.Time) error {
	return v.st.setStatus(kind, id, status, at)
}

func (v *txMemoryView) ListTransactions(_ context.Context, filter ledger.HistoryFilter) ([]ledger.Transaction, error) {
	return v.st.listTransactions(filter), nil
}

func (v *txMemoryView) SumLockedUnits(_ context.Context, productID ledger.ProductID, kind ledger.Kind, exclude ledger.TransactionID) (int64, error) {
	return v.st.sumLockedUnits(productID, kind, exclude), nil
}

func (v *txMemoryView) LockedTotals(context.Context) (map[ledger.ProductID]ledger.Totals, error) {
	return v.st.lockedTotals(), nil
}

func (v *txMemoryView) LockProducts(context.Context, []ledger.ProductID) error { return nil }

func (v *txMemoryView) LockTransaction(_ context.Context, kind ledger.Kind, id ledger.TransactionID) error {
	_, err := v.st.getTransaction(kind, id)
	return err
}

// =============================================================================
// STATE
// =============================================================================

func (st *state) clone() *state {
	c := newState()
	for k, p := range st.products {
		c.products[k] = p
	}
	for k, id := range st.identities {
		c.identities[k] = id
	}
	for k, tx := range st.transactions {
		tx.LineItems = append([]ledger.LineItem(nil), tx.LineItems...)
		c.transactions[k] = tx
	}
	return c
}

func (st *state) getProduct(id ledger.ProductID) (ledger.Product, error) {
	p, ok := st.products[id]
	if !ok {
		return ledger.Product{}, &ledger.NotFoundError{Resource: "product", ID: string(id)}
	}
	return p, nil
}

func (st *state) findProductByIdentity(identity ledger.ProductIdentity) (ledger.Product, error) {
	id, ok := st.identities[identity]
	if !ok {
		return ledger.Product{}, &ledger.NotFoundError{Resource: "product", ID: identity.Name + "/" + identity.Category + "/" + identity.Lot}
	}
	return st.products[id], nil
}

func (st *state) insertProduct(p ledger.Product) error {
	if _, exists := st.identities[p.Identity()]; exists {
		return &ledger.IdentityConflictError{Identity: p.Identity()}
	}
	st.products[p.ID] = p
	st.identities[p.Identity()] = p.ID
	return nil
}

func (st *state) insertProductIfAbsent(p ledger.Product) (ledger.Product, error) {
	if id, exists := st.identities[p.Identity()]; exists {
		return st.products[id], nil
	}
	if err := st.insertProduct(p); err != nil {
		return ledger.Product{}, err
	}
	return p, nil
}

func (st *state) updateProduct(p ledger.Product) error {
	old, ok := st.products[p.ID]
	if !ok {
		return &ledger.NotFoundError{Resource: "product", ID: string(p.ID)}
	}
	if id, exists := st.identities[p.Identity()]; exists && id != p.ID {
		return &ledger.IdentityConflictError{Identity: p.Identity()}
	}
	delete(st.identities, old.Identity())
	st.products[p.ID] = p
	st.identities[p.Identity()] = p.ID
	return nil
}

func (st *state) listProducts() []ledger.Product {
	out := make([]ledger.Product, 0, len(st.products))
	for _, p := range st.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Lot != b.Lot {
			return a.Lot < b.Lot
		}
		return a.ID < b.ID
	})
	return out
}

// materialize copies tx and joins product display fields onto its items.
func (st *state) materialize(tx ledger.Transaction) ledger.Transaction {
	items := make([]ledger.LineItem, len(tx.LineItems))
	for i, item := range tx.LineItems {
		p := st.products[item.ProductID]
		item.ProductName, item.Category, item.Lot = p.Name, p.Category, p.Lot
		items[i] = item
	}
	tx.LineItems = items
	return tx
}

func (st *state) getTransaction(kind ledger.Kind, id ledger.TransactionID) (ledger.Transaction, error) {
	tx, ok := st.transactions[id]
	if !ok || tx.Kind != kind {
		return ledger.Transaction{}, &ledger.NotFoundError{Resource: string(kind), ID: string(id)}
	}
	return st.materialize(tx), nil
}

func (st *state) checkProducts(items []ledger.LineItem) error {
	for _, item := range items {
		if _, ok := st.products[item.ProductID]; !ok {
			return &ledger.NotFoundError{Resource: "product", ID: string(item.ProductID)}
		}
	}
	return nil
}

func (st *state) insertTransaction(tx ledger.Transaction) error {
	if err := st.checkProducts(tx.LineItems); err != nil {
		return err
	}
	tx.LineItems = append([]ledger.LineItem(nil), tx.LineItems...)
	st.transactions[tx.ID] = tx
	return nil
}

func (st *state) updateTransaction(tx ledger.Transaction) error {
	existing, ok := st.transactions[tx.ID]
	if !ok || existing.Kind != tx.Kind {
		return &ledger.NotFoundError{Resource: string(tx.Kind), ID: string(tx.ID)}
	}
	tx.LineItems = existing.LineItems
	st.transactions[tx.ID] = tx
	return nil
}

func (st *state) replaceLineItems(id ledger.TransactionID, items []ledger.LineItem) error {
	existing, ok := st.transactions[id]
	if !ok {
		return &ledger.NotFoundError{Resource: "transaction", ID: string(id)}
	}
	if err := st.checkProducts(items); err != nil {
		return err
	}
	existing.LineItems = append([]ledger.LineItem(nil), items...)
	st.transactions[id] = existing
	return nil
}

func (st *state) setStatus(kind ledger.Kind, id ledger.TransactionID, status ledger.Status, at time.Time) error {
	existing, ok := st.transactions[id]
	if !ok || existing.Kind != kind {
		return &ledger.NotFoundError{Resource: string(kind), ID: string(id)}
	}
	existing.Status = status
	existing.UpdatedAt = at
	st.transactions[id] = existing
	return nil
}

func (st *state) listTransactions(filter ledger.HistoryFilter) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range st.transactions {
		if filter.Matches(tx) {
			out = append(out, st.materialize(tx))
		}
	}
	return out
}

func (st *state) sumLockedUnits(productID ledger.ProductID, kind ledger.Kind, exclude ledger.TransactionID) int64 {
	var sum int64
	for _, tx := range st.transactions {
		if tx.Kind != kind || !tx.Locked() || (exclude != "" && tx.ID == exclude) {
			continue
		}
		for _, item := range tx.LineItems {
			if item.ProductID == productID {
				sum += item.Units
			}
		}
	}
	return sum
}

func (st *state) lockedTotals() map[ledger.ProductID]ledger.Totals {
	out := make(map[ledger.ProductID]ledger.Totals)
	for _, tx := range st.transactions {
		if !tx.Locked() {
			continue
		}
		for _, item := range tx.LineItems {
			t := out[item.ProductID]
			if tx.Kind == ledger.KindIntake {
				t.Intake += item.Units
			} else {
				t.Outtake += item.Units
			}
			out[item.ProductID] = t
		}
	}
	return out
}
