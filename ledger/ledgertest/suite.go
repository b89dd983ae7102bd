// Package ledgertest holds a behavioural suite every ledger.TxStore must
// pass, run through the Controller so stores are judged on what the ledger
// actually relies on.
package ledgertest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/stock-ledger/ledger"
)

// NewStoreFunc returns a fresh, empty store for one test.
type NewStoreFunc func(t *testing.T) ledger.TxStore

// RunStoreSuite runs every conformance test against stores from newStore.
func RunStoreSuite(t *testing.T, newStore NewStoreFunc) {
	tests := []struct {
		name string
		fn   func(*testing.T, NewStoreFunc)
	}{
		{"ProductIdentityIsUnique", testProductIdentityIsUnique},
		{"InsertProductIfAbsentIsIdempotent", testInsertProductIfAbsentIsIdempotent},
		{"UpdateProductConflict", testUpdateProductConflict},
		{"TransactionRoundTrip", testTransactionRoundTrip},
		{"KindScopesLookup", testKindScopesLookup},
		{"SumLockedUnitsSkipsDraftsAndExclusion", testSumLockedUnits},
		{"WithTxRollsBack", testWithTxRollsBack},
		{"ReplaceLineItems", testReplaceLineItems},
		{"ListTransactionsFilters", testListTransactionsFilters},
		{"EndToEndScenario", testEndToEndScenario},
		{"ConcurrentLocksNeverOverdraw", testConcurrentLocksNeverOverdraw},
		{"LockTransactionScopesByKind", testLockTransactionScopesByKind},
		{"ConcurrentEditCannotUndoLock", testConcurrentEditCannotUndoLock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.fn(t, newStore) })
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

var day = time.Date(2026, time.February, 10, 12, 0, 0, 0, time.UTC)

func product(id, name string) ledger.Product {
	return ledger.Product{
		ID:        ledger.ProductID(id),
		Name:      name,
		Category:  "Flower",
		Lot:       "LOT-1",
		CreatedAt: day,
		UpdatedAt: day,
	}
}

func transaction(id string, kind ledger.Kind, status ledger.Status, date time.Time, items ...ledger.LineItem) ledger.Transaction {
	return ledger.Transaction{
		ID:        ledger.TransactionID(id),
		Kind:      kind,
		Date:      date,
		Status:    status,
		LineItems: items,
		CreatedAt: date,
		UpdatedAt: date,
	}
}

func item(id string, productID string, units int64) ledger.LineItem {
	return ledger.LineItem{ID: id, ProductID: ledger.ProductID(productID), Units: units}
}

// Intake records a locked intake of units for productID through c.
func Intake(t *testing.T, c *ledger.Controller, productID ledger.ProductID, units int64) ledger.Transaction {
	t.Helper()
	tx, err := c.Create(context.Background(), ledger.KindIntake, ledger.CreateInput{
		Date:      day,
		LineItems: []ledger.LineItemInput{{ProductID: productID, Units: units}},
	})
	require.NoError(t, err)
	return tx
}

// Outtake records an outtake through c with the given status.
func Outtake(c *ledger.Controller, productID ledger.ProductID, units int64, status ledger.Status) (ledger.Transaction, error) {
	return c.Create(context.Background(), ledger.KindOuttake, ledger.CreateInput{
		Date:      day,
		Customer:  "Customer-001",
		LineItems: []ledger.LineItemInput{{ProductID: productID, Units: units}},
		Status:    &status,
	})
}

// Balance reads the current balance of productID.
func Balance(t *testing.T, c *ledger.Controller, productID ledger.ProductID) int64 {
	t.Helper()
	b, err := c.Balances().Balance(context.Background(), productID, "")
	require.NoError(t, err)
	return b
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

func testProductIdentityIsUnique(t *testing.T, newStore NewStoreFunc) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertProduct(ctx, product("p-1", "Blue Dream")))
	err := s.InsertProduct(ctx, product("p-2", "Blue Dream"))

	assert.ErrorIs(t, err, ledger.ErrIdentityConflict)
	_, err = s.GetProduct(ctx, "p-2")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func testInsertProductIfAbsentIsIdempotent(t *testing.T, newStore NewStoreFunc) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.InsertProductIfAbsent(ctx, product("p-1", "Blue Dream"))
	require.NoError(t, err)
	second, err := s.InsertProductIfAbsent(ctx, product("p-2", "Blue Dream"))
	require.NoError(t, err)

	assert.Equal(t, ledger.ProductID("p-1"), first.ID)
	assert.Equal(t, first.ID, second.ID, "same identity must resolve to the same product")

	products, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func testUpdateProductConflict(t *testing.T, newStore NewStoreFunc) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProduct(ctx, product("p-1", "Blue Dream")))
	require.NoError(t, s.InsertProduct(ctx, product("p-2", "Sunset Gelato")))

	renamed := product("p-2", "Blue Dream")
	assert.ErrorIs(t, s.UpdateProduct(ctx, renamed), ledger.ErrIdentityConflict)

	missing := product("p-404", "Ghost")
	assert.ErrorIs(t, s.UpdateProduct(ctx, missing), ledger.ErrNotFound)

	moved := product("p-2", "Sunset Gelato")
	moved.Lot = "LOT-2"
	require.NoError(t, s.UpdateProduct(ctx, moved))
	got, err := s.GetProduct(ctx, "p-2")
	require.NoError(t, err)
	assert.Equal(t, "LOT-2", got.Lot)
}

func testTransactionRoundTrip(t *testing.T, newStore NewStoreFunc) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProduct(ctx, product("p-1", "Blue Dream")))
	require.NoError(t, s.InsertProduct(ctx, product("p-2", "Sunset Gelato")))

	tx := transaction("t-1", ledger.KindOuttake, ledger.StatusDraft, day,
		item("li-1", "p-2", 3), item("li-2", "p-1", 4))
	tx.Customer = "Customer-001"
	tx.Notes = "Retail sale"
	require.NoError(t, s.InsertTransaction(ctx, tx))

	got, err := s.GetTransaction(ctx, ledger.KindOuttake, "t-1")
	require.NoError(t, err)

	assert.Equal(t, ledger.KindOuttake, got.Kind)
	assert.Equal(t, ledger.StatusDraft, got.Status)
	assert.Equal(t, "Customer-001", got.Customer)
	assert.Equal(t, "Retail sale", got.Notes)
	assert.True(t, got.Date.Equal(day))
	require.Len(t, got.LineItems, 2)
	assert.Equal(t, ledger.ProductID("p-2"), got.LineItems[0].ProductID, "line item order is preserved")
	assert.Equal(t, "Sunset Gelato", got.LineItems[0].ProductName)
	assert.Equal(t, int64(4), got.LineItems[1].Units)
}

func testKindScopesLookup(t *testing.T, newStore NewStoreFunc) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProduct(ctx, product("p-1", "Blue Dream")))
	require.NoError(t, s.InsertTransaction(ctx,
		transaction("t-1", ledger.KindIntake, ledger.StatusLocked, day, item("li-1", "p-1", 1))))

	_, err := s.GetTransaction(ctx, ledger.KindOuttake, "t-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, ledger.KindOuttake, "t-1", ledger.StatusDraft, day), ledger.ErrNotFound)
}

func testSumLockedUnits(t *testing.T, newStore NewStoreFunc) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProduct(ctx, product("p-1", "Blue Dream")))
	require.NoError(t, s.InsertTransaction(ctx,
		transaction("in-1", ledger.KindIntake, ledger.StatusLocked, day, item("a", "p-1", 10), item("b", "p-1", 2))))
	require.NoError(t, s.InsertTransaction(ctx,
		transaction("in-2", ledger.KindIntake, ledger.StatusDraft, day, item("c", "p-1", 100))))
	require.NoError(t, s.InsertTransaction(ctx,
		transaction("out-1", ledger.KindOuttake, ledger.StatusLocked, day, item("d", "p-1", 4))))

	in, err := s.SumLockedUnits(ctx, "p-1", ledger.KindIntake, "")
	require.NoError(t, err)
	assert.Equal(t, int64(12), in, "draft intake must not count")

	out, err := s.SumLockedUnits(ctx, "p-1", ledger.KindOuttake, "out-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), out, "excluded transaction must not count")

	totals, err := s.LockedTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Totals{Intake: 12, Outtake: 4}, totals["p-1"])
}

func testWithTxRollsBack(t *testing.T, newStore NewStoreFunc) {
	s := newStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		require.NoError(t, tx.InsertProduct(ctx, product("p-1", "Blue Dream")))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	_, err = s.GetProduct(ctx, "p-1")
	assert.ErrorIs(t, err, ledger.ErrNotFound, "rolled back insert must not be visible")

	require.NoError(t, s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.InsertProduct(ctx, product("p-1", "Blue Dream"))
	}))
	_, err = s.GetProduct(ctx, "p-1")
	assert.NoError(t, err)
}

func testReplaceLineItems(t *testing.T, newStore NewStoreFunc) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProduct(ctx, product("p-1", "Blue Dream")))
	require.NoError(t, s.InsertTransaction(ctx,
		transaction("t-1", ledger.KindIntake, ledger.StatusDraft, day, item("a", "p-1", 1), item("b", "p-1", 2))))

	require.NoError(t, s.ReplaceLineItems(ctx, "t-1", []ledger.LineItem{item("c", "p-1", 7)}))

	got, err := s.GetTransaction(ctx, ledger.KindIntake, "t-1")
	require.NoError(t, err)
	require.Len(t, got.LineItems, 1)
	assert.Equal(t, "c", got.LineItems[0].ID)
	assert.Equal(t, int64(7), got.LineItems[0].Units)
}

func testListTransactionsFilters(t *testing.T, newStore NewStoreFunc) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertProduct(ctx, product("p-1", "Blue Dream")))
	for i, kind := range []ledger.Kind{ledger.KindIntake, ledger.KindOuttake, ledger.KindIntake} {
		date := day.AddDate(0, 0, i)
		id := string(kind) + "-" + date.Format("0102")
		require.NoError(t, s.InsertTransaction(ctx,
			transaction(id, kind, ledger.StatusDraft, date, item(id+"-li", "p-1", 1))))
	}

	all, err := s.ListTransactions(ctx, ledger.HistoryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	intakes, err := s.ListTransactions(ctx, ledger.HistoryFilter{Kind: ledger.KindIntake})
	require.NoError(t, err)
	assert.Len(t, intakes, 2)

	window, err := s.ListTransactions(ctx, ledger.HistoryFilter{
		From: day.AddDate(0, 0, 1),
		To:   ledger.EndOfDay(day.AddDate(0, 0, 1)),
	})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, ledger.KindOuttake, window[0].Kind)
	assert.Len(t, window[0].LineItems, 1)
}

// =============================================================================
// CONTROLLER OVER THE STORE
// =============================================================================

func testEndToEndScenario(t *testing.T, newStore NewStoreFunc) {
	ctx := context.Background()
	c := ledger.NewController(newStore(t))

	// GIVEN: 10 units received
	p, err := c.Catalog().CreateProduct(ctx, ledger.ProductIdentity{Name: "Blue Dream", Category: "Flower", Lot: "LOT-100"})
	require.NoError(t, err)
	Intake(t, c, p.ID, 10)

	// WHEN: 99 are requested
	_, err = Outtake(c, p.ID, 99, ledger.StatusLocked)

	// THEN: rejected with the numbers the caller needs
	var ie *ledger.InsufficientInventoryError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, int64(99), ie.Requested)
	assert.Equal(t, int64(10), ie.Available)

	// Selling 4 leaves 6
	out, err := Outtake(c, p.ID, 4, ledger.StatusLocked)
	require.NoError(t, err)
	assert.Equal(t, int64(6), Balance(t, c, p.ID))

	// Unlock, edit down to 3, re-lock: 7 on hand
	_, err = c.SetLockState(ctx, ledger.KindOuttake, out.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(10), Balance(t, c, p.ID), "draft outtake does not count")

	_, err = c.Update(ctx, ledger.KindOuttake, out.ID, ledger.UpdateInput{
		LineItems: []ledger.LineItemInput{{ProductID: p.ID, Units: 3}},
	})
	require.NoError(t, err)

	state, err := c.SetLockState(ctx, ledger.KindOuttake, out.ID, true)
	require.NoError(t, err)
	assert.True(t, state.Locked)
	assert.Equal(t, int64(7), Balance(t, c, p.ID))
}

func testConcurrentLocksNeverOverdraw(t *testing.T, newStore NewStoreFunc) {
	ctx := context.Background()
	c := ledger.NewController(newStore(t))

	// GIVEN: 10 on hand and many drafts of 6 units each
	p, err := c.Catalog().CreateProduct(ctx, ledger.ProductIdentity{Name: "Blue Dream", Category: "Flower", Lot: "LOT-100"})
	require.NoError(t, err)
	Intake(t, c, p.ID, 10)

	const racers = 8
	drafts := make([]ledger.TransactionID, racers)
	for i := range drafts {
		tx, err := Outtake(c, p.ID, 6, ledger.StatusDraft)
		require.NoError(t, err)
		drafts[i] = tx.ID
	}

	// WHEN: every draft is locked at once
	var admitted, rejected atomic.Int32
	var g errgroup.Group
	for _, id := range drafts {
		id := id
		g.Go(func() error {
			_, err := c.SetLockState(ctx, ledger.KindOuttake, id, true)
			switch {
			case err == nil:
				admitted.Add(1)
			case errors.Is(err, ledger.ErrInsufficientInventory):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: exactly one fits and the balance stays non-negative
	assert.Equal(t, int32(1), admitted.Load())
	assert.Equal(t, int32(racers-1), rejected.Load())
	assert.Equal(t, int64(4), Balance(t, c, p.ID))
}

func testLockTransactionScopesByKind(t *testing.T, newStore NewStoreFunc) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.InsertProduct(ctx, product("p1", "Blue Dream")))
	require.NoError(t, s.InsertTransaction(ctx, transaction("in-1", ledger.KindIntake, ledger.StatusLocked, day, item("li-1", "p1", 5))))

	lock := func(kind ledger.Kind, id ledger.TransactionID) error {
		return s.WithTx(ctx, func(tx ledger.Store) error {
			return tx.LockTransaction(ctx, kind, id)
		})
	}

	assert.NoError(t, lock(ledger.KindIntake, "in-1"))
	assert.ErrorIs(t, lock(ledger.KindOuttake, "in-1"), ledger.ErrNotFound)
	assert.ErrorIs(t, lock(ledger.KindIntake, "missing"), ledger.ErrNotFound)
}

// An edit racing a lock on the same draft either lands before the lock or
// is refused; it never writes the draft status back over a committed lock.
func raceEditAndLock(t *testing.T, c *ledger.Controller, id ledger.TransactionID) {
	ctx := context.Background()
	notes := "edited while locking"

	var lockErr, editErr error
	var g errgroup.Group
	g.Go(func() error {
		_, lockErr = c.SetLockState(ctx, ledger.KindOuttake, id, true)
		return nil
	})
	g.Go(func() error {
		_, editErr = c.Update(ctx, ledger.KindOuttake, id, ledger.UpdateInput{Notes: &notes})
		return nil
	})
	require.NoError(t, g.Wait())

	require.NoError(t, lockErr)
	if editErr != nil {
		assert.ErrorIs(t, editErr, ledger.ErrLocked)
	}
	got, err := c.Get(ctx, ledger.KindOuttake, id)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusLocked, got.Status, "a reported lock must stick")
}

func testConcurrentEditCannotUndoLock(t *testing.T, newStore NewStoreFunc) {
	ctx := context.Background()
	c := ledger.NewController(newStore(t))

	// GIVEN: plenty on hand so every lock passes admission
	p, err := c.Catalog().CreateProduct(ctx, ledger.ProductIdentity{Name: "Blue Dream", Category: "Flower", Lot: "LOT-100"})
	require.NoError(t, err)
	Intake(t, c, p.ID, 1000)

	// WHEN/THEN: repeated edit-vs-lock races on fresh drafts
	for i := 0; i < 20; i++ {
		draft, err := Outtake(c, p.ID, 1, ledger.StatusDraft)
		require.NoError(t, err)
		raceEditAndLock(t, c, draft.ID)
	}
	assert.Equal(t, int64(980), Balance(t, c, p.ID))
}
