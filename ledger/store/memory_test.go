package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/ledgertest"
	"github.com/warp/stock-ledger/ledger/store"
)

func TestMemory_StoreSuite(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.TxStore {
		return store.NewMemory()
	})
}

func TestMemory_RollbackRestoresLineItems(t *testing.T) {
	// GIVEN: a draft intake with one line item
	ctx := context.Background()
	m := store.NewMemory()
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.InsertProduct(ctx, ledger.Product{ID: "p-1", Name: "Blue Dream", Category: "Flower", Lot: "LOT-100"}))
	require.NoError(t, m.InsertTransaction(ctx, ledger.Transaction{
		ID: "t-1", Kind: ledger.KindIntake, Status: ledger.StatusDraft, Date: now,
		LineItems: []ledger.LineItem{{ID: "li-1", ProductID: "p-1", Units: 5}},
	}))

	// WHEN: a unit of work replaces the items and locks, then fails
	err := m.WithTx(ctx, func(s ledger.Store) error {
		require.NoError(t, s.ReplaceLineItems(ctx, "t-1", []ledger.LineItem{{ID: "li-2", ProductID: "p-1", Units: 50}}))
		require.NoError(t, s.SetStatus(ctx, ledger.KindIntake, "t-1", ledger.StatusLocked, now))
		return errors.New("abort")
	})
	require.Error(t, err)

	// THEN: nothing leaked
	tx, err := m.GetTransaction(ctx, ledger.KindIntake, "t-1")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDraft, tx.Status)
	require.Len(t, tx.LineItems, 1)
	assert.Equal(t, int64(5), tx.LineItems[0].Units)
}

func TestMemory_CancelledContextSkipsWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.NewMemory().WithTx(ctx, func(ledger.Store) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemory_ReadsReflectProductRename(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	p := ledger.Product{ID: "p-1", Name: "Blue Dream", Category: "Flower", Lot: "LOT-100"}
	require.NoError(t, m.InsertProduct(ctx, p))
	require.NoError(t, m.InsertTransaction(ctx, ledger.Transaction{
		ID: "t-1", Kind: ledger.KindIntake, Status: ledger.StatusLocked,
		LineItems: []ledger.LineItem{{ID: "li-1", ProductID: "p-1", Units: 5}},
	}))

	p.Name = "Blue Dream #2"
	require.NoError(t, m.UpdateProduct(ctx, p))

	tx, err := m.GetTransaction(ctx, ledger.KindIntake, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "Blue Dream #2", tx.LineItems[0].ProductName)

	_, err = m.FindProductByIdentity(ctx, ledger.ProductIdentity{Name: "Blue Dream", Category: "Flower", Lot: "LOT-100"})
	assert.ErrorIs(t, err, ledger.ErrNotFound, "old identity is released")
}
