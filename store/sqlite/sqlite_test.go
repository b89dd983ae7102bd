package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/ledgertest"
	"github.com/warp/stock-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_StoreSuite(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.TxStore {
		return newTestStore(t)
	})
}

func TestSQLite_FileStoreSurvivesReopen(t *testing.T) {
	// GIVEN: a file-backed store with a locked intake
	path := filepath.Join(t.TempDir(), "stock.db")
	ctx := context.Background()

	first, err := sqlite.New(path)
	require.NoError(t, err)
	c := ledger.NewController(first)
	p, err := c.Catalog().CreateProduct(ctx, ledger.ProductIdentity{Name: "Citrus Chew", Category: "Edible", Lot: "LOT-433"})
	require.NoError(t, err)
	ledgertest.Intake(t, c, p.ID, 31)
	require.NoError(t, first.Close())

	// WHEN: the file is reopened (migration runs again)
	second, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	// THEN: the balance is derived from the persisted line items
	assert.Equal(t, int64(31), ledgertest.Balance(t, ledger.NewController(second), p.ID))
}

func TestSQLite_UnitsMustBePositive(t *testing.T) {
	// The schema enforces units > 0 even if a caller skips validation.
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.InsertProduct(ctx, ledger.Product{ID: "p-1", Name: "Blue Dream", Category: "Flower", Lot: "LOT-100"}))

	err := store.InsertTransaction(ctx, ledger.Transaction{
		ID: "t-1", Kind: ledger.KindIntake, Status: ledger.StatusLocked,
		LineItems: []ledger.LineItem{{ID: "li-1", ProductID: "p-1", Units: 0}},
	})

	assert.Error(t, err)
}
