/*
lifecycle_test.go - Behaviour of the transaction lifecycle

ORGANIZATION:
  1. Create defaults and admission
  2. Lock gating (draft is free, locked is frozen)
  3. Self-exclusion on re-validation
  4. Intake release check
  5. Validation and lookups
  6. Observer notifications
  7. Concurrent admission

Each test has GIVEN/WHEN/THEN comments; the store is in-memory.
*/
package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/ledgertest"
	"github.com/warp/stock-ledger/ledger/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

var feb10 = time.Date(2026, time.February, 10, 12, 0, 0, 0, time.UTC)

func newController(t *testing.T) *ledger.Controller {
	t.Helper()
	return ledger.NewController(store.NewMemory())
}

func newProduct(t *testing.T, c *ledger.Controller, name string) ledger.Product {
	t.Helper()
	p, err := c.Catalog().CreateProduct(context.Background(), ledger.ProductIdentity{Name: name, Category: "Flower", Lot: "LOT-100"})
	require.NoError(t, err)
	return p
}

func statusPtr(s ledger.Status) *ledger.Status { return &s }

func strPtr(s string) *string { return &s }

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_DefaultsToLocked(t *testing.T) {
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")

	tx := ledgertest.Intake(t, c, p.ID, 10)

	assert.Equal(t, ledger.StatusLocked, tx.Status)
	assert.NotEmpty(t, tx.ID)
	require.Len(t, tx.LineItems, 1)
	assert.Equal(t, "Blue Dream", tx.LineItems[0].ProductName)
	assert.Equal(t, int64(10), ledgertest.Balance(t, c, p.ID))
}

func TestCreate_LockedOuttakeBeyondBalanceRejected(t *testing.T) {
	// GIVEN: 10 on hand
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	ledgertest.Intake(t, c, p.ID, 10)

	// WHEN: 11 leave
	_, err := ledgertest.Outtake(c, p.ID, 11, ledger.StatusLocked)

	// THEN: rejected, nothing recorded
	var ie *ledger.InsufficientInventoryError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, p.ID, ie.ProductID)
	assert.Equal(t, int64(11), ie.Requested)
	assert.Equal(t, int64(10), ie.Available)

	history, err := c.History(context.Background(), ledger.HistoryFilter{Kind: ledger.KindOuttake})
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestCreate_ExactBalanceAdmitted(t *testing.T) {
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	ledgertest.Intake(t, c, p.ID, 10)

	_, err := ledgertest.Outtake(c, p.ID, 10, ledger.StatusLocked)

	require.NoError(t, err)
	assert.Equal(t, int64(0), ledgertest.Balance(t, c, p.ID))
}

func TestCreate_LinesForSameProductAreSummed(t *testing.T) {
	// GIVEN: 10 on hand
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	ledgertest.Intake(t, c, p.ID, 10)

	// WHEN: two lines of 6 each for the same product
	_, err := c.Create(context.Background(), ledger.KindOuttake, ledger.CreateInput{
		Date: feb10,
		LineItems: []ledger.LineItemInput{
			{ProductID: p.ID, Units: 6},
			{ProductID: p.ID, Units: 6},
		},
	})

	// THEN: checked as 12 against 10
	var ie *ledger.InsufficientInventoryError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, int64(12), ie.Requested)
}

func TestCreate_OneShortProductRejectsWholeOuttake(t *testing.T) {
	c := newController(t)
	a := newProduct(t, c, "Blue Dream")
	b := newProduct(t, c, "Sunset Gelato")
	ledgertest.Intake(t, c, a.ID, 10)
	ledgertest.Intake(t, c, b.ID, 2)

	_, err := c.Create(context.Background(), ledger.KindOuttake, ledger.CreateInput{
		Date: feb10,
		LineItems: []ledger.LineItemInput{
			{ProductID: a.ID, Units: 5},
			{ProductID: b.ID, Units: 3},
		},
	})

	assert.ErrorIs(t, err, ledger.ErrInsufficientInventory)
	assert.Equal(t, int64(10), ledgertest.Balance(t, c, a.ID), "no partial withdrawal")
}

func TestCreate_IntakeInlineProductIsUpserted(t *testing.T) {
	// GIVEN: an empty catalog
	c := newController(t)
	ctx := context.Background()
	identity := ledger.ProductIdentity{Name: "  Mint Kush Cart ", Category: "Vape", Lot: "LOT-778"}

	// WHEN: two intakes name the same product inline
	first, err := c.Create(ctx, ledger.KindIntake, ledger.CreateInput{
		Date:      feb10,
		LineItems: []ledger.LineItemInput{{Identity: &identity, Units: 52}},
	})
	require.NoError(t, err)
	second, err := c.Create(ctx, ledger.KindIntake, ledger.CreateInput{
		Date:      feb10,
		LineItems: []ledger.LineItemInput{{Identity: &identity, Units: 3}},
	})
	require.NoError(t, err)

	// THEN: one product, trimmed, with both receipts counted
	assert.Equal(t, first.LineItems[0].ProductID, second.LineItems[0].ProductID)
	assert.Equal(t, "Mint Kush Cart", first.LineItems[0].ProductName)
	products, err := c.Catalog().ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 1)
	assert.Equal(t, int64(55), ledgertest.Balance(t, c, first.LineItems[0].ProductID))
}

func TestCreate_DraftOuttakeIsNotChecked(t *testing.T) {
	// GIVEN: nothing on hand
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")

	// WHEN: a draft outtake asks for 99
	tx, err := ledgertest.Outtake(c, p.ID, 99, ledger.StatusDraft)

	// THEN: it is stored as draft and does not move the balance
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDraft, tx.Status)
	assert.Equal(t, int64(0), ledgertest.Balance(t, c, p.ID))

	// AND: locking it is where the check happens
	_, err = c.SetLockState(context.Background(), ledger.KindOuttake, tx.ID, true)
	assert.ErrorIs(t, err, ledger.ErrInsufficientInventory)
	got, err := c.Get(context.Background(), ledger.KindOuttake, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusDraft, got.Status)
}

// =============================================================================
// LOCK GATING
// =============================================================================

func TestUpdate_LockedTransactionIsFrozen(t *testing.T) {
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	tx := ledgertest.Intake(t, c, p.ID, 10)

	_, err := c.Update(context.Background(), ledger.KindIntake, tx.ID, ledger.UpdateInput{Notes: strPtr("recount")})

	var le *ledger.LockedError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, tx.ID, le.ID)
	assert.Equal(t, ledger.CodeTransactionLocked, ledger.Code(err))
}

func TestUpdate_DraftFieldsAndItems(t *testing.T) {
	// GIVEN: a draft outtake
	c := newController(t)
	ctx := context.Background()
	p := newProduct(t, c, "Blue Dream")
	ledgertest.Intake(t, c, p.ID, 10)
	tx, err := ledgertest.Outtake(c, p.ID, 2, ledger.StatusDraft)
	require.NoError(t, err)

	// WHEN: notes, customer, date and items change
	feb12 := feb10.AddDate(0, 0, 2)
	updated, err := c.Update(ctx, ledger.KindOuttake, tx.ID, ledger.UpdateInput{
		Date:      &feb12,
		Notes:     strPtr("  phone order "),
		Customer:  strPtr("Customer-009"),
		LineItems: []ledger.LineItemInput{{ProductID: p.ID, Units: 7}},
	})

	// THEN: all applied, still draft
	require.NoError(t, err)
	assert.True(t, updated.Date.Equal(feb12))
	assert.Equal(t, "phone order", updated.Notes)
	assert.Equal(t, "Customer-009", updated.Customer)
	require.Len(t, updated.LineItems, 1)
	assert.Equal(t, int64(7), updated.LineItems[0].Units)
	assert.Equal(t, ledger.StatusDraft, updated.Status)
}

func TestUpdate_StatusLockedRunsAdmission(t *testing.T) {
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	ledgertest.Intake(t, c, p.ID, 5)
	tx, err := ledgertest.Outtake(c, p.ID, 2, ledger.StatusDraft)
	require.NoError(t, err)

	_, err = c.Update(context.Background(), ledger.KindOuttake, tx.ID, ledger.UpdateInput{
		LineItems: []ledger.LineItemInput{{ProductID: p.ID, Units: 6}},
		Status:    statusPtr(ledger.StatusLocked),
	})

	assert.ErrorIs(t, err, ledger.ErrInsufficientInventory)
	got, err := c.Get(context.Background(), ledger.KindOuttake, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.LineItems[0].Units, "rejected update leaves the draft untouched")
}

func TestSetLockState_OuttakeUnlockIsUnconditional(t *testing.T) {
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	ledgertest.Intake(t, c, p.ID, 10)
	tx, err := ledgertest.Outtake(c, p.ID, 10, ledger.StatusLocked)
	require.NoError(t, err)

	state, err := c.SetLockState(context.Background(), ledger.KindOuttake, tx.ID, false)

	require.NoError(t, err)
	assert.False(t, state.Locked)
	assert.Equal(t, int64(10), ledgertest.Balance(t, c, p.ID))
}

func TestSetLockState_InvalidKind(t *testing.T) {
	c := newController(t)

	_, err := c.SetLockState(context.Background(), ledger.Kind("transfer"), "t-1", true)

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// SELF-EXCLUSION
// =============================================================================

func TestSetLockState_RelockExcludesOwnUnits(t *testing.T) {
	// GIVEN: 10 in, a locked outtake of 8 (balance 2)
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	ledgertest.Intake(t, c, p.ID, 10)
	tx, err := ledgertest.Outtake(c, p.ID, 8, ledger.StatusLocked)
	require.NoError(t, err)

	// WHEN: the same outtake is locked again
	_, err = c.SetLockState(context.Background(), ledger.KindOuttake, tx.ID, true)

	// THEN: its own 8 units are not counted against it
	require.NoError(t, err)
	assert.Equal(t, int64(2), ledgertest.Balance(t, c, p.ID))
}

// =============================================================================
// INTAKE RELEASE
// =============================================================================

func TestSetLockState_IntakeUnlockCannotStrandOuttake(t *testing.T) {
	// GIVEN: 10 in, 8 out, both locked
	c := newController(t)
	ctx := context.Background()
	p := newProduct(t, c, "Blue Dream")
	in := ledgertest.Intake(t, c, p.ID, 10)
	out, err := ledgertest.Outtake(c, p.ID, 8, ledger.StatusLocked)
	require.NoError(t, err)

	// WHEN: the intake is unlocked
	_, err = c.SetLockState(ctx, ledger.KindIntake, in.ID, false)

	// THEN: refused, the balance would be -8
	var ie *ledger.InsufficientInventoryError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, int64(10), ie.Requested)
	assert.Equal(t, int64(2), ie.Available)
	assert.Equal(t, int64(2), ledgertest.Balance(t, c, p.ID))

	// AND: once the outtake is unlocked, the intake can be too
	_, err = c.SetLockState(ctx, ledger.KindOuttake, out.ID, false)
	require.NoError(t, err)
	_, err = c.SetLockState(ctx, ledger.KindIntake, in.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ledgertest.Balance(t, c, p.ID))
}

func TestSetLockState_IntakeUnlockWithSlack(t *testing.T) {
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	first := ledgertest.Intake(t, c, p.ID, 10)
	ledgertest.Intake(t, c, p.ID, 10)
	_, err := ledgertest.Outtake(c, p.ID, 8, ledger.StatusLocked)
	require.NoError(t, err)

	_, err = c.SetLockState(context.Background(), ledger.KindIntake, first.ID, false)

	require.NoError(t, err)
	assert.Equal(t, int64(2), ledgertest.Balance(t, c, p.ID))
}

// =============================================================================
// VALIDATION & LOOKUPS
// =============================================================================

func TestCreate_Validation(t *testing.T) {
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	partial := ledger.ProductIdentity{Name: "Blue Dream", Category: "Flower"}

	tests := []struct {
		name     string
		kind     ledger.Kind
		in       ledger.CreateInput
		wantCode string
	}{
		{"no line items", ledger.KindIntake, ledger.CreateInput{Date: feb10}, ledger.CodeLineItemsRequired},
		{"zero units", ledger.KindIntake, ledger.CreateInput{Date: feb10, LineItems: []ledger.LineItemInput{{ProductID: p.ID, Units: 0}}}, ledger.CodeUnitsInvalid},
		{"negative units", ledger.KindOuttake, ledger.CreateInput{Date: feb10, LineItems: []ledger.LineItemInput{{ProductID: p.ID, Units: -3}}}, ledger.CodeUnitsInvalid},
		{"missing date", ledger.KindIntake, ledger.CreateInput{LineItems: []ledger.LineItemInput{{ProductID: p.ID, Units: 1}}}, ledger.CodeDateRequired},
		{"outtake by identity", ledger.KindOuttake, ledger.CreateInput{Date: feb10, LineItems: []ledger.LineItemInput{{Identity: &ledger.ProductIdentity{Name: "a", Category: "b", Lot: "c"}, Units: 1}}}, ledger.CodeProductRequired},
		{"incomplete identity", ledger.KindIntake, ledger.CreateInput{Date: feb10, LineItems: []ledger.LineItemInput{{Identity: &partial, Units: 1}}}, ledger.CodeProductRequired},
		{"customer on intake", ledger.KindIntake, ledger.CreateInput{Date: feb10, Customer: "Customer-001", LineItems: []ledger.LineItemInput{{ProductID: p.ID, Units: 1}}}, ledger.CodeCustomerNotAllowed},
		{"bad status", ledger.KindIntake, ledger.CreateInput{Date: feb10, Status: statusPtr("archived"), LineItems: []ledger.LineItemInput{{ProductID: p.ID, Units: 1}}}, ledger.CodeInvalidPayload},
		{"unknown kind", ledger.Kind("transfer"), ledger.CreateInput{Date: feb10, LineItems: []ledger.LineItemInput{{ProductID: p.ID, Units: 1}}}, ledger.CodeInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Create(context.Background(), tt.kind, tt.in)
			require.ErrorIs(t, err, ledger.ErrValidation)
			assert.Equal(t, tt.wantCode, ledger.Code(err))
		})
	}
}

func TestCreate_UnknownProduct(t *testing.T) {
	c := newController(t)

	_, err := ledgertest.Outtake(c, "no-such-product", 1, ledger.StatusLocked)

	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Equal(t, ledger.CodeProductNotFound, ledger.Code(err))
}

func TestUpdate_Validation(t *testing.T) {
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	tx, err := ledgertest.Outtake(c, p.ID, 1, ledger.StatusDraft)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Update(ctx, ledger.KindOuttake, tx.ID, ledger.UpdateInput{})
	assert.Equal(t, ledger.CodeInvalidPayload, ledger.Code(err), "empty update")

	_, err = c.Update(ctx, ledger.KindOuttake, tx.ID, ledger.UpdateInput{LineItems: []ledger.LineItemInput{}})
	assert.Equal(t, ledger.CodeLineItemsRequired, ledger.Code(err), "items cannot be emptied")

	_, err = c.Update(ctx, ledger.KindOuttake, "  ", ledger.UpdateInput{Notes: strPtr("x")})
	assert.ErrorIs(t, err, ledger.ErrValidation, "blank id")

	_, err = c.Update(ctx, ledger.KindOuttake, "missing", ledger.UpdateInput{Notes: strPtr("x")})
	assert.Equal(t, ledger.CodeTransactionNotFound, ledger.Code(err))
}

func TestGet_KindMustMatch(t *testing.T) {
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	tx := ledgertest.Intake(t, c, p.ID, 1)

	_, err := c.Get(context.Background(), ledger.KindOuttake, tx.ID)

	assert.True(t, ledger.IsNotFound(err))
}

func TestCatalog_CreateAndUpdateProduct(t *testing.T) {
	c := newController(t)
	ctx := context.Background()
	a := newProduct(t, c, "Blue Dream")
	newProduct(t, c, "Sunset Gelato")

	_, err := c.Catalog().CreateProduct(ctx, ledger.ProductIdentity{Name: "Blue Dream", Category: "Flower", Lot: "LOT-100"})
	assert.ErrorIs(t, err, ledger.ErrIdentityConflict)

	_, err = c.Catalog().UpdateProduct(ctx, a.ID, ledger.ProductPatch{Name: strPtr("Sunset Gelato")})
	assert.ErrorIs(t, err, ledger.ErrIdentityConflict)

	_, err = c.Catalog().UpdateProduct(ctx, a.ID, ledger.ProductPatch{})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = c.Catalog().UpdateProduct(ctx, a.ID, ledger.ProductPatch{Lot: strPtr("  ")})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	updated, err := c.Catalog().UpdateProduct(ctx, a.ID, ledger.ProductPatch{Lot: strPtr(" LOT-101 ")})
	require.NoError(t, err)
	assert.Equal(t, "LOT-101", updated.Lot)
	assert.Equal(t, a.ID, updated.ID)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_NewestFirstAcrossKinds(t *testing.T) {
	// GIVEN: movements on three days, one of them a draft
	c := newController(t)
	ctx := context.Background()
	p := newProduct(t, c, "Blue Dream")
	mk := func(kind ledger.Kind, date time.Time, status ledger.Status) ledger.Transaction {
		tx, err := c.Create(ctx, kind, ledger.CreateInput{
			Date:      date,
			LineItems: []ledger.LineItemInput{{ProductID: p.ID, Units: 1}},
			Status:    &status,
		})
		require.NoError(t, err)
		return tx
	}
	in := mk(ledger.KindIntake, feb10, ledger.StatusLocked)
	out := mk(ledger.KindOuttake, feb10.AddDate(0, 0, 2), ledger.StatusLocked)
	draft := mk(ledger.KindIntake, feb10.AddDate(0, 0, 1), ledger.StatusDraft)

	// WHEN: listing everything
	all, err := c.History(ctx, ledger.HistoryFilter{})
	require.NoError(t, err)

	// THEN: newest first, drafts included
	require.Len(t, all, 3)
	assert.Equal(t, []ledger.TransactionID{out.ID, draft.ID, in.ID}, []ledger.TransactionID{all[0].ID, all[1].ID, all[2].ID})

	// AND: the end date covers its whole day
	window, err := c.History(ctx, ledger.HistoryFilter{
		From: time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC),
		To:   ledger.EndOfDay(time.Date(2026, 2, 12, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	intakes, err := c.History(ctx, ledger.HistoryFilter{Kind: ledger.KindIntake})
	require.NoError(t, err)
	assert.Len(t, intakes, 2)
}

func TestHistory_RejectsInvertedRange(t *testing.T) {
	c := newController(t)

	_, err := c.History(context.Background(), ledger.HistoryFilter{From: feb10, To: feb10.AddDate(0, 0, -1)})

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// OBSERVER
// =============================================================================

type recordingObserver struct {
	mu         sync.Mutex
	admissions []error
	commits    []string
}

func (o *recordingObserver) AdmissionChecked(_ ledger.Kind, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.admissions = append(o.admissions, err)
}

func (o *recordingObserver) Committed(kind ledger.Kind, op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commits = append(o.commits, string(kind)+":"+op)
}

func TestObserver_SeesAdmissionsAndCommits(t *testing.T) {
	c := newController(t)
	obs := &recordingObserver{}
	c.Observer = obs
	p := newProduct(t, c, "Blue Dream")

	ledgertest.Intake(t, c, p.ID, 3)
	_, err := ledgertest.Outtake(c, p.ID, 5, ledger.StatusLocked)
	require.Error(t, err)
	tx, err := ledgertest.Outtake(c, p.ID, 2, ledger.StatusLocked)
	require.NoError(t, err)
	_, err = c.SetLockState(context.Background(), ledger.KindOuttake, tx.ID, false)
	require.NoError(t, err)

	require.Len(t, obs.admissions, 2)
	assert.ErrorIs(t, obs.admissions[0], ledger.ErrInsufficientInventory)
	assert.NoError(t, obs.admissions[1])
	assert.Equal(t, []string{"intake:create", "outtake:create", "outtake:unlock"}, obs.commits)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestCreate_ConcurrentOuttakesShareTenUnits(t *testing.T) {
	// GIVEN: 10 on hand
	c := newController(t)
	p := newProduct(t, c, "Blue Dream")
	ledgertest.Intake(t, c, p.ID, 10)

	// WHEN: two locked outtakes of 6 race
	var g errgroup.Group
	errs := make([]error, 2)
	for i := range errs {
		i := i
		g.Go(func() error {
			_, errs[i] = ledgertest.Outtake(c, p.ID, 6, ledger.StatusLocked)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// THEN: exactly one is admitted
	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0], ledger.ErrInsufficientInventory)
	assert.Equal(t, int64(4), ledgertest.Balance(t, c, p.ID))
}
