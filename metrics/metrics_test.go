package metrics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/ledger/ledgertest"
	"github.com/warp/stock-ledger/ledger/store"
	"github.com/warp/stock-ledger/metrics"
)

func scrape(t *testing.T, r *metrics.Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestRecorder_CountsLedgerActivity(t *testing.T) {
	// GIVEN: a controller reporting to the recorder
	rec := metrics.NewRecorder()
	c := ledger.NewController(store.NewMemory())
	c.Observer = rec
	ctx := context.Background()

	p, err := c.Catalog().CreateProduct(ctx, ledger.ProductIdentity{Name: "Blue Dream", Category: "Flower", Lot: "LOT-100"})
	require.NoError(t, err)

	// WHEN: one intake, one admitted outtake, one rejected outtake, one draft lock
	ledgertest.Intake(t, c, p.ID, 10)
	_, err = ledgertest.Outtake(c, p.ID, 4, ledger.StatusLocked)
	require.NoError(t, err)
	_, err = ledgertest.Outtake(c, p.ID, 99, ledger.StatusLocked)
	require.ErrorIs(t, err, ledger.ErrInsufficientInventory)
	draft, err := ledgertest.Outtake(c, p.ID, 1, ledger.StatusDraft)
	require.NoError(t, err)
	_, err = c.SetLockState(ctx, ledger.KindOuttake, draft.ID, true)
	require.NoError(t, err)

	// THEN
	body := scrape(t, rec)
	assert.Contains(t, body, `stock_ledger_admission_checks_total{kind="outtake",result="admitted"} 2`)
	assert.Contains(t, body, `stock_ledger_admission_checks_total{kind="outtake",result="rejected"} 1`)
	assert.Contains(t, body, `stock_ledger_transactions_committed_total{kind="intake",op="create"} 1`)
	assert.Contains(t, body, `stock_ledger_transactions_committed_total{kind="outtake",op="create"} 2`)
	assert.Contains(t, body, `stock_ledger_transactions_committed_total{kind="outtake",op="lock"} 1`)
}

func TestRecorder_ErrorResult(t *testing.T) {
	rec := metrics.NewRecorder()

	rec.AdmissionChecked(ledger.KindOuttake, context.DeadlineExceeded)

	assert.Contains(t, scrape(t, rec), `stock_ledger_admission_checks_total{kind="outtake",result="error"} 1`)
}

func TestRecorder_IncludesRuntimeCollectors(t *testing.T) {
	rec := metrics.NewRecorder()

	families, err := rec.Registry().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["go_goroutines"])
}

func TestRecorder_AuditGauges(t *testing.T) {
	rec := metrics.NewRecorder()

	rec.AuditCompleted(4, 114, 0, false)
	rec.AuditCompleted(4, 100, 1, false)
	rec.AuditCompleted(0, 0, 0, true)

	body := scrape(t, rec)
	assert.Contains(t, body, `stock_ledger_audit_runs_total{result="ok"} 1`)
	assert.Contains(t, body, `stock_ledger_audit_runs_total{result="negative"} 1`)
	assert.Contains(t, body, `stock_ledger_audit_runs_total{result="error"} 1`)
	assert.Contains(t, body, "stock_ledger_audit_units_on_hand 100")
	assert.Contains(t, body, "stock_ledger_audit_negative_balances 1")
	assert.Contains(t, body, "stock_ledger_audit_products 4")
}
