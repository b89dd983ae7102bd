package api

import (
	"context"
	"encoding/csv"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/stock-ledger/ledger"
)

func TestInventoryReport_CSV(t *testing.T) {
	api := newTestAPI(t)
	_, err := LoadScenario(context.Background(), api.controller, "demo")
	require.NoError(t, err)

	rec := api.do(http.MethodGet, "/api/reports/inventory?category=flower", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "current-inventory.csv")

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Product Name", "Category", "Lot", "Units On Hand"},
		{"Blue Dream", "Flower", "LOT-100", "23"},
		{"Sunset Gelato", "Flower", "LOT-214", "14"},
	}, records)
}

func TestInventoryReport_NeutralizesFormulas(t *testing.T) {
	// GIVEN: a product whose name a spreadsheet would evaluate
	api := newTestAPI(t)
	p, err := api.controller.Catalog().CreateProduct(context.Background(), ledger.ProductIdentity{
		Name: "=HYPERLINK(\"http://x\")", Category: "+Flower", Lot: "LOT, 1",
	})
	require.NoError(t, err)
	api.intake(string(p.ID), 3)

	// WHEN
	rec := api.do(http.MethodGet, "/api/reports/inventory", nil)

	// THEN: formula prefixes are quoted and commas survive the round trip
	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"'=HYPERLINK(\"http://x\")", "'+Flower", "LOT, 1", "3"}, records[1])
}

func TestCSVSafe(t *testing.T) {
	tests := map[string]string{
		"":           "",
		"Blue Dream": "Blue Dream",
		"-5":         "'-5",
		"@SUM(A1)":   "'@SUM(A1)",
		"\tTab":      "'\tTab",
		"a=b":        "a=b",
	}
	for in, want := range tests {
		assert.Equal(t, want, csvSafe(in), "input %q", in)
	}
}
