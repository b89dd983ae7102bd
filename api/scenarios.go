/*
scenarios.go - Demo scenario loaders for development and demonstrations

PURPOSE:

	Populates an empty ledger with a small, realistic catalog and a few
	movements so the inventory, history and report endpoints have something
	to show.

AVAILABLE SCENARIOS:

	demo:   Four products, two locked intakes, one locked outtake
	drafts: demo + a draft outtake that would overdraw if it were locked

HOW SCENARIOS WORK:
 1. Refuse unless the catalog is empty (nothing is ever deleted)
 2. Create products through the catalog
 3. Record movements through the controller, so admission runs as usual

USAGE VIA API:

	GET  /api/scenarios
	POST /api/scenarios/demo

SEE ALSO:
  - cmd/server/main.go: -seed flag loads "demo" on startup
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioResult reports what a load created.
type ScenarioResult struct {
	Scenario     string `json:"scenario"`
	Products     int    `json:"products"`
	Transactions int    `json:"transactions"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "demo",
		Name:        "Demo Store",
		Description: "Flower, vape and edible lots with two receipts and one retail sale",
	},
	{
		ID:          "drafts",
		Name:        "Pending Sale",
		Description: "Demo store plus a draft outtake that exceeds units on hand",
	},
}

// ErrCatalogNotEmpty is returned when a scenario would mix with real data.
var ErrCatalogNotEmpty = errors.New("catalog is not empty")

// ErrUnknownScenario is returned for an id not in the scenario list.
var ErrUnknownScenario = errors.New("unknown scenario")

// ListScenarios returns available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": scenarios})
}

// LoadScenario loads the scenario named in the path.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := LoadScenario(r.Context(), h.Controller, id)
	switch {
	case errors.Is(err, ErrUnknownScenario):
		writeError(w, http.StatusNotFound, "scenario_not_found", fmt.Sprintf("scenario %q not found", id), nil)
	case errors.Is(err, ErrCatalogNotEmpty):
		writeError(w, http.StatusConflict, "catalog_not_empty", "scenarios load into an empty catalog only", nil)
	case err != nil:
		writeLedgerError(w, r, err)
	default:
		writeJSON(w, http.StatusCreated, result)
	}
}

// LoadScenario seeds c with the named scenario.
func LoadScenario(ctx context.Context, c *ledger.Controller, id string) (ScenarioResult, error) {
	var loader func(context.Context, *ledger.Controller, *ScenarioResult) error
	switch id {
	case "demo":
		loader = loadDemoScenario
	case "drafts":
		loader = loadDraftsScenario
	default:
		return ScenarioResult{}, ErrUnknownScenario
	}

	existing, err := c.Catalog().ListProducts(ctx)
	if err != nil {
		return ScenarioResult{}, err
	}
	if len(existing) > 0 {
		return ScenarioResult{}, ErrCatalogNotEmpty
	}

	result := ScenarioResult{Scenario: id}
	if err := loader(ctx, c, &result); err != nil {
		return result, fmt.Errorf("load scenario %s: %w", id, err)
	}
	return result, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

type demoCatalog struct {
	blueDream, sunsetGelato, mintCart, citrusChew ledger.Product
}

func loadDemoScenario(ctx context.Context, c *ledger.Controller, result *ScenarioResult) error {
	_, err := seedDemo(ctx, c, result)
	return err
}

func loadDraftsScenario(ctx context.Context, c *ledger.Controller, result *ScenarioResult) error {
	cat, err := seedDemo(ctx, c, result)
	if err != nil {
		return err
	}

	// Sunset Gelato has 14 on hand; this draft asks for 20.
	draft := ledger.StatusDraft
	_, err = c.Create(ctx, ledger.KindOuttake, ledger.CreateInput{
		Date:     time.Date(2026, 2, 13, 16, 0, 0, 0, time.UTC),
		Customer: "Customer-002",
		Notes:    "Wholesale order awaiting restock",
		LineItems: []ledger.LineItemInput{
			{ProductID: cat.sunsetGelato.ID, Units: 20},
		},
		Status: &draft,
	})
	if err != nil {
		return err
	}
	result.Transactions++
	return nil
}

func seedDemo(ctx context.Context, c *ledger.Controller, result *ScenarioResult) (demoCatalog, error) {
	var cat demoCatalog
	products := []struct {
		dst      *ledger.Product
		identity ledger.ProductIdentity
	}{
		{&cat.blueDream, ledger.ProductIdentity{Name: "Blue Dream", Category: "Flower", Lot: "LOT-100"}},
		{&cat.sunsetGelato, ledger.ProductIdentity{Name: "Sunset Gelato", Category: "Flower", Lot: "LOT-214"}},
		{&cat.mintCart, ledger.ProductIdentity{Name: "Mint Kush Cart", Category: "Vape", Lot: "LOT-778"}},
		{&cat.citrusChew, ledger.ProductIdentity{Name: "Citrus Chew", Category: "Edible", Lot: "LOT-433"}},
	}
	for _, p := range products {
		created, err := c.Catalog().CreateProduct(ctx, p.identity)
		if err != nil {
			return cat, err
		}
		*p.dst = created
		result.Products++
	}

	movements := []struct {
		kind ledger.Kind
		in   ledger.CreateInput
	}{
		{ledger.KindIntake, ledger.CreateInput{
			Date:  time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC),
			Notes: "Initial receiving batch",
			LineItems: []ledger.LineItemInput{
				{ProductID: cat.blueDream.ID, Units: 20},
				{ProductID: cat.sunsetGelato.ID, Units: 14},
				{ProductID: cat.mintCart.ID, Units: 52},
				{ProductID: cat.citrusChew.ID, Units: 31},
			},
		}},
		{ledger.KindIntake, ledger.CreateInput{
			Date:      time.Date(2026, 2, 11, 12, 0, 0, 0, time.UTC),
			Notes:     "Supplemental flower intake",
			LineItems: []ledger.LineItemInput{{ProductID: cat.blueDream.ID, Units: 8}},
		}},
		{ledger.KindOuttake, ledger.CreateInput{
			Date:     time.Date(2026, 2, 12, 18, 30, 0, 0, time.UTC),
			Customer: "Customer-001",
			Notes:    "Retail sale",
			LineItems: []ledger.LineItemInput{
				{ProductID: cat.blueDream.ID, Units: 5},
				{ProductID: cat.mintCart.ID, Units: 6},
			},
		}},
	}
	for _, m := range movements {
		if _, err := c.Create(ctx, m.kind, m.in); err != nil {
			return cat, err
		}
		result.Transactions++
	}
	return cat, nil
}
