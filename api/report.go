package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"

	"github.com/warp/stock-ledger/ledger"
)

var inventoryCSVHeader = []string{"Product Name", "Category", "Lot", "Units On Hand"}

// GetInventoryReport streams the inventory snapshot as CSV. It accepts the
// same filters as GetInventory.
func (h *Handler) GetInventoryReport(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Controller.Balances().Snapshot(r.Context(), snapshotFilter(r))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="current-inventory.csv"`)
	w.WriteHeader(http.StatusOK)
	writeInventoryCSV(w, rows)
}

func writeInventoryCSV(w http.ResponseWriter, rows []ledger.SnapshotRow) {
	cw := csv.NewWriter(w)
	cw.Write(inventoryCSVHeader)
	for _, row := range rows {
		cw.Write([]string{
			csvSafe(row.Name),
			csvSafe(row.Category),
			csvSafe(row.Lot),
			strconv.FormatInt(row.Balance, 10),
		})
	}
	cw.Flush()
}

// csvSafe neutralizes cells a spreadsheet would evaluate as a formula.
func csvSafe(value string) string {
	if value != "" && strings.ContainsAny(value[:1], "=+-@\t\r") {
		return "'" + value
	}
	return value
}
