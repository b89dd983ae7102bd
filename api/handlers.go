/*
handlers.go - HTTP API handlers for the stock ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the lifecycle controller.

ENDPOINTS:
  Products:
    GET    /api/products                       List catalog
    POST   /api/products                       Create product
    PUT    /api/products/{id}                  Edit display fields

  Transactions:
    POST   /api/intake                         Record intake (locked by default)
    GET    /api/intake/{id}                    Read intake
    PUT    /api/intake/{id}                    Edit draft intake
    POST   /api/outtake                        Record outtake (admission checked)
    GET    /api/outtake/{id}                   Read outtake
    PUT    /api/outtake/{id}                   Edit draft outtake
    POST   /api/transactions/{type}/{id}/lock
    POST   /api/transactions/{type}/{id}/unlock

  Reads:
    GET    /api/inventory                      Units on hand per product
    GET    /api/history                        Intake + outtake, newest first
    GET    /api/reports/inventory              Inventory as CSV
    GET    /api/audit                          Negative-balance audit

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Product or transaction not found
  - 409: Locked transaction, insufficient inventory, duplicate identity
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - report.go: CSV export
  - scenarios.go: Demo data loader
  - audit.go: Periodic inventory audit
  - server.go: Router setup and middleware
*/
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Controller *ledger.Controller

	// Audit is optional. When set, GET /api/audit records into it.
	Audit *AuditScheduler
}

// NewHandler creates a new handler over the controller.
func NewHandler(c *ledger.Controller) *Handler {
	return &Handler{Controller: c}
}

// =============================================================================
// PRODUCT ENDPOINTS
// =============================================================================

// ListProducts returns the catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Controller.Catalog().ListProducts(r.Context())
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	dtos := make([]ProductDTO, len(products))
	for i, p := range products {
		dtos[i] = toProductDTO(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": dtos})
}

// CreateProduct adds a product. A duplicate identity is a 409.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.Controller.Catalog().CreateProduct(r.Context(), req.identity())
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": toProductDTO(p)})
}

// UpdateProduct edits a product's display fields.
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req UpdateProductRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id := ledger.ProductID(chi.URLParam(r, "id"))
	p, err := h.Controller.Catalog().UpdateProduct(r.Context(), id, req.patch())
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": toProductDTO(p)})
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// CreateTransaction returns the create handler for one kind.
func (h *Handler) CreateTransaction(kind ledger.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransactionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in, err := req.createInput()
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		tx, err := h.Controller.Create(r.Context(), kind, in)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"transaction": toTransactionDTO(tx)})
	}
}

// UpdateTransaction returns the edit handler for one kind.
func (h *Handler) UpdateTransaction(kind ledger.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransactionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		in, err := req.updateInput()
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		id := ledger.TransactionID(chi.URLParam(r, "id"))
		tx, err := h.Controller.Update(r.Context(), kind, id, in)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transaction": toTransactionDTO(tx)})
	}
}

// GetTransaction returns the read handler for one kind.
func (h *Handler) GetTransaction(kind ledger.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := ledger.TransactionID(chi.URLParam(r, "id"))
		tx, err := h.Controller.Get(r.Context(), kind, id)
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transaction": toTransactionDTO(tx)})
	}
}

// LockTransaction and UnlockTransaction flip the status named in the path.
func (h *Handler) LockTransaction(w http.ResponseWriter, r *http.Request) {
	h.setLockState(w, r, true)
}

func (h *Handler) UnlockTransaction(w http.ResponseWriter, r *http.Request) {
	h.setLockState(w, r, false)
}

func (h *Handler) setLockState(w http.ResponseWriter, r *http.Request, locked bool) {
	kind, err := ledger.ParseKind(chi.URLParam(r, "type"))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	state, err := h.Controller.SetLockState(r.Context(), kind, id, locked)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction": LockStateDTO{
		ID:     string(state.ID),
		Type:   string(state.Kind),
		Locked: state.Locked,
	}})
}

// =============================================================================
// READ ENDPOINTS
// =============================================================================

// GetInventory returns units on hand per product.
func (h *Handler) GetInventory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Controller.Balances().Snapshot(r.Context(), snapshotFilter(r))
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	dtos := make([]InventoryRowDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toInventoryRowDTO(row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"rows": dtos})
}

// GetHistory lists transactions of both kinds, newest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilter(r)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	txs, err := h.Controller.History(r.Context(), filter)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": dtos})
}

func snapshotFilter(r *http.Request) ledger.SnapshotFilter {
	q := r.URL.Query()
	includeZero, _ := strconv.ParseBool(q.Get("includeZero"))
	name := q.Get("productName")
	if name == "" {
		name = q.Get("product")
	}
	return ledger.SnapshotFilter{
		Name:        name,
		Category:    q.Get("category"),
		Lot:         q.Get("lot"),
		IncludeZero: includeZero,
	}
}

// historyFilter parses type (all|intake|outtake), startDate and endDate.
// endDate includes the whole calendar day.
func historyFilter(r *http.Request) (ledger.HistoryFilter, error) {
	q := r.URL.Query()
	var f ledger.HistoryFilter

	switch t := strings.ToLower(strings.TrimSpace(q.Get("type"))); t {
	case "", "all":
	default:
		kind, err := ledger.ParseKind(t)
		if err != nil {
			return f, &ledger.ValidationError{Code: ledger.CodeInvalidPayload, Field: "type", Message: "type must be one of: all, intake, outtake"}
		}
		f.Kind = kind
	}

	if v := q.Get("startDate"); v != "" {
		from, err := parseDate(v, "startDate")
		if err != nil {
			return f, err
		}
		f.From = from
	}
	if v := q.Get("endDate"); v != "" {
		to, err := parseDate(v, "endDate")
		if err != nil {
			return f, err
		}
		f.To = ledger.EndOfDay(to)
	}
	return f, nil
}
