/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication and converts them to
  and from ledger types. Field names follow the web client's vocabulary
  (productName, productCategory, lotNumber, locked).

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

UNITS:
  Units arrive as JSON numbers and are decoded with shopspring/decimal so
  that 2.5 or 1e20 are rejected instead of being silently truncated by a
  float-to-int conversion.

PRESENCE:
  Update requests distinguish "absent" from "null" from "value". Optional
  fields use the optional type below; lineItems uses a pointer to a slice
  so that [] is rejected rather than treated as "keep".

SEE ALSO:
  - handlers.go: Uses these types
  - errors.go: Error response mapping
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-ledger/ledger"
)

// =============================================================================
// OPTIONAL FIELDS
// =============================================================================

// optional records whether a JSON key was present. null decodes as
// present with the zero value and Null set.
type optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// given reports a present, non-null value.
func (o optional[T]) given() bool { return o.Set && !o.Null }

func (o *optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		o.Value = zero
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// =============================================================================
// PRODUCTS
// =============================================================================

// ProductDTO represents a product in API responses.
type ProductDTO struct {
	ID              string    `json:"id"`
	ProductName     string    `json:"productName"`
	ProductCategory string    `json:"productCategory"`
	LotNumber       string    `json:"lotNumber"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type CreateProductRequest struct {
	ProductName     string `json:"productName"`
	ProductCategory string `json:"productCategory"`
	LotNumber       string `json:"lotNumber"`
}

type UpdateProductRequest struct {
	ProductName     optional[string] `json:"productName"`
	ProductCategory optional[string] `json:"productCategory"`
	LotNumber       optional[string] `json:"lotNumber"`
}

func (r CreateProductRequest) identity() ledger.ProductIdentity {
	return ledger.ProductIdentity{Name: r.ProductName, Category: r.ProductCategory, Lot: r.LotNumber}
}

func (r UpdateProductRequest) patch() ledger.ProductPatch {
	var p ledger.ProductPatch
	if r.ProductName.Set {
		p.Name = &r.ProductName.Value
	}
	if r.ProductCategory.Set {
		p.Category = &r.ProductCategory.Value
	}
	if r.LotNumber.Set {
		p.Lot = &r.LotNumber.Value
	}
	return p
}

func toProductDTO(p ledger.Product) ProductDTO {
	return ProductDTO{
		ID:              string(p.ID),
		ProductName:     p.Name,
		ProductCategory: p.Category,
		LotNumber:       p.Lot,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// LineItemRequest is one proposed line item. Intake may name a product
// inline instead of by id.
type LineItemRequest struct {
	ProductID       string          `json:"productId"`
	ProductName     string          `json:"productName"`
	ProductCategory string          `json:"productCategory"`
	LotNumber       string          `json:"lotNumber"`
	Units           decimal.Decimal `json:"units"`
}

// TransactionRequest is the body of both create and update. On create,
// absent fields take their defaults; on update, absent fields are kept.
type TransactionRequest struct {
	Date      optional[string]   `json:"date"`
	Notes     optional[string]   `json:"notes"`
	Customer  optional[string]   `json:"customer"`
	LineItems *[]LineItemRequest `json:"lineItems"`
	Save      optional[bool]     `json:"save"`
	Status    optional[string]   `json:"status"`
}

// LineItemDTO is a line item with its product's display fields.
type LineItemDTO struct {
	ID              string `json:"id"`
	ProductID       string `json:"productId"`
	ProductName     string `json:"productName"`
	ProductCategory string `json:"productCategory"`
	LotNumber       string `json:"lotNumber"`
	Units           int64  `json:"units"`
}

// TransactionDTO represents an intake or outtake in API responses.
type TransactionDTO struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Date      time.Time     `json:"date"`
	Notes     *string       `json:"notes"`
	Customer  *string       `json:"customer,omitempty"`
	Locked    bool          `json:"locked"`
	Status    string        `json:"status"`
	LineItems []LineItemDTO `json:"lineItems"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// LockStateDTO is the result of a lock or unlock.
type LockStateDTO struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Locked bool   `json:"locked"`
}

func (r TransactionRequest) createInput() (ledger.CreateInput, error) {
	var in ledger.CreateInput
	if !r.Date.Set || strings.TrimSpace(r.Date.Value) == "" {
		return in, &ledger.ValidationError{Code: ledger.CodeDateRequired, Field: "date", Message: "date is required"}
	}
	date, err := parseDate(r.Date.Value, "date")
	if err != nil {
		return in, err
	}
	in.Date = date
	in.Notes = r.Notes.Value
	in.Customer = r.Customer.Value

	if r.LineItems == nil {
		return in, &ledger.ValidationError{Code: ledger.CodeLineItemsRequired, Field: "lineItems", Message: "at least one line item is required"}
	}
	if in.LineItems, err = toLineItemInputs(*r.LineItems); err != nil {
		return in, err
	}
	if in.Status, err = r.status(); err != nil {
		return in, err
	}
	return in, nil
}

func (r TransactionRequest) updateInput() (ledger.UpdateInput, error) {
	var in ledger.UpdateInput
	if r.Date.Set {
		date, err := parseDate(r.Date.Value, "date")
		if err != nil {
			return in, err
		}
		in.Date = &date
	}
	if r.Notes.Set {
		notes := r.Notes.Value
		in.Notes = &notes
	}
	if r.Customer.Set {
		customer := r.Customer.Value
		in.Customer = &customer
	}
	if r.LineItems != nil {
		items, err := toLineItemInputs(*r.LineItems)
		if err != nil {
			return in, err
		}
		in.LineItems = items
	}
	status, err := r.status()
	if err != nil {
		return in, err
	}
	in.Status = status
	return in, nil
}

// status merges save and status. nil means the caller sent neither; null
// counts as not sent.
func (r TransactionRequest) status() (*ledger.Status, error) {
	var fromSave, fromStatus *ledger.Status
	if r.Save.given() {
		s := ledger.StatusFor(r.Save.Value)
		fromSave = &s
	}
	if r.Status.given() {
		s := ledger.Status(strings.ToLower(strings.TrimSpace(r.Status.Value)))
		if !s.Valid() {
			return nil, &ledger.ValidationError{Code: ledger.CodeInvalidPayload, Field: "status", Message: "status must be draft or locked"}
		}
		fromStatus = &s
	}
	if fromSave != nil && fromStatus != nil && *fromSave != *fromStatus {
		return nil, &ledger.ValidationError{Code: ledger.CodeInvalidPayload, Field: "status", Message: "save and status disagree"}
	}
	if fromStatus != nil {
		return fromStatus, nil
	}
	return fromSave, nil
}

// toLineItemInputs keeps a non-nil result for an empty input so the ledger
// reports the missing line items.
func toLineItemInputs(items []LineItemRequest) ([]ledger.LineItemInput, error) {
	out := make([]ledger.LineItemInput, 0, len(items))
	for i, item := range items {
		units, err := parseUnits(item.Units, fmt.Sprintf("lineItems[%d].units", i))
		if err != nil {
			return nil, err
		}
		in := ledger.LineItemInput{
			ProductID: ledger.ProductID(strings.TrimSpace(item.ProductID)),
			Units:     units,
		}
		if in.ProductID == "" && (item.ProductName != "" || item.ProductCategory != "" || item.LotNumber != "") {
			in.Identity = &ledger.ProductIdentity{
				Name:     item.ProductName,
				Category: item.ProductCategory,
				Lot:      item.LotNumber,
			}
		}
		out = append(out, in)
	}
	return out, nil
}

// parseUnits accepts positive whole numbers that fit in an int64.
func parseUnits(d decimal.Decimal, field string) (int64, error) {
	invalid := &ledger.ValidationError{Code: ledger.CodeUnitsInvalid, Field: field, Message: "units must be a positive whole number"}
	if !d.IsInteger() || !d.IsPositive() {
		return 0, invalid
	}
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, invalid
	}
	return d.IntPart(), nil
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseDate accepts RFC 3339 timestamps and plain calendar dates (UTC).
func parseDate(value, field string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ledger.ValidationError{Code: ledger.CodeInvalidPayload, Field: field, Message: field + " must be a valid date"}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:        string(tx.ID),
		Type:      string(tx.Kind),
		Date:      tx.Date,
		Locked:    tx.Locked(),
		Status:    string(tx.Status),
		LineItems: make([]LineItemDTO, len(tx.LineItems)),
		CreatedAt: tx.CreatedAt,
		UpdatedAt: tx.UpdatedAt,
	}
	if tx.Notes != "" {
		notes := tx.Notes
		dto.Notes = &notes
	}
	if tx.Kind == ledger.KindOuttake {
		customer := tx.Customer
		dto.Customer = &customer
	}
	for i, item := range tx.LineItems {
		dto.LineItems[i] = LineItemDTO{
			ID:              item.ID,
			ProductID:       string(item.ProductID),
			ProductName:     item.ProductName,
			ProductCategory: item.Category,
			LotNumber:       item.Lot,
			Units:           item.Units,
		}
	}
	return dto
}

// =============================================================================
// INVENTORY
// =============================================================================

// InventoryRowDTO is one product's units on hand.
type InventoryRowDTO struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Category    string `json:"category"`
	Lot         string `json:"lot"`
	UnitsOnHand int64  `json:"unitsOnHand"`
}

func toInventoryRowDTO(row ledger.SnapshotRow) InventoryRowDTO {
	return InventoryRowDTO{
		ProductID:   string(row.ProductID),
		ProductName: row.Name,
		Category:    row.Category,
		Lot:         row.Lot,
		UnitsOnHand: row.Balance,
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
