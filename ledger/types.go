/*
Package ledger provides the stock ledger engine.

PURPOSE:
  Tracks physical stock of discrete units per product by recording intake
  (stock entering) and outtake (stock leaving) transactions. The quantity on
  hand is never stored: it is derived from the line items of LOCKED
  transactions every time it is needed.

KEY CONCEPTS IN THIS FILE (types.go):
  - Product: catalog entry identified by (name, category, lot)
  - Transaction: intake or outtake record owning ordered line items
  - LineItem: (product, positive unit count)
  - Status: draft (mutable, not counted) or locked (immutable, counted)

CENTRAL INVARIANT:
  For every product:
    sum(locked intake units) - sum(locked outtake units) >= 0

  The Controller (lifecycle.go) is the only place that moves a transaction
  into the locked state, and it runs the admission check (admission.go)
  inside the same store unit of work as the status write.

SEE ALSO:
  - balance.go: Balance and snapshot computation
  - lifecycle.go: Create / Update / SetLockState
  - store.go: Persistence interfaces
*/
package ledger

import (
	"strings"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type TransactionID string

// =============================================================================
// KIND & STATUS
// =============================================================================

// Kind tells whether a transaction adds or removes stock.
type Kind string

const (
	KindIntake  Kind = "intake"
	KindOuttake Kind = "outtake"
)

func (k Kind) Valid() bool { return k == KindIntake || k == KindOuttake }

// ParseKind accepts "intake" or "outtake" (case-insensitive, trimmed).
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", &ValidationError{
			Code:    CodeInvalidPayload,
			Field:   "type",
			Message: "transaction type must be intake or outtake",
		}
	}
	return k, nil
}

// Status is the two-state lifecycle of a transaction.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusLocked Status = "locked"
)

func (s Status) Valid() bool { return s == StatusDraft || s == StatusLocked }

// StatusFor maps a lock flag to a status.
func StatusFor(locked bool) Status {
	if locked {
		return StatusLocked
	}
	return StatusDraft
}

// =============================================================================
// PRODUCT
// =============================================================================

// ProductIdentity is the uniqueness key of a product.
type ProductIdentity struct {
	Name     string
	Category string
	Lot      string
}

func (pi ProductIdentity) normalized() ProductIdentity {
	return ProductIdentity{
		Name:     strings.TrimSpace(pi.Name),
		Category: strings.TrimSpace(pi.Category),
		Lot:      strings.TrimSpace(pi.Lot),
	}
}

func (pi ProductIdentity) complete() bool {
	return pi.Name != "" && pi.Category != "" && pi.Lot != ""
}

type Product struct {
	ID        ProductID
	Name      string
	Category  string
	Lot       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Product) Identity() ProductIdentity {
	return ProductIdentity{Name: p.Name, Category: p.Category, Lot: p.Lot}
}

// =============================================================================
// TRANSACTION & LINE ITEMS
// =============================================================================

// LineItem is one (product, units) entry of a transaction. The product
// display fields are filled by the store when a transaction is read back.
type LineItem struct {
	ID        string
	ProductID ProductID
	Units     int64

	ProductName string
	Category    string
	Lot         string
}

type Transaction struct {
	ID        TransactionID
	Kind      Kind
	Date      time.Time
	Notes     string
	Customer  string // outtake only
	Status    Status
	LineItems []LineItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t Transaction) Locked() bool { return t.Status == StatusLocked }

// LockState is the result of SetLockState.
type LockState struct {
	ID     TransactionID
	Kind   Kind
	Locked bool
}

// =============================================================================
// INPUTS
// =============================================================================

// LineItemInput is a proposed line item. Exactly one of ProductID or
// Identity is used; Identity is accepted for intake only.
type LineItemInput struct {
	ProductID ProductID
	Identity  *ProductIdentity
	Units     int64
}

// CreateInput proposes a new transaction. A nil Status means locked.
type CreateInput struct {
	Date      time.Time
	Notes     string
	Customer  string
	LineItems []LineItemInput
	Status    *Status
}

// UpdateInput carries only the fields being changed. Pointer fields that
// are nil are left as they are; a pointer to "" clears notes/customer.
type UpdateInput struct {
	Date      *time.Time
	Notes     *string
	Customer  *string
	LineItems []LineItemInput // nil = keep, non-nil = full replace
	Status    *Status
}

func (in UpdateInput) empty() bool {
	return in.Date == nil && in.Notes == nil && in.Customer == nil &&
		in.LineItems == nil && in.Status == nil
}
