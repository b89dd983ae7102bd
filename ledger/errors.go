/*
errors.go - Error taxonomy for the stock ledger

ERROR KINDS:
  validation              malformed input, empty line items, non-positive units
  not_found               unknown product or transaction id
  conflict_locked         mutation of a locked transaction
  insufficient_inventory  admission check failed
  identity_conflict       product identity collides with another product
  internal                unexpected store failure

Every error carries a stable machine-readable code (Code) next to its
human-readable message. Structured errors unwrap to a sentinel so callers
can use errors.Is without caring about the concrete type.

USAGE:
  if errors.Is(err, ledger.ErrInsufficientInventory) {
      var ie *ledger.InsufficientInventoryError
      errors.As(err, &ie)
      // ie.Requested, ie.Available
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation            = errors.New("validation failed")
	ErrNotFound              = errors.New("not found")
	ErrLocked                = errors.New("transaction locked")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrIdentityConflict      = errors.New("product identity conflict")
	ErrInternal              = errors.New("internal error")
)

// ErrorKind classifies an error for callers that need a coarse decision.
type ErrorKind string

const (
	KindValidation            ErrorKind = "validation"
	KindNotFound              ErrorKind = "not_found"
	KindConflictLocked        ErrorKind = "conflict_locked"
	KindInsufficientInventory ErrorKind = "insufficient_inventory"
	KindIdentityConflict      ErrorKind = "identity_conflict"
	KindInternal              ErrorKind = "internal"
)

// Stable codes.
const (
	CodeInvalidPayload          = "invalid_payload"
	CodeLineItemsRequired       = "line_items_required"
	CodeProductRequired         = "product_required"
	CodeUnitsInvalid            = "units_invalid"
	CodeDateRequired            = "date_required"
	CodeCustomerNotAllowed      = "customer_not_allowed"
	CodeProductNotFound         = "product_not_found"
	CodeTransactionNotFound     = "transaction_not_found"
	CodeTransactionLocked       = "transaction_locked"
	CodeInsufficientInventory   = "insufficient_inventory"
	CodeProductIdentityConflict = "product_identity_conflict"
	CodeInternal                = "internal_error"
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError reports the first offending field of an input.
type ValidationError struct {
	Code    string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a missing product or transaction.
type NotFoundError struct {
	Resource string // "product", "intake", "outtake"
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func (e *NotFoundError) code() string {
	if e.Resource == "product" {
		return CodeProductNotFound
	}
	return CodeTransactionNotFound
}

// LockedError is returned when a locked transaction is mutated.
type LockedError struct {
	Kind Kind
	ID   TransactionID
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s transaction %s is locked and cannot be mutated until it is unlocked", e.Kind, e.ID)
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// InsufficientInventoryError carries the product that failed admission.
type InsufficientInventoryError struct {
	ProductID ProductID
	Requested int64
	Available int64
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("requested units (%d) exceed units on hand (%d) for product %s",
		e.Requested, e.Available, e.ProductID)
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

// IdentityConflictError is returned when a product write collides with the
// (name, category, lot) of another product.
type IdentityConflictError struct {
	Identity ProductIdentity
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("a product named %q in category %q with lot %q already exists",
		e.Identity.Name, e.Identity.Category, e.Identity.Lot)
}

func (e *IdentityConflictError) Unwrap() error { return ErrIdentityConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies err. Anything outside the taxonomy is internal.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrLocked):
		return KindConflictLocked
	case errors.Is(err, ErrInsufficientInventory):
		return KindInsufficientInventory
	case errors.Is(err, ErrIdentityConflict):
		return KindIdentityConflict
	default:
		return KindInternal
	}
}

// Code returns the stable machine-readable code for err.
func Code(err error) string {
	var (
		ve *ValidationError
		ne *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		return ve.Code
	case errors.As(err, &ne):
		return ne.code()
	}

	switch KindOf(err) {
	case KindValidation:
		return CodeInvalidPayload
	case KindNotFound:
		return CodeTransactionNotFound
	case KindConflictLocked:
		return CodeTransactionLocked
	case KindInsufficientInventory:
		return CodeInsufficientInventory
	case KindIdentityConflict:
		return CodeProductIdentityConflict
	default:
		return CodeInternal
	}
}

// IsClientError returns true if the caller can fix the request and resubmit.
func IsClientError(err error) bool {
	k := KindOf(err)
	return k != KindInternal && k != KindNotFound
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
