/*
lifecycle.go - Transaction lifecycle controller

STATE MACHINE:

      create(status)                 SetLockState(true)
   ───────────────▶ [draft] ─────────────────────────────▶ [locked]
                      ▲   │ Update (fields, line items,        │
                      │   │  status) only while draft          │
                      │   └──────────────┐                     │
                      └──────────────────┴─────────────────────┘
                               SetLockState(false)

  draft  -> locked : outtake runs the admission check (own id excluded)
  locked -> draft  : outtake unconditional; intake runs the release check
  locked -> *      : any field / line-item edit is a *LockedError

ATOMICITY:
  Every operation runs inside TxStore.WithTx. Admission reads and the status
  write share one unit of work, so two concurrent lockers of the same
  marginal stock cannot both pass (see store.go for per-store guarantees).

OPERATIONS:
  Create        validate -> resolve products -> [admit] -> insert -> read back
  Update        validate -> load -> reject locked -> merge -> [admit] -> write
  SetLockState  load -> [admit | release] -> flip status
*/
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Observer is notified of admission decisions and commits. Implementations
// must be safe for concurrent use.
type Observer interface {
	AdmissionChecked(kind Kind, err error)
	Committed(kind Kind, op string)
}

type nopObserver struct{}

func (nopObserver) AdmissionChecked(Kind, error) {}
func (nopObserver) Committed(Kind, string)       {}

// Operation names passed to Observer.Committed.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpLock   = "lock"
	OpUnlock = "unlock"
)

// =============================================================================
// CONTROLLER
// =============================================================================

type Controller struct {
	Store    TxStore
	Observer Observer
	NewID    func() string
	Now      func() time.Time
}

// NewController returns a Controller with UUID ids, UTC time and no observer.
func NewController(store TxStore) *Controller {
	return &Controller{
		Store:    store,
		Observer: nopObserver{},
		NewID:    uuid.NewString,
		Now:      utcNow,
	}
}

// Catalog returns a Catalog over the controller's store.
func (c *Controller) Catalog() *Catalog {
	return c.catalog(c.Store)
}

// Balances returns a balance reader over the controller's store.
func (c *Controller) Balances() Balances {
	return Balances{Store: c.Store}
}

func (c *Controller) catalog(s Store) *Catalog {
	return &Catalog{Store: s, NewID: c.NewID, Now: c.Now}
}

func (c *Controller) observer() Observer {
	if c.Observer == nil {
		return nopObserver{}
	}
	return c.Observer
}

// =============================================================================
// CREATE
// =============================================================================

// Create persists a new transaction. The status defaults to locked.
func (c *Controller) Create(ctx context.Context, kind Kind, in CreateInput) (Transaction, error) {
	in, err := validateCreate(kind, in)
	if err != nil {
		return Transaction{}, err
	}
	status := StatusLocked
	if in.Status != nil {
		status = *in.Status
	}

	id := TransactionID(c.NewID())
	var created Transaction
	err = c.Store.WithTx(ctx, func(s Store) error {
		items, err := c.resolveLineItems(ctx, s, kind, in.LineItems)
		if err != nil {
			return err
		}

		if status == StatusLocked && kind == KindOuttake {
			err := admit(ctx, s, items, "")
			c.observer().AdmissionChecked(kind, err)
			if err != nil {
				return err
			}
		}

		now := c.Now()
		tx := Transaction{
			ID:        id,
			Kind:      kind,
			Date:      in.Date.UTC(),
			Notes:     in.Notes,
			Customer:  in.Customer,
			Status:    status,
			LineItems: items,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.InsertTransaction(ctx, tx); err != nil {
			return fmt.Errorf("insert %s transaction: %w", kind, err)
		}

		created, err = s.GetTransaction(ctx, kind, id)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	c.observer().Committed(kind, OpCreate)
	return created, nil
}

// =============================================================================
// UPDATE
// =============================================================================

// Update applies the present fields of in to a draft transaction.
func (c *Controller) Update(ctx context.Context, kind Kind, id TransactionID, in UpdateInput) (Transaction, error) {
	id, err := requireID(kind, id)
	if err != nil {
		return Transaction{}, err
	}
	in, err = validateUpdate(kind, in)
	if err != nil {
		return Transaction{}, err
	}

	var updated Transaction
	err = c.Store.WithTx(ctx, func(s Store) error {
		// Hold the row first so a concurrent lock or edit cannot slip in
		// between the status check and the write.
		if err := s.LockTransaction(ctx, kind, id); err != nil {
			return err
		}
		existing, err := s.GetTransaction(ctx, kind, id)
		if err != nil {
			return err
		}
		if existing.Locked() {
			return &LockedError{Kind: kind, ID: id}
		}

		next := existing
		if in.Date != nil {
			next.Date = in.Date.UTC()
		}
		if in.Notes != nil {
			next.Notes = *in.Notes
		}
		if in.Customer != nil {
			next.Customer = *in.Customer
		}
		if in.Status != nil {
			next.Status = *in.Status
		}
		if in.LineItems != nil {
			next.LineItems, err = c.resolveLineItems(ctx, s, kind, in.LineItems)
			if err != nil {
				return err
			}
		}

		if next.Locked() && kind == KindOuttake {
			err := admit(ctx, s, next.LineItems, id)
			c.observer().AdmissionChecked(kind, err)
			if err != nil {
				return err
			}
		}

		next.UpdatedAt = c.Now()
		if err := s.UpdateTransaction(ctx, next); err != nil {
			return fmt.Errorf("update %s transaction %s: %w", kind, id, err)
		}
		if in.LineItems != nil {
			if err := s.ReplaceLineItems(ctx, id, next.LineItems); err != nil {
				return fmt.Errorf("replace line items of %s: %w", id, err)
			}
		}

		updated, err = s.GetTransaction(ctx, kind, id)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	c.observer().Committed(kind, OpUpdate)
	return updated, nil
}

// =============================================================================
// LOCK / UNLOCK
// =============================================================================

// SetLockState flips the status of a transaction without editing it.
func (c *Controller) SetLockState(ctx context.Context, kind Kind, id TransactionID, locked bool) (LockState, error) {
	if !kind.Valid() {
		return LockState{}, &ValidationError{Code: CodeInvalidPayload, Field: "type", Message: "transaction type must be intake or outtake"}
	}
	id, err := requireID(kind, id)
	if err != nil {
		return LockState{}, err
	}

	err = c.Store.WithTx(ctx, func(s Store) error {
		if err := s.LockTransaction(ctx, kind, id); err != nil {
			return err
		}
		existing, err := s.GetTransaction(ctx, kind, id)
		if err != nil {
			return err
		}

		switch {
		case locked && kind == KindOuttake:
			err := admit(ctx, s, existing.LineItems, id)
			c.observer().AdmissionChecked(kind, err)
			if err != nil {
				return err
			}
		case !locked && kind == KindIntake && existing.Locked():
			if err := release(ctx, s, existing.LineItems, id); err != nil {
				return err
			}
		}

		return s.SetStatus(ctx, kind, id, StatusFor(locked), c.Now())
	})
	if err != nil {
		return LockState{}, err
	}

	op := OpUnlock
	if locked {
		op = OpLock
	}
	c.observer().Committed(kind, op)
	return LockState{ID: id, Kind: kind, Locked: locked}, nil
}

// =============================================================================
// READS
// =============================================================================

// Get returns one transaction with its line items.
func (c *Controller) Get(ctx context.Context, kind Kind, id TransactionID) (Transaction, error) {
	id, err := requireID(kind, id)
	if err != nil {
		return Transaction{}, err
	}
	return c.Store.GetTransaction(ctx, kind, id)
}

// History lists draft and locked transactions, newest first.
func (c *Controller) History(ctx context.Context, filter HistoryFilter) ([]Transaction, error) {
	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, &ValidationError{Code: CodeInvalidPayload, Field: "type", Message: "type must be one of: all, intake, outtake"}
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, &ValidationError{Code: CodeInvalidPayload, Field: "endDate", Message: "endDate must not be before startDate"}
	}
	txs, err := c.Store.ListTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	sortHistory(txs)
	return txs, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// resolveLineItems turns inputs into line items with product ids, creating
// inline intake products through the catalog upsert.
func (c *Controller) resolveLineItems(ctx context.Context, s Store, kind Kind, inputs []LineItemInput) ([]LineItem, error) {
	catalog := c.catalog(s)
	items := make([]LineItem, len(inputs))
	for i, in := range inputs {
		var (
			p   Product
			err error
		)
		if in.ProductID != "" {
			p, err = s.GetProduct(ctx, in.ProductID)
		} else if kind == KindIntake && in.Identity != nil {
			p, err = catalog.UpsertProductByIdentity(ctx, *in.Identity)
		} else {
			err = &ValidationError{Code: CodeProductRequired, Field: fmt.Sprintf("lineItems[%d].productId", i), Message: "product is required"}
		}
		if err != nil {
			return nil, err
		}
		items[i] = LineItem{
			ID:          c.NewID(),
			ProductID:   p.ID,
			Units:       in.Units,
			ProductName: p.Name,
			Category:    p.Category,
			Lot:         p.Lot,
		}
	}
	return items, nil
}

func requireID(kind Kind, id TransactionID) (TransactionID, error) {
	id = TransactionID(strings.TrimSpace(string(id)))
	if id == "" {
		return "", &ValidationError{Code: CodeInvalidPayload, Field: "id", Message: fmt.Sprintf("%s transaction id is required", kind)}
	}
	return id, nil
}
