/*
balance.go - Units on hand, computed from locked line items

KEY INSIGHT:
  There is no balance column anywhere. Units on hand for a product is

      sum(units of LOCKED intake line items)
    - sum(units of LOCKED outtake line items)

  Draft transactions never count. Editing history therefore can never make
  a stored counter drift from the ledger.

SELF-EXCLUSION:
  When an outtake that is already counted is re-validated (edit + re-lock),
  its own previous units must not be counted against its new units. Every
  balance read used for admission passes the transaction's id as exclude.

  Example: 10 in, outtake T locked with 4 -> balance 6.
  Re-validating T with 5 units:
    without exclusion: 6 available, 5 requested -> passes by luck
    with 9 units:      6 available, 9 requested -> wrongly rejected
    with exclusion:    10 available             -> correct
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// BALANCES - Pure reads over a Store
// =============================================================================

// Balances computes units on hand. It holds no state of its own; bind it to
// the Store of the current unit of work to read a consistent view.
type Balances struct {
	Store Store
}

// Balance returns locked intake minus locked outtake units for the product,
// omitting the line items of exclude.
func (b Balances) Balance(ctx context.Context, productID ProductID, exclude TransactionID) (int64, error) {
	in, err := b.Store.SumLockedUnits(ctx, productID, KindIntake, exclude)
	if err != nil {
		return 0, fmt.Errorf("sum locked intake for %s: %w", productID, err)
	}
	out, err := b.Store.SumLockedUnits(ctx, productID, KindOuttake, exclude)
	if err != nil {
		return 0, fmt.Errorf("sum locked outtake for %s: %w", productID, err)
	}
	return in - out, nil
}

// CanWithdraw reports whether requested units can leave a balance.
// Non-positive requests are always rejected.
func CanWithdraw(balance, requested int64) bool {
	return requested > 0 && requested <= balance
}

// =============================================================================
// SNAPSHOT - Balance of every product
// =============================================================================

// SnapshotFilter narrows the snapshot. Text filters are case-insensitive
// substrings; empty means no filter.
type SnapshotFilter struct {
	Name        string
	Category    string
	Lot         string
	IncludeZero bool // keep rows whose balance is <= 0
}

type SnapshotRow struct {
	ProductID ProductID
	Name      string
	Category  string
	Lot       string
	Balance   int64
}

// Snapshot returns one row per product, sorted by name, category, lot.
func (b Balances) Snapshot(ctx context.Context, filter SnapshotFilter) ([]SnapshotRow, error) {
	products, err := b.Store.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	totals, err := b.Store.LockedTotals(ctx)
	if err != nil {
		return nil, fmt.Errorf("locked totals: %w", err)
	}

	name := normalizeFilter(filter.Name)
	category := normalizeFilter(filter.Category)
	lot := normalizeFilter(filter.Lot)

	rows := make([]SnapshotRow, 0, len(products))
	for _, p := range products {
		row := SnapshotRow{
			ProductID: p.ID,
			Name:      p.Name,
			Category:  p.Category,
			Lot:       p.Lot,
			Balance:   totals[p.ID].Balance(),
		}
		if !filter.IncludeZero && row.Balance <= 0 {
			continue
		}
		if !containsFold(row.Name, name) || !containsFold(row.Category, category) || !containsFold(row.Lot, lot) {
			continue
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		a, c := rows[i], rows[j]
		if a.Name != c.Name {
			return a.Name < c.Name
		}
		if a.Category != c.Category {
			return a.Category < c.Category
		}
		if a.Lot != c.Lot {
			return a.Lot < c.Lot
		}
		return a.ProductID < c.ProductID
	})
	return rows, nil
}

func normalizeFilter(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func containsFold(value, needle string) bool {
	return needle == "" || strings.Contains(strings.ToLower(value), needle)
}
