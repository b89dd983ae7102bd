package ledger

import (
	"context"
	"sort"
)

// =============================================================================
// ADMISSION CHECK - May these outtake units leave stock?
// =============================================================================

// productDemand is the requested units for one product, in first-seen order.
type productDemand struct {
	ProductID ProductID
	Units     int64
}

func groupByProduct(items []LineItem) []productDemand {
	index := make(map[ProductID]int, len(items))
	var out []productDemand
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			out[i].Units += item.Units
			continue
		}
		index[item.ProductID] = len(out)
		out = append(out, productDemand{ProductID: item.ProductID, Units: item.Units})
	}
	return out
}

func productIDs(demand []productDemand) []ProductID {
	ids := make([]ProductID, len(demand))
	for i, d := range demand {
		ids[i] = d.ProductID
	}
	// Lock in a global order so two units of work never wait on each other.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// admit verifies that withdrawing items keeps every product's balance
// non-negative. exclude is the transaction being (re-)validated.
// s must be the Store of the unit of work that will commit the result.
func admit(ctx context.Context, s Store, items []LineItem, exclude TransactionID) error {
	demand := groupByProduct(items)
	if err := s.LockProducts(ctx, productIDs(demand)); err != nil {
		return err
	}

	balances := Balances{Store: s}
	for _, d := range demand {
		available, err := balances.Balance(ctx, d.ProductID, exclude)
		if err != nil {
			return err
		}
		if !CanWithdraw(available, d.Units) {
			return &InsufficientInventoryError{
				ProductID: d.ProductID,
				Requested: d.Units,
				Available: available,
			}
		}
	}
	return nil
}

// release verifies that taking a locked intake out of the count keeps every
// product it supplies at a non-negative balance.
func release(ctx context.Context, s Store, items []LineItem, id TransactionID) error {
	supply := groupByProduct(items)
	if err := s.LockProducts(ctx, productIDs(supply)); err != nil {
		return err
	}

	balances := Balances{Store: s}
	for _, d := range supply {
		remaining, err := balances.Balance(ctx, d.ProductID, id)
		if err != nil {
			return err
		}
		if remaining < 0 {
			return &InsufficientInventoryError{
				ProductID: d.ProductID,
				Requested: d.Units,
				Available: remaining + d.Units,
			}
		}
	}
	return nil
}
