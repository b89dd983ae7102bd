package ledger

import (
	"sort"
	"time"
)

// EndOfDay returns the last representable instant of t's calendar day (UTC),
// so an end date of 2026-02-12 includes everything recorded that day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
}

// sortHistory orders newest first, ties broken by id descending.
func sortHistory(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.After(txs[j].Date)
		}
		return txs[i].ID > txs[j].ID
	})
}
