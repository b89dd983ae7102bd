/*
audit.go - Periodic inventory audit

PURPOSE:
  Re-derives every product's units on hand on a fixed interval and reports
  any product whose balance is negative. Admission should make that
  impossible; a non-empty result means data was written around the
  controller (manual SQL, a restored backup) and needs attention.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each run takes one inventory snapshot, zero rows included
  - The latest result is kept for GET /api/audit
  - Results are pushed to an optional AuditReporter (Prometheus gauges)

CONFIGURATION:
  - CheckInterval: How often to check (AUDIT_INTERVAL, default: 1 hour)
  - Enabled: Whether scheduler is active (AUDIT_ENABLED, default: true)

USAGE:
  scheduler := NewAuditScheduler(controller)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - ledger/balance.go: Snapshot
  - metrics/metrics.go: AuditCompleted
*/
package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/warp/stock-ledger/ledger"
)

// AuditResult is the outcome of one audit run.
type AuditResult struct {
	RanAt       time.Time         `json:"ranAt"`
	Products    int               `json:"products"`
	UnitsOnHand int64             `json:"unitsOnHand"`
	Negative    []InventoryRowDTO `json:"negative"`
	Error       string            `json:"error,omitempty"`
}

// Healthy is true when the run completed and found no negative balance.
func (r AuditResult) Healthy() bool {
	return r.Error == "" && len(r.Negative) == 0
}

// AuditReporter receives every completed audit.
type AuditReporter interface {
	AuditCompleted(products int, unitsOnHand int64, negative int, failed bool)
}

// RunAudit takes one snapshot of c and summarizes it.
func RunAudit(ctx context.Context, c *ledger.Controller, now time.Time) AuditResult {
	result := AuditResult{RanAt: now, Negative: []InventoryRowDTO{}}

	rows, err := c.Balances().Snapshot(ctx, ledger.SnapshotFilter{IncludeZero: true})
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Products = len(rows)
	for _, row := range rows {
		result.UnitsOnHand += row.Balance
		if row.Balance < 0 {
			result.Negative = append(result.Negative, toInventoryRowDTO(row))
		}
	}
	return result
}

// =============================================================================
// SCHEDULER
// =============================================================================

// AuditScheduler runs RunAudit on a ticker.
type AuditScheduler struct {
	Controller    *ledger.Controller
	Reporter      AuditReporter
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	last    *AuditResult
	nextRun time.Time
}

// NewAuditScheduler creates a scheduler with a one hour interval.
func NewAuditScheduler(c *ledger.Controller) *AuditScheduler {
	return &AuditScheduler{
		Controller:    c,
		CheckInterval: time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler. The first audit runs immediately.
func (s *AuditScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Audit] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.nextRun = time.Now().Add(s.CheckInterval)
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	log.Printf("[Audit] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight run. Safe to call
// more than once.
func (s *AuditScheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("[Audit] Stopped")
}

func (s *AuditScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	s.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			s.nextRun = time.Now().Add(s.CheckInterval)
			s.mu.Unlock()
			s.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow audits immediately and records the result.
func (s *AuditScheduler) RunNow(ctx context.Context) AuditResult {
	result := RunAudit(ctx, s.Controller, time.Now().UTC())

	switch {
	case result.Error != "":
		log.Printf("[Audit] Failed: %s", result.Error)
	case len(result.Negative) > 0:
		for _, row := range result.Negative {
			log.Printf("[Audit] Negative balance: product %s (%s / %s / %s) has %d units",
				row.ProductID, row.ProductName, row.Category, row.Lot, row.UnitsOnHand)
		}
	default:
		log.Printf("[Audit] OK: %d products, %d units on hand", result.Products, result.UnitsOnHand)
	}

	if s.Reporter != nil {
		s.Reporter.AuditCompleted(result.Products, result.UnitsOnHand, len(result.Negative), result.Error != "")
	}

	s.mu.Lock()
	s.last = &result
	s.mu.Unlock()
	return result
}

// Last returns the most recent result, if any run has completed.
func (s *AuditScheduler) Last() (AuditResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return AuditResult{}, false
	}
	return *s.last, true
}

// NextRunTime returns when the ticker fires next. Zero when stopped.
func (s *AuditScheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker == nil {
		return time.Time{}
	}
	return s.nextRun
}

// =============================================================================
// ENDPOINT
// =============================================================================

// GetAudit runs an audit now. With a scheduler attached the result is also
// recorded and reported.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	var result AuditResult
	if h.Audit != nil {
		result = h.Audit.RunNow(r.Context())
	} else {
		result = RunAudit(r.Context(), h.Controller, time.Now().UTC())
	}

	status := http.StatusOK
	if result.Error != "" {
		log.Printf("audit: %s", result.Error)
		status = http.StatusInternalServerError
		result.Error = "internal error"
	}
	writeJSON(w, status, map[string]any{"audit": result, "healthy": result.Healthy()})
}
