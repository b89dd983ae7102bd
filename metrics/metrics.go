// Package metrics exports ledger activity as Prometheus collectors.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/stock-ledger/ledger"
)

var _ ledger.Observer = (*Recorder)(nil)

// Recorder implements ledger.Observer.
type Recorder struct {
	registry   *prometheus.Registry
	admissions *prometheus.CounterVec
	commits    *prometheus.CounterVec

	auditRuns     *prometheus.CounterVec
	auditProducts prometheus.Gauge
	auditUnits    prometheus.Gauge
	auditNegative prometheus.Gauge
}

// NewRecorder registers the ledger collectors plus Go and process
// collectors on a private registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stock_ledger",
			Name:      "admission_checks_total",
			Help:      "Outtake admission checks by result (admitted, rejected, error).",
		}, []string{"kind", "result"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stock_ledger",
			Name:      "transactions_committed_total",
			Help:      "Committed ledger operations by transaction kind and operation.",
		}, []string{"kind", "op"}),
		auditRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stock_ledger",
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Inventory audit runs by result (ok, negative, error).",
		}, []string{"result"}),
		auditProducts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stock_ledger",
			Subsystem: "audit",
			Name:      "products",
			Help:      "Products seen by the last successful audit.",
		}),
		auditUnits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stock_ledger",
			Subsystem: "audit",
			Name:      "units_on_hand",
			Help:      "Total units on hand at the last successful audit.",
		}),
		auditNegative: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stock_ledger",
			Subsystem: "audit",
			Name:      "negative_balances",
			Help:      "Products with a negative balance at the last successful audit. Should be 0.",
		}),
	}
	r.registry.MustRegister(
		r.admissions,
		r.commits,
		r.auditRuns,
		r.auditProducts,
		r.auditUnits,
		r.auditNegative,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) AdmissionChecked(kind ledger.Kind, err error) {
	result := "admitted"
	switch {
	case errors.Is(err, ledger.ErrInsufficientInventory):
		result = "rejected"
	case err != nil:
		result = "error"
	}
	r.admissions.WithLabelValues(string(kind), result).Inc()
}

func (r *Recorder) Committed(kind ledger.Kind, op string) {
	r.commits.WithLabelValues(string(kind), op).Inc()
}

// AuditCompleted implements api.AuditReporter. A failed run only bumps the
// error counter; the gauges keep the last good values.
func (r *Recorder) AuditCompleted(products int, unitsOnHand int64, negative int, failed bool) {
	if failed {
		r.auditRuns.WithLabelValues("error").Inc()
		return
	}
	result := "ok"
	if negative > 0 {
		result = "negative"
	}
	r.auditRuns.WithLabelValues(result).Inc()
	r.auditProducts.Set(float64(products))
	r.auditUnits.Set(float64(unitsOnHand))
	r.auditNegative.Set(float64(negative))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }
