package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics aggregates the engine's operational counters and gauges.
type LendingMetrics struct {
	operations         *prometheus.CounterVec
	validationRejected *prometheus.CounterVec
	opportunities      prometheus.Gauge
	scanFailures       prometheus.Counter
	liquidationsTotal  prometheus.Counter
	liquidationProfit  prometheus.Counter
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide lending metrics, registering them on first
// use.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_total",
				Help: "Count of settled operations by type and terminal status.",
			}, []string{"type", "status"}),
			validationRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_validation_rejected_total",
				Help: "Count of operations rejected at validation by reason.",
			}, []string{"reason"}),
			opportunities: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "lending_liquidation_opportunities",
				Help: "Open liquidation opportunities after the latest scan.",
			}),
			scanFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_scan_borrower_failures_total",
				Help: "Per-borrower lookup failures tolerated during scans.",
			}),
			liquidationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_liquidations_executed_total",
				Help: "Count of liquidations executed.",
			}),
			liquidationProfit: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_liquidation_profit_usd_total",
				Help: "Cumulative USD profit captured by executed liquidations.",
			}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.validationRejected,
			lendingRegistry.opportunities,
			lendingRegistry.scanFailures,
			lendingRegistry.liquidationsTotal,
			lendingRegistry.liquidationProfit,
		)
	})
	return lendingRegistry
}

// ObserveOperation records a terminal operation outcome.
func (m *LendingMetrics) ObserveOperation(opType, status string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(opType, status).Inc()
}

// ObserveRejection records a validation rejection.
func (m *LendingMetrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	m.validationRejected.WithLabelValues(reason).Inc()
}

// SetOpportunities records the open opportunity count after a scan.
func (m *LendingMetrics) SetOpportunities(n int) {
	if m == nil {
		return
	}
	m.opportunities.Set(float64(n))
}

// ObserveScanFailure records one tolerated borrower lookup failure.
func (m *LendingMetrics) ObserveScanFailure() {
	if m == nil {
		return
	}
	m.scanFailures.Inc()
}

// ObserveLiquidation records an executed liquidation and its profit.
func (m *LendingMetrics) ObserveLiquidation(profitUSD float64) {
	if m == nil {
		return
	}
	m.liquidationsTotal.Inc()
	if profitUSD > 0 {
		m.liquidationProfit.Add(profitUSD)
	}
}
