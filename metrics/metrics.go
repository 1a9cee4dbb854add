// Package metrics holds the prometheus collectors shared by the gateway
// components. Collectors are registered once on the default registry.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// GatewayMetrics is the set of collectors reported by a running gateway. A
// nil *GatewayMetrics is valid and discards all observations.
type GatewayMetrics struct {
	nodeHealth         *prometheus.GaugeVec
	nodesByStatus      *prometheus.GaugeVec
	submitResolution   *prometheus.CounterVec
	resubmitResolution *prometheus.CounterVec
	ledgerClockLag     prometheus.Gauge
	ingestTop          prometheus.Gauge
	ingestBatch        prometheus.Histogram
}

var (
	gatewayOnce     sync.Once
	gatewayRegistry *GatewayMetrics
)

// Gateway returns the process-wide collectors, registering them on first use.
func Gateway() *GatewayMetrics {
	gatewayOnce.Do(func() {
		gatewayRegistry = &GatewayMetrics{
			nodeHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "gateway_core_node_health",
				Help: "Health of each configured core node: 1 synced, 0.5 lagging, 0 unhealthy.",
			}, []string{"node"}),
			nodesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "gateway_core_nodes_by_status",
				Help: "Number of enabled core nodes in each health status after the last probe cycle.",
			}, []string{"status"}),
			submitResolution: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gateway_transaction_submit_resolution_total",
				Help: "Outcomes of transaction submissions received by the gateway.",
			}, []string{"result"}),
			resubmitResolution: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "gateway_transaction_resubmit_resolution_total",
				Help: "Outcomes of background transaction resubmissions.",
			}, []string{"result"}),
			ledgerClockLag: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "gateway_ledger_tip_round_timestamp_clock_lag_seconds",
				Help: "Delay between the gateway clock and the resolved round timestamp at the last request.",
			}),
			ingestTop: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "gateway_ingest_top_state_version",
				Help: "Highest state version committed to the read replica.",
			}),
			ingestBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "gateway_ingest_batch_size",
				Help:    "Number of transactions committed per ingestion batch.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 6),
			}),
		}
		prometheus.MustRegister(
			gatewayRegistry.nodeHealth,
			gatewayRegistry.nodesByStatus,
			gatewayRegistry.submitResolution,
			gatewayRegistry.resubmitResolution,
			gatewayRegistry.ledgerClockLag,
			gatewayRegistry.ingestTop,
			gatewayRegistry.ingestBatch,
		)
	})
	return gatewayRegistry
}

// SetNodeHealth records the health value of a single node.
func (m *GatewayMetrics) SetNodeHealth(node string, value float64) {
	if m == nil {
		return
	}
	m.nodeHealth.WithLabelValues(node).Set(value)
}

// SetNodesByStatus records how many nodes ended a probe cycle in status.
func (m *GatewayMetrics) SetNodesByStatus(status string, count int) {
	if m == nil {
		return
	}
	m.nodesByStatus.WithLabelValues(status).Set(float64(count))
}

// ObserveSubmitResolution counts one submission outcome.
func (m *GatewayMetrics) ObserveSubmitResolution(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.submitResolution.WithLabelValues(result).Inc()
}

// ObserveResubmitResolution counts one resubmission outcome.
func (m *GatewayMetrics) ObserveResubmitResolution(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = "unknown"
	}
	m.resubmitResolution.WithLabelValues(result).Inc()
}

// SetLedgerClockLag records the lag, in seconds, of the last resolved state.
func (m *GatewayMetrics) SetLedgerClockLag(seconds float64) {
	if m == nil {
		return
	}
	m.ledgerClockLag.Set(seconds)
}

// ObserveIngest records a committed ingestion batch.
func (m *GatewayMetrics) ObserveIngest(top uint64, batchSize int) {
	if m == nil {
		return
	}
	m.ingestTop.Set(float64(top))
	m.ingestBatch.Observe(float64(batchSize))
}
