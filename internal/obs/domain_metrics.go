package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// TransactionsTotal counts settlement outcomes by payment method.
	TransactionsTotal *prometheus.CounterVec
	// TransactionValue records settled grand totals in rupiah.
	TransactionValue *prometheus.HistogramVec
	// ReturnsTotal counts line returns; result is updated or deleted.
	ReturnsTotal *prometheus.CounterVec
	// EffectsStepTotal counts post-settlement pipeline steps by outcome.
	EffectsStepTotal *prometheus.CounterVec
	// SyncQueuedTotal counts mutations queued for remote sync.
	SyncQueuedTotal *prometheus.CounterVec
	// SyncDeliveriesTotal counts forwarder delivery outcomes.
	SyncDeliveriesTotal *prometheus.CounterVec
	// SyncDeliveryLatency records forwarder attempt latency in milliseconds.
	SyncDeliveryLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Count of settlement outcomes by payment method.",
		}, []string{"method", "result"})
		TransactionValue = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_value_rupiah",
			Help:      "Settled grand totals in rupiah.",
			Buckets:   []float64{5000, 10000, 25000, 50000, 100000, 250000, 500000, 1000000, 5000000},
		}, []string{"method"})
		ReturnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "returns_total",
			Help:      "Count of line returns by resulting transaction state.",
		}, []string{"result"})
		EffectsStepTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "effects_step_total",
			Help:      "Count of post-settlement pipeline steps by outcome.",
		}, []string{"step", "result"})
		SyncQueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_queued_total",
			Help:      "Count of mutations queued for remote sync by action.",
		}, []string{"action", "result"})
		SyncDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_deliveries_total",
			Help:      "Count of sync delivery outcomes by action.",
		}, []string{"action", "result"})
		SyncDeliveryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_delivery_duration_ms",
			Help:      "Latency for sync delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})

		mustRegisterCollector(reg, TransactionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				TransactionsTotal = v
			}
		})
		mustRegisterCollector(reg, TransactionValue, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				TransactionValue = v
			}
		})
		mustRegisterCollector(reg, ReturnsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReturnsTotal = v
			}
		})
		mustRegisterCollector(reg, EffectsStepTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				EffectsStepTotal = v
			}
		})
		mustRegisterCollector(reg, SyncQueuedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SyncQueuedTotal = v
			}
		})
		mustRegisterCollector(reg, SyncDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SyncDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, SyncDeliveryLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				SyncDeliveryLatency = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
