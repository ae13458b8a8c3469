package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bridge.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// --- Operations ---
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	BusyRejections    *prometheus.CounterVec
	ReplayRejections  *prometheus.CounterVec

	// --- Settlement ---
	Broadcasts         *prometheus.CounterVec
	PartialSettlements *prometheus.CounterVec
	FilledAmount       *prometheus.CounterVec
	PaidOut            *prometheus.CounterVec

	// --- State ---
	AvailableLiquidity *prometheus.GaugeVec
	OpenOffers         prometheus.Gauge
	ConsumedTxIDs      prometheus.Gauge
	AddressReady       prometheus.Gauge

	// --- Persistence & notifications ---
	StoreDuration *prometheus.HistogramVec
	StoreErrors   *prometheus.CounterVec
	Notifications *prometheus.CounterVec
}

// NewMetrics registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	externalBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_operations_total",
			Help: "Public operations by outcome",
		}, []string{"operation", "outcome"}),

		OperationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_operation_duration_seconds",
			Help:    "Wall time of a public operation including external calls",
			Buckets: externalBuckets,
		}, []string{"operation"}),

		BusyRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_busy_rejections_total",
			Help: "Guarded operations rejected because another was in progress",
		}, []string{"operation"}),

		ReplayRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_replay_rejections_total",
			Help: "Operations rejected because the external tx id was already consumed",
		}, []string{"operation"}),

		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_broadcasts_total",
			Help: "Outbound transfers by chain, role (buyer/seller) and outcome",
		}, []string{"chain", "role", "outcome"}),

		PartialSettlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_partial_settlements_total",
			Help: "Settlements that failed after at least one broadcast was accepted",
		}, []string{"chain"}),

		FilledAmount: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_filled_amount_total",
			Help: "Smallest-unit amount filled from offers",
		}, []string{"chain"}),

		PaidOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_paid_out_total",
			Help: "Smallest-unit amount paid to liquidity providers",
		}, []string{"chain"}),

		AvailableLiquidity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_available_liquidity",
			Help: "Open offer amount per chain",
		}, []string{"chain"}),

		OpenOffers: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_open_offers",
			Help: "Offers not yet withdrawn",
		}),

		ConsumedTxIDs: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_consumed_tx_ids",
			Help: "External transaction ids in the replay set",
		}),

		AddressReady: f.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_own_address_ready",
			Help: "1 once the bridge's own address is resolved",
		}),

		StoreDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_store_duration_seconds",
			Help:    "Durable store commit latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"op"}),

		StoreErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_store_errors_total",
			Help: "Durable store failures",
		}, []string{"op"}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_notifications_total",
			Help: "Event notifications by sink and outcome",
		}, []string{"sink", "outcome"}),
	}
}

func (m *Metrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordBusy(op string) {
	if m == nil {
		return
	}
	m.BusyRejections.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordReplay(op string) {
	if m == nil {
		return
	}
	m.ReplayRejections.WithLabelValues(op).Inc()
}

func (m *Metrics) RecordBroadcast(chain, role string, accepted bool) {
	if m == nil {
		return
	}
	outcome := "accepted"
	if !accepted {
		outcome = "rejected"
	}
	m.Broadcasts.WithLabelValues(chain, role, outcome).Inc()
}

func (m *Metrics) RecordPartialSettlement(chain string) {
	if m == nil {
		return
	}
	m.PartialSettlements.WithLabelValues(chain).Inc()
}

func (m *Metrics) RecordFill(chain string, amount, payout uint64) {
	if m == nil {
		return
	}
	m.FilledAmount.WithLabelValues(chain).Add(float64(amount))
	m.PaidOut.WithLabelValues(chain).Add(float64(payout))
}

// SetLiquidity replaces the per-chain liquidity gauges. Chains absent from
// available but listed in chains are reset to zero.
func (m *Metrics) SetLiquidity(chains []string, available map[string]uint64, openOffers int) {
	if m == nil {
		return
	}
	for _, c := range chains {
		m.AvailableLiquidity.WithLabelValues(c).Set(float64(available[c]))
	}
	m.OpenOffers.Set(float64(openOffers))
}

func (m *Metrics) SetConsumed(n int) {
	if m == nil {
		return
	}
	m.ConsumedTxIDs.Set(float64(n))
}

func (m *Metrics) SetAddressReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.AddressReady.Set(1)
	} else {
		m.AddressReady.Set(0)
	}
}

func (m *Metrics) ObserveStore(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.StoreDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) RecordNotification(sink string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Notifications.WithLabelValues(sink, outcome).Inc()
}
