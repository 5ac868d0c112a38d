package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	checkoutOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_outcomes_total",
			Help: "Checkout sessions by terminal state",
		},
		[]string{"state"},
	)

	chargeInitiations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "charge_initiations_total",
			Help: "Charge initiation calls by result",
		},
		[]string{"result"},
	)

	scanVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_verdicts_total",
			Help: "Ticket scans by verdict",
		},
		[]string{"verdict"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checkout_sessions_active",
			Help: "Checkout sessions not yet in a terminal state",
		},
	)

	reconBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recon_pending_total",
			Help: "Unresolved reconciliation journal entries",
		},
	)

	settlementWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_wait_seconds",
			Help:    "Time from charge acceptance to a settlement signal",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()

		length, err := m.redis.LLen(ctx, "recon:pending").Result()
		if err != nil {
			continue
		}
		reconBacklog.Set(float64(length))
	}
}

// TrackCheckoutOutcome records the terminal state of one session.
func (m *Monitor) TrackCheckoutOutcome(state string) {
	checkoutOutcomes.WithLabelValues(state).Inc()
}

// TrackChargeInitiation records a charge attempt. result is one of
// "accepted", "rejected", "transport_error".
func (m *Monitor) TrackChargeInitiation(result string) {
	chargeInitiations.WithLabelValues(result).Inc()
}

// TrackScanVerdict records one scan. verdict is "valid", "invalid" or
// "offline".
func (m *Monitor) TrackScanVerdict(verdict string) {
	scanVerdicts.WithLabelValues(verdict).Inc()
}

// TrackSessionOpened and TrackSessionClosed bracket a session's lifetime.
func (m *Monitor) TrackSessionOpened() { activeSessions.Inc() }
func (m *Monitor) TrackSessionClosed() { activeSessions.Dec() }

// TrackSettlementWait records how long a settlement took to resolve.
func (m *Monitor) TrackSettlementWait(d time.Duration) {
	settlementWait.Observe(d.Seconds())
}
