package health

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/txwire/pkg/transaction"
	"github.com/txwire/pkg/transport"
)

const namespace = "txwire"

// Metrics holds all Prometheus metrics for txwire. It implements
// transport.Observer so clients and servers can report into it directly.
type Metrics struct {
	TransactionsTotal    *prometheus.CounterVec
	TransactionDuration  *prometheus.HistogramVec
	TransactionsInFlight *prometheus.GaugeVec
	BytesTotal           *prometheus.CounterVec
	WebSocketMessages    *prometheus.CounterVec
	TargetHealth         *prometheus.GaugeVec
	CurrentTPS           prometheus.Gauge
	TargetTPS            prometheus.Gauge
	ActiveWorkers        prometheus.Gauge
	QueuedRequests       prometheus.Gauge
}

var _ transport.Observer = (*Metrics)(nil)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TransactionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Finished transactions by role, kind and outcome",
			},
			[]string{"role", "kind", "outcome"},
		),
		TransactionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_duration_seconds",
				Help:      "Transaction latency histogram",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"role", "kind"},
		),
		TransactionsInFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "transactions_in_flight",
				Help:      "Transactions currently running",
			},
			[]string{"role"},
		),
		BytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_total",
				Help:      "Bytes moved over transaction connections",
			},
			[]string{"role", "direction"},
		),
		WebSocketMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_total",
				Help:      "WebSocket messages received by opcode",
			},
			[]string{"role", "opcode"},
		),
		TargetHealth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "target_health",
				Help:      "Health status of each target (1=healthy, 0=unhealthy)",
			},
			[]string{"target"},
		),
		CurrentTPS: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "current_tps",
				Help:      "Transactions per second measured by the load generator",
			},
		),
		TargetTPS: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "target_tps",
				Help:      "Configured load generator rate",
			},
		),
		ActiveWorkers: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_workers",
				Help:      "Workers currently running a transaction",
			},
		),
		QueuedRequests: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_requests",
				Help:      "Requests waiting in the load generator queue",
			},
		),
	}
}

func (m *Metrics) TransactionStarted(role transport.Role, _ *transaction.Transaction) {
	m.TransactionsInFlight.WithLabelValues(string(role)).Inc()
}

func (m *Metrics) TransactionFinished(role transport.Role, tx *transaction.Transaction, elapsed time.Duration) {
	kind := tx.Kind().String()
	m.TransactionsInFlight.WithLabelValues(string(role)).Dec()
	m.TransactionsTotal.WithLabelValues(string(role), kind, string(tx.Outcome())).Inc()
	m.TransactionDuration.WithLabelValues(string(role), kind).Observe(elapsed.Seconds())
}

func (m *Metrics) BytesTransferred(role transport.Role, dir transport.Direction, n int) {
	m.BytesTotal.WithLabelValues(string(role), string(dir)).Add(float64(n))
}

func (m *Metrics) WebSocketMessage(role transport.Role, op string) {
	m.WebSocketMessages.WithLabelValues(string(role), op).Inc()
}

// SetCurrentTPS updates the current TPS metric.
func (m *Metrics) SetCurrentTPS(tps float64) {
	m.CurrentTPS.Set(tps)
}

// SetTargetTPS updates the target TPS metric.
func (m *Metrics) SetTargetTPS(tps float64) {
	m.TargetTPS.Set(tps)
}

// SetActiveWorkers updates the active workers metric.
func (m *Metrics) SetActiveWorkers(count int) {
	m.ActiveWorkers.Set(float64(count))
}

// SetQueuedRequests updates the queued requests metric.
func (m *Metrics) SetQueuedRequests(count int) {
	m.QueuedRequests.Set(float64(count))
}

// SetTargetHealth updates the health status for a target.
func (m *Metrics) SetTargetHealth(target string, healthy bool) {
	if healthy {
		m.TargetHealth.WithLabelValues(target).Set(1)
	} else {
		m.TargetHealth.WithLabelValues(target).Set(0)
	}
}
