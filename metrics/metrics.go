package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agranova"

// Metrics groups the backend's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ReadingsIngested *prometheus.CounterVec
	AlertsRaised     *prometheus.CounterVec
	PumpCommands     *prometheus.CounterVec
	GeneratorTicks   *prometheus.CounterVec
	BroadcastDropped *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec
	StoreLatency     *prometheus.HistogramVec
	WebsocketClients prometheus.Gauge
	BreakerOpen      prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Passing a fresh prometheus.NewRegistry()
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		ReadingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_ingested_total",
			Help:      "Sensor readings persisted, by source.",
		}, []string{"source"}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts created by the threshold evaluator, by type.",
		}, []string{"type"}),
		PumpCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pump_commands_total",
			Help:      "Pump state changes, by action and origin.",
		}, []string{"action", "origin"}),
		GeneratorTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_ticks_total",
			Help:      "Generator ticks, by result (ok, error, skipped).",
		}, []string{"result"}),
		BroadcastDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Push messages dropped because a queue was full, by topic.",
		}, []string{"topic"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Best-effort sink failures (timeseries, actuator), by sink.",
		}, []string{"sink"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed persistence operations, by operation.",
		}, []string{"op"}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_seconds",
			Help:      "Persistence operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"op"}),
		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected push clients.",
		}),
		BreakerOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_breaker_open",
			Help:      "1 while the store circuit breaker is open.",
		}),
		gatherer: reg,
	}

	reg.MustRegister(
		m.ReadingsIngested, m.AlertsRaised, m.PumpCommands, m.GeneratorTicks,
		m.BroadcastDropped, m.SinkErrors, m.StoreErrors, m.StoreLatency,
		m.WebsocketClients, m.BreakerOpen,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Reading(source string) {
	if m != nil {
		m.ReadingsIngested.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Alert(alertType string) {
	if m != nil {
		m.AlertsRaised.WithLabelValues(alertType).Inc()
	}
}

func (m *Metrics) PumpCommand(action, origin string) {
	if m != nil {
		m.PumpCommands.WithLabelValues(action, origin).Inc()
	}
}

func (m *Metrics) GeneratorTick(result string) {
	if m != nil {
		m.GeneratorTicks.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Dropped(topic string) {
	if m != nil {
		m.BroadcastDropped.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) SinkError(sink string) {
	if m != nil {
		m.SinkErrors.WithLabelValues(sink).Inc()
	}
}

// ObserveStore records latency and, when err is non-nil, a failure for op
func (m *Metrics) ObserveStore(op string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.StoreLatency.WithLabelValues(op).Observe(time.Since(started).Seconds())
	if err != nil {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) SetClients(n int) {
	if m != nil {
		m.WebsocketClients.Set(float64(n))
	}
}

func (m *Metrics) SetBreakerOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerOpen.Set(1)
	} else {
		m.BreakerOpen.Set(0)
	}
}
