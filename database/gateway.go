package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agranova/metrics"
	"agranova/models"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// Retention limits applied after each insert; zero means unlimited
type Retention struct {
	Logs     int
	Readings int
}

// GatewayOptions configures the store decorator
type GatewayOptions struct {
	Retention       Retention
	Timeout         time.Duration
	BreakerFailures int
	BreakerOpenFor  time.Duration
	// Degraded marks a memory store that replaced an unreachable durable backend
	Degraded bool
}

// Gateway wraps a Store with per-call timeouts, a circuit breaker and
// retention. It is the only Store the rest of the backend talks to.
type Gateway struct {
	store     Store
	cb        *gobreaker.CircuitBreaker
	retention Retention
	timeout   time.Duration
	degraded  bool
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
}

var _ Store = (*Gateway)(nil)

// NewGateway decorates store
func NewGateway(store Store, opts GatewayOptions, log logrus.FieldLogger, m *metrics.Metrics) *Gateway {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.BreakerFailures <= 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerOpenFor <= 0 {
		opts.BreakerOpenFor = 10 * time.Second
	}

	g := &Gateway{
		store:     store,
		retention: opts.Retention,
		timeout:   opts.Timeout,
		degraded:  opts.Degraded,
		log:       log.WithField("component", "store"),
		metrics:   m,
	}

	fails := uint32(opts.BreakerFailures)
	g.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "store-" + store.Type(),
		Interval: time.Minute,
		Timeout:  opts.BreakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, models.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.WithFields(logrus.Fields{"breaker": name, "from": from.String(), "to": to.String()}).
				Warn("store circuit breaker changed state")
			g.metrics.SetBreakerOpen(to == gobreaker.StateOpen)
		},
	})
	return g
}

func call[T any](g *Gateway, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var zero T
	started := time.Now()
	res, err := g.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})

	if errors.Is(err, models.ErrNotFound) {
		g.metrics.ObserveStore(op, started, nil)
		return zero, err
	}
	g.metrics.ObserveStore(op, started, err)

	switch {
	case err == nil:
		return res.(T), nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return zero, fmt.Errorf("%s: %w", op, models.ErrBackendUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		return zero, fmt.Errorf("%s: %v: %w", op, err, models.ErrBackendUnavailable)
	default:
		return zero, fmt.Errorf("%s: %w", op, err)
	}
}

// exec runs an operation with no result
func exec(g *Gateway, ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := call(g, ctx, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Degraded reports whether the store fell back to memory
func (g *Gateway) Degraded() bool { return g.degraded }

// BreakerState returns the circuit breaker state name
func (g *Gateway) BreakerState() string { return g.cb.State().String() }

func (g *Gateway) InsertReading(ctx context.Context, r *models.SensorReading) error {
	if err := exec(g, ctx, "insert_reading", func(ctx context.Context) error {
		return g.store.InsertReading(ctx, r)
	}); err != nil {
		return err
	}
	if g.retention.Readings > 0 {
		if _, err := g.TrimReadings(ctx, r.DeviceID, g.retention.Readings); err != nil {
			g.log.WithError(err).WithField("device_id", r.DeviceID).Warn("reading retention failed")
		}
	}
	return nil
}

func (g *Gateway) LatestReading(ctx context.Context, deviceID string) (*models.SensorReading, error) {
	return call(g, ctx, "latest_reading", func(ctx context.Context) (*models.SensorReading, error) {
		return g.store.LatestReading(ctx, deviceID)
	})
}

func (g *Gateway) ReadingsSince(ctx context.Context, deviceID string, since time.Time) ([]models.SensorReading, error) {
	return call(g, ctx, "readings_since", func(ctx context.Context) ([]models.SensorReading, error) {
		return g.store.ReadingsSince(ctx, deviceID, since)
	})
}

func (g *Gateway) TrimReadings(ctx context.Context, deviceID string, max int) (int64, error) {
	return call(g, ctx, "trim_readings", func(ctx context.Context) (int64, error) {
		return g.store.TrimReadings(ctx, deviceID, max)
	})
}

func (g *Gateway) InsertAlert(ctx context.Context, a *models.Alert) error {
	return exec(g, ctx, "insert_alert", func(ctx context.Context) error {
		return g.store.InsertAlert(ctx, a)
	})
}

func (g *Gateway) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	return call(g, ctx, "list_alerts", func(ctx context.Context) ([]models.Alert, error) {
		return g.store.ListAlerts(ctx, limit)
	})
}

func (g *Gateway) MarkAlertRead(ctx context.Context, id string) (*models.Alert, error) {
	return call(g, ctx, "mark_alert_read", func(ctx context.Context) (*models.Alert, error) {
		return g.store.MarkAlertRead(ctx, id)
	})
}

func (g *Gateway) MarkAllAlertsRead(ctx context.Context) (int64, error) {
	return call(g, ctx, "mark_all_alerts_read", func(ctx context.Context) (int64, error) {
		return g.store.MarkAllAlertsRead(ctx)
	})
}

func (g *Gateway) DeleteAlert(ctx context.Context, id string) error {
	return exec(g, ctx, "delete_alert", func(ctx context.Context) error {
		return g.store.DeleteAlert(ctx, id)
	})
}

func (g *Gateway) GetIrrigationConfig(ctx context.Context) (*models.IrrigationConfig, error) {
	return call(g, ctx, "get_config", func(ctx context.Context) (*models.IrrigationConfig, error) {
		return g.store.GetIrrigationConfig(ctx)
	})
}

func (g *Gateway) SaveIrrigationConfig(ctx context.Context, cfg *models.IrrigationConfig) error {
	return exec(g, ctx, "save_config", func(ctx context.Context) error {
		return g.store.SaveIrrigationConfig(ctx, cfg)
	})
}

func (g *Gateway) InsertLog(ctx context.Context, l *models.SystemLog) error {
	if err := exec(g, ctx, "insert_log", func(ctx context.Context) error {
		return g.store.InsertLog(ctx, l)
	}); err != nil {
		return err
	}
	if g.retention.Logs > 0 {
		if _, err := g.TrimLogs(ctx, l.SystemID, g.retention.Logs); err != nil {
			g.log.WithError(err).WithField("system_id", l.SystemID).Warn("log retention failed")
		}
	}
	return nil
}

func (g *Gateway) ListLogs(ctx context.Context, systemID string, limit int) ([]models.SystemLog, error) {
	return call(g, ctx, "list_logs", func(ctx context.Context) ([]models.SystemLog, error) {
		return g.store.ListLogs(ctx, systemID, limit)
	})
}

func (g *Gateway) TrimLogs(ctx context.Context, systemID string, max int) (int64, error) {
	return call(g, ctx, "trim_logs", func(ctx context.Context) (int64, error) {
		return g.store.TrimLogs(ctx, systemID, max)
	})
}

func (g *Gateway) Ping(ctx context.Context) error {
	return exec(g, ctx, "ping", g.store.Ping)
}

func (g *Gateway) Type() string { return g.store.Type() }

func (g *Gateway) Close() error { return g.store.Close() }
