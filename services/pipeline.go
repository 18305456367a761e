package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"agranova/database"
	"agranova/metrics"
	"agranova/models"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Broadcaster pushes a payload to every connected client
type Broadcaster interface {
	Publish(topic string, payload interface{})
}

// Sink receives a copy of every persisted reading, best-effort
type Sink interface {
	Name() string
	WriteReading(ctx context.Context, r models.SensorReading) error
}

// Reading sources, used for metrics and logs
const (
	SourceGenerator = "generator"
	SourceAPI       = "api"
	SourceKafka     = "kafka"
	SourcePump      = "pump"
	SourceAutoOff   = "auto_off"
)

// BuildFunc produces the next reading of a device from the latest stored one.
// prev is nil when the device has no reading yet.
type BuildFunc func(prev *models.SensorReading) (models.SensorReading, error)

// ApplyOptions tunes a single insertion
type ApplyOptions struct {
	Source string
	// SuppressBroadcast skips sensor_update; pump paths push their own topic
	SuppressBroadcast bool
}

// Pipeline is the single writer for sensor readings. Every insertion reads
// the latest reading, builds the next one, stores it, evaluates alerts
// against the previous reading and fans the results out, all under one lock.
type Pipeline struct {
	mu          sync.Mutex
	store       database.Store
	evaluator   *AlertEvaluator
	broadcaster Broadcaster
	sinks       []Sink
	clock       clockwork.Clock
	sinkTimeout time.Duration
	log         logrus.FieldLogger
	metrics     *metrics.Metrics
}

// NewPipeline creates the ingestion pipeline
func NewPipeline(store database.Store, evaluator *AlertEvaluator, broadcaster Broadcaster, clock clockwork.Clock, log logrus.FieldLogger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		store:       store,
		evaluator:   evaluator,
		broadcaster: broadcaster,
		clock:       clock,
		sinkTimeout: 5 * time.Second,
		log:         log.WithField("component", "pipeline"),
		metrics:     m,
	}
}

// AddSink registers a best-effort mirror for persisted readings
func (p *Pipeline) AddSink(s Sink) {
	p.mu.Lock()
	p.sinks = append(p.sinks, s)
	p.mu.Unlock()
}

// Apply inserts the reading produced by build and returns it with the alerts
// it raised. Nothing is inserted when build or validation fails.
func (p *Pipeline) Apply(ctx context.Context, deviceID string, build BuildFunc, opts ApplyOptions) (*models.SensorReading, []models.Alert, error) {
	p.mu.Lock()

	prev, err := p.store.LatestReading(ctx, deviceID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("load latest reading: %w", err)
	}
	if errors.Is(err, models.ErrNotFound) {
		prev = nil
	}

	next, err := build(prev)
	if err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	next.ID = ""
	if next.DeviceID == "" {
		next.DeviceID = deviceID
	}
	if next.Timestamp.IsZero() {
		next.Timestamp = p.clock.Now()
	}
	if err := next.Validate(); err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}

	if err := p.store.InsertReading(ctx, &next); err != nil {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("insert reading: %w", err)
	}
	p.metrics.Reading(opts.Source)

	alerts := p.evaluator.Evaluate(next, prev)
	stored := make([]models.Alert, 0, len(alerts))
	for i := range alerts {
		a := alerts[i]
		if err := p.store.InsertAlert(ctx, &a); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{"device_id": next.DeviceID, "type": a.Type}).
				Error("failed to persist alert")
			continue
		}
		p.metrics.Alert(string(a.Type))
		p.broadcaster.Publish(models.TopicNewAlert, a)
		stored = append(stored, a)
	}

	if !opts.SuppressBroadcast {
		p.broadcaster.Publish(models.TopicSensorUpdate, next)
	}
	sinks := p.sinks
	p.mu.Unlock()

	p.mirror(ctx, sinks, next)

	p.log.WithFields(logrus.Fields{
		"device_id": next.DeviceID,
		"source":    opts.Source,
		"pump":      next.PumpStatus,
		"alerts":    len(stored),
	}).Debug("reading stored")

	return &next, stored, nil
}

// Ingest stores a reading supplied from outside (API, Kafka)
func (p *Pipeline) Ingest(ctx context.Context, r models.SensorReading, source string) (*models.SensorReading, []models.Alert, error) {
	return p.Apply(ctx, r.DeviceID, func(*models.SensorReading) (models.SensorReading, error) {
		return r, nil
	}, ApplyOptions{Source: source})
}

func (p *Pipeline) mirror(ctx context.Context, sinks []Sink, r models.SensorReading) {
	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.sinkTimeout)
		if err := s.WriteReading(sctx, r); err != nil {
			p.metrics.SinkError(s.Name())
			p.log.WithError(err).WithFields(logrus.Fields{"sink": s.Name(), "device_id": r.DeviceID}).
				Warn("failed to mirror reading")
		}
		cancel()
	}
}
