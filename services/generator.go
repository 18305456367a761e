package services

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"agranova/metrics"
	"agranova/models"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// ErrTickInProgress is returned when a tick starts while another is running
var ErrTickInProgress = errors.New("generator tick already in progress")

// sensorRange bounds a simulated value and its per-tick drift
type sensorRange struct {
	min, max float64
	drift    float64
	// initial window used when there is no previous reading
	startMin, startMax float64
}

var (
	moistureRange    = sensorRange{min: 0, max: 100, drift: 2, startMin: 40, startMax: 60}
	temperatureRange = sensorRange{min: 15, max: 40, drift: 1, startMin: 22, startMax: 28}
	humidityRange    = sensorRange{min: 0, max: 100, drift: 3, startMin: 50, startMax: 70}
	tankRange        = sensorRange{min: 0, max: 100, drift: 1, startMin: 60, startMax: 90}
	batteryRange     = sensorRange{min: 0, max: 100, drift: 0.5, startMin: 80, startMax: 100}
)

// Solar panels track the sun between these hours, inclusive
const (
	solarStartHour = 6
	solarEndHour   = 18
)

func (s sensorRange) next(prev *float64, rng *rand.Rand) float64 {
	if prev == nil {
		return round1(s.startMin + rng.Float64()*(s.startMax-s.startMin))
	}
	v := *prev + (rng.Float64()-0.5)*2*s.drift
	return round1(clamp(v, s.min, s.max))
}

// Generate produces the next simulated reading for a device. It is pure:
// the caller persists the result. The pump status is carried over from prev.
func Generate(deviceID string, prev *models.SensorReading, now time.Time, rng *rand.Rand) models.SensorReading {
	r := models.SensorReading{
		DeviceID:   deviceID,
		PumpStatus: models.PumpOff,
		Timestamp:  now,
	}

	if prev == nil {
		r.SoilMoisture = moistureRange.next(nil, rng)
		r.Temperature = temperatureRange.next(nil, rng)
		r.Humidity = humidityRange.next(nil, rng)
		r.WaterTankLevel = tankRange.next(nil, rng)
		r.BatteryLevel = batteryRange.next(nil, rng)
	} else {
		r.SoilMoisture = moistureRange.next(&prev.SoilMoisture, rng)
		r.Temperature = temperatureRange.next(&prev.Temperature, rng)
		r.Humidity = humidityRange.next(&prev.Humidity, rng)
		r.WaterTankLevel = tankRange.next(&prev.WaterTankLevel, rng)
		r.BatteryLevel = batteryRange.next(&prev.BatteryLevel, rng)
		r.PumpStatus = prev.PumpStatus
		if prev.DeviceID != "" {
			r.DeviceID = prev.DeviceID
		}
	}

	hour := now.Hour()
	if hour < solarStartHour || hour > solarEndHour {
		r.SolarPanelStatus = models.SolarInactive
		r.SolarPanelAngle = 0
	} else {
		r.SolarPanelAngle = math.Round(float64(hour-solarStartHour) / float64(solarEndHour-solarStartHour) * 180)
		if rng.Float64() > 0.2 {
			r.SolarPanelStatus = models.SolarActive
		} else {
			r.SolarPanelStatus = models.SolarCharging
		}
	}

	return r
}

// clamp constrains a value between min and max
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// GeneratorStatus is the payload of generator_status and GET /api/simulation
type GeneratorStatus struct {
	Running  bool   `json:"running"`
	DeviceID string `json:"deviceId"`
	Interval string `json:"interval"`
}

// Generator periodically feeds simulated readings through the pipeline
type Generator struct {
	deviceID    string
	interval    time.Duration
	pipeline    *Pipeline
	broadcaster Broadcaster
	clock       clockwork.Clock
	log         logrus.FieldLogger
	metrics     *metrics.Metrics

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	inFlight atomic.Bool

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewGenerator creates a stopped generator
func NewGenerator(deviceID string, interval time.Duration, pipeline *Pipeline, broadcaster Broadcaster, clock clockwork.Clock, log logrus.FieldLogger, m *metrics.Metrics) *Generator {
	return &Generator{
		deviceID:    deviceID,
		interval:    interval,
		pipeline:    pipeline,
		broadcaster: broadcaster,
		clock:       clock,
		log:         log.WithFields(logrus.Fields{"component": "generator", "device_id": deviceID}),
		metrics:     m,
		rng:         rand.New(rand.NewSource(clock.Now().UnixNano())),
	}
}

// Start begins periodic generation. It returns false if already running.
func (g *Generator) Start(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		g.log.Warn("generator already running")
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	ticker := g.clock.NewTicker(g.interval)
	g.cancel = cancel
	g.done = make(chan struct{})
	g.running = true

	go g.loop(ctx, ticker, g.done)

	g.log.WithField("interval", g.interval).Info("generator started")
	g.broadcaster.Publish(models.TopicGeneratorStatus, g.statusLocked())
	return true
}

// Stop halts generation; pending auto-off timers are unaffected
func (g *Generator) Stop() {
	g.mu.Lock()
	if !g.running {
		g.mu.Unlock()
		return
	}
	g.cancel()
	done := g.done
	g.running = false
	status := g.statusLocked()
	g.mu.Unlock()

	<-done
	g.log.Info("generator stopped")
	g.broadcaster.Publish(models.TopicGeneratorStatus, status)
}

// Running reports whether the schedule is active
func (g *Generator) Running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Status returns the current lifecycle state
func (g *Generator) Status() GeneratorStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusLocked()
}

func (g *Generator) statusLocked() GeneratorStatus {
	return GeneratorStatus{Running: g.running, DeviceID: g.deviceID, Interval: g.interval.String()}
}

func (g *Generator) loop(ctx context.Context, ticker clockwork.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			// ticks run off the schedule goroutine so a slow store cannot delay it
			go func() {
				if _, err := g.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
					if errors.Is(err, ErrTickInProgress) {
						g.log.Debug("previous tick still running, skipping")
						return
					}
					g.log.WithError(err).Error("generator tick failed")
				}
			}()
		}
	}
}

// Tick generates and stores one reading
func (g *Generator) Tick(ctx context.Context) (*models.SensorReading, error) {
	if !g.inFlight.CompareAndSwap(false, true) {
		g.metrics.GeneratorTick("skipped")
		return nil, ErrTickInProgress
	}
	defer g.inFlight.Store(false)

	now := g.clock.Now()
	r, _, err := g.pipeline.Apply(ctx, g.deviceID, func(prev *models.SensorReading) (models.SensorReading, error) {
		g.rngMu.Lock()
		defer g.rngMu.Unlock()
		return Generate(g.deviceID, prev, now, g.rng), nil
	}, ApplyOptions{Source: SourceGenerator})
	if err != nil {
		g.metrics.GeneratorTick("error")
		return nil, err
	}
	g.metrics.GeneratorTick("ok")
	return r, nil
}
