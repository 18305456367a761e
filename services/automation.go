package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"agranova/database"
	"agranova/models"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Automation starts irrigation when the soil gets too dry in AUTOMATIC mode
type Automation struct {
	controller *IrrigationController
	store      database.Store
	clock      clockwork.Clock
	deviceID   string
	interval   time.Duration
	runMinutes int
	log        logrus.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAutomation creates a stopped automation loop. runMinutes is used when
// the configuration has no manual timer.
func NewAutomation(controller *IrrigationController, store database.Store, clock clockwork.Clock, deviceID string, interval time.Duration, runMinutes int, log logrus.FieldLogger) *Automation {
	return &Automation{
		controller: controller,
		store:      store,
		clock:      clock,
		deviceID:   deviceID,
		interval:   interval,
		runMinutes: runMinutes,
		log:        log.WithFields(logrus.Fields{"component": "automation", "device_id": deviceID}),
	}
}

// Start runs Evaluate on every interval until Stop or ctx cancellation
func (a *Automation) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	ticker := a.clock.NewTicker(a.interval)
	a.cancel = cancel
	a.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if _, err := a.Evaluate(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.log.WithError(err).Warn("automation check failed")
				}
			}
		}
	}(a.done)

	a.log.WithField("interval", a.interval).Info("irrigation automation started")
}

// Stop halts the loop
func (a *Automation) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Evaluate turns the pump on when the latest reading is below the threshold,
// the mode is AUTOMATIC and the pump is off. It reports whether it did.
func (a *Automation) Evaluate(ctx context.Context) (bool, error) {
	cfg, err := a.controller.GetConfig(ctx)
	if err != nil {
		return false, err
	}
	if cfg.Mode != models.ModeAutomatic {
		return false, nil
	}

	latest, err := a.store.LatestReading(ctx, a.deviceID)
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if latest.PumpStatus != models.PumpOff || latest.SoilMoisture >= cfg.MoistureThreshold {
		return false, nil
	}

	duration := a.runMinutes
	if cfg.ManualTimer > 0 {
		duration = cfg.ManualTimer
	}

	a.log.WithFields(logrus.Fields{
		"soil_moisture": latest.SoilMoisture,
		"threshold":     cfg.MoistureThreshold,
		"duration":      duration,
	}).Info("soil below threshold, starting irrigation")

	_, err = a.controller.ControlPump(ctx, PumpCommand{
		DeviceID: a.deviceID,
		Action:   models.PumpOn,
		Duration: duration,
	}, AutomationPrincipal)
	if err != nil {
		return false, err
	}
	return true, nil
}
