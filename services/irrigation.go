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

// AutoOffMessage is pushed with pump_auto_off
const AutoOffMessage = "Pump turned off automatically"

// AutomationPrincipal issues commands on behalf of the automation loop
var AutomationPrincipal = models.Principal{ID: "automation", Role: "system"}

// PumpActuator forwards pump state to field hardware
type PumpActuator interface {
	SetPump(ctx context.Context, deviceID string, status models.PumpStatus, durationMinutes int) error
}

// ConfigUpdate carries the fields of a partial configuration update
type ConfigUpdate struct {
	Mode              *models.IrrigationMode `json:"mode"`
	MoistureThreshold *float64               `json:"moistureThreshold"`
	ManualTimer       *int                   `json:"manualTimer"`
	IsActive          *bool                  `json:"isActive"`
}

// Validate checks every supplied field
func (u ConfigUpdate) Validate() error {
	if u.Mode != nil && !u.Mode.Valid() {
		return models.NewValidationError("mode", "%q must be AUTOMATIC or MANUAL", *u.Mode)
	}
	if u.MoistureThreshold != nil && (*u.MoistureThreshold < 0 || *u.MoistureThreshold > 100) {
		return models.NewValidationError("moistureThreshold", "%g out of range [0,100]", *u.MoistureThreshold)
	}
	if u.ManualTimer != nil && *u.ManualTimer < 0 {
		return models.NewValidationError("manualTimer", "%d must not be negative", *u.ManualTimer)
	}
	return nil
}

// PumpCommand is a request to switch the pump of a device
type PumpCommand struct {
	DeviceID string            `json:"deviceId"`
	Action   models.PumpStatus `json:"action"`
	Duration int               `json:"duration"` // minutes; 0 means no auto-off
}

// PumpResult describes an executed pump command
type PumpResult struct {
	Reading   *models.SensorReading `json:"reading"`
	Message   string                `json:"message"`
	AutoOffAt *time.Time            `json:"autoOffAt,omitempty"`
}

// IrrigationController owns the irrigation configuration and pump commands
type IrrigationController struct {
	store          database.Store
	pipeline       *Pipeline
	broadcaster    Broadcaster
	actuator       PumpActuator
	autoOff        *AutoOffScheduler
	clock          clockwork.Clock
	defaultDevice  string
	cancelOnManual bool
	log            logrus.FieldLogger
	metrics        *metrics.Metrics

	cfgMu sync.Mutex
}

// ControllerOptions configures the controller
type ControllerOptions struct {
	DefaultDevice string
	// AutoOffCancelOnManual makes a manual OFF drop the device's pending auto-off
	AutoOffCancelOnManual bool
}

// NewIrrigationController creates a controller; actuator may be nil
func NewIrrigationController(store database.Store, pipeline *Pipeline, broadcaster Broadcaster, actuator PumpActuator, clock clockwork.Clock, opts ControllerOptions, log logrus.FieldLogger, m *metrics.Metrics) *IrrigationController {
	c := &IrrigationController{
		store:          store,
		pipeline:       pipeline,
		broadcaster:    broadcaster,
		actuator:       actuator,
		clock:          clock,
		defaultDevice:  opts.DefaultDevice,
		cancelOnManual: opts.AutoOffCancelOnManual,
		log:            log.WithField("component", "irrigation"),
		metrics:        m,
	}
	c.autoOff = NewAutoOffScheduler(clock, c.fireAutoOff)
	return c
}

// AutoOff exposes the scheduler for inspection
func (c *IrrigationController) AutoOff() *AutoOffScheduler { return c.autoOff }

// Stop cancels every pending auto-off
func (c *IrrigationController) Stop() {
	c.autoOff.Stop()
}

// GetConfig returns the configuration, creating the default on first access
func (c *IrrigationController) GetConfig(ctx context.Context) (*models.IrrigationConfig, error) {
	return c.store.GetIrrigationConfig(ctx)
}

// UpdateConfig validates and applies a partial update. Changing the mode
// never touches the pump.
func (c *IrrigationController) UpdateConfig(ctx context.Context, upd ConfigUpdate, principal models.Principal) (*models.IrrigationConfig, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()

	cfg, err := c.store.GetIrrigationConfig(ctx)
	if err != nil {
		return nil, err
	}

	if upd.Mode != nil {
		cfg.Mode = *upd.Mode
	}
	if upd.MoistureThreshold != nil {
		cfg.MoistureThreshold = *upd.MoistureThreshold
	}
	if upd.ManualTimer != nil {
		cfg.ManualTimer = *upd.ManualTimer
	}
	if upd.IsActive != nil {
		cfg.IsActive = *upd.IsActive
	}
	cfg.LastUpdated = c.clock.Now()

	if err := c.store.SaveIrrigationConfig(ctx, cfg); err != nil {
		return nil, err
	}

	c.broadcaster.Publish(models.TopicConfigUpdate, cfg)
	c.writeLog(ctx, models.SystemLog{
		SystemID:  c.defaultDevice,
		LogType:   models.LogSystem,
		Action:    "config_update",
		Message:   fmt.Sprintf("Irrigation config updated: mode %s, threshold %g%%, timer %d min", cfg.Mode, cfg.MoistureThreshold, cfg.ManualTimer),
		Principal: principal.ID,
		Data: map[string]interface{}{
			"mode":              string(cfg.Mode),
			"moistureThreshold": cfg.MoistureThreshold,
			"manualTimer":       cfg.ManualTimer,
			"isActive":          cfg.IsActive,
		},
	})

	return cfg, nil
}

// SetMode switches between automatic and manual irrigation
func (c *IrrigationController) SetMode(ctx context.Context, mode models.IrrigationMode, principal models.Principal) (*models.IrrigationConfig, error) {
	return c.UpdateConfig(ctx, ConfigUpdate{Mode: &mode}, principal)
}

// SetThreshold changes the soil moisture threshold
func (c *IrrigationController) SetThreshold(ctx context.Context, threshold float64, principal models.Principal) (*models.IrrigationConfig, error) {
	return c.UpdateConfig(ctx, ConfigUpdate{MoistureThreshold: &threshold}, principal)
}

// ControlPump switches the pump by inserting a copy of the latest reading
// with the new status. A duplicate OFF is not an error.
func (c *IrrigationController) ControlPump(ctx context.Context, cmd PumpCommand, principal models.Principal) (*PumpResult, error) {
	if !cmd.Action.Valid() {
		return nil, models.NewValidationError("action", "%q must be ON or OFF", cmd.Action)
	}
	if cmd.Duration < 0 {
		return nil, models.NewValidationError("duration", "%d must not be negative", cmd.Duration)
	}
	deviceID := cmd.DeviceID
	if deviceID == "" {
		deviceID = c.defaultDevice
	}

	now := c.clock.Now()
	reading, _, err := c.pipeline.Apply(ctx, deviceID, func(prev *models.SensorReading) (models.SensorReading, error) {
		if prev == nil {
			return models.SensorReading{}, fmt.Errorf("no sensor data available: %w", models.ErrNotFound)
		}
		return prev.WithPump(cmd.Action, now), nil
	}, ApplyOptions{Source: SourcePump, SuppressBroadcast: true})
	if err != nil {
		return nil, err
	}

	result := &PumpResult{Reading: reading, Message: fmt.Sprintf("Pump turned %s", cmd.Action)}
	switch {
	case cmd.Action == models.PumpOn && cmd.Duration > 0:
		at := c.autoOff.Schedule(deviceID, time.Duration(cmd.Duration)*time.Minute)
		result.AutoOffAt = &at
		result.Message = fmt.Sprintf("Pump turned ON for %d minutes", cmd.Duration)
	case cmd.Action == models.PumpOff && c.cancelOnManual:
		if c.autoOff.Cancel(deviceID) {
			c.log.WithField("device_id", deviceID).Info("manual OFF cancelled pending auto-off")
		}
	}

	c.broadcaster.Publish(models.TopicPumpStatusUpdate, models.PumpStatusEvent{
		DeviceID:   deviceID,
		PumpStatus: cmd.Action,
		Timestamp:  reading.Timestamp,
	})

	origin := "manual"
	if principal.ID == AutomationPrincipal.ID {
		origin = "automation"
	}
	c.metrics.PumpCommand(string(cmd.Action), origin)
	c.actuate(ctx, deviceID, cmd.Action, cmd.Duration)

	c.writeLog(ctx, models.SystemLog{
		SystemID:  deviceID,
		LogType:   models.LogSystem,
		Action:    "pump_control",
		Message:   result.Message,
		Principal: principal.ID,
		Data:      map[string]interface{}{"action": string(cmd.Action), "duration": cmd.Duration},
	})

	c.log.WithFields(logrus.Fields{
		"device_id": deviceID,
		"action":    cmd.Action,
		"duration":  cmd.Duration,
		"principal": principal.ID,
	}).Info("pump command executed")

	return result, nil
}

// fireAutoOff runs when a device's auto-off timer expires
func (c *IrrigationController) fireAutoOff(deviceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := c.clock.Now()
	reading, _, err := c.pipeline.Apply(ctx, deviceID, func(prev *models.SensorReading) (models.SensorReading, error) {
		if prev == nil {
			return models.SensorReading{}, fmt.Errorf("no sensor data available: %w", models.ErrNotFound)
		}
		return prev.WithPump(models.PumpOff, now), nil
	}, ApplyOptions{Source: SourceAutoOff, SuppressBroadcast: true})
	if err != nil {
		c.log.WithError(err).WithField("device_id", deviceID).Error("auto-off failed")
		return
	}

	c.broadcaster.Publish(models.TopicPumpAutoOff, models.PumpStatusEvent{
		DeviceID:   deviceID,
		PumpStatus: models.PumpOff,
		Timestamp:  reading.Timestamp,
		Message:    AutoOffMessage,
	})
	c.metrics.PumpCommand(string(models.PumpOff), SourceAutoOff)
	c.actuate(ctx, deviceID, models.PumpOff, 0)

	c.writeLog(ctx, models.SystemLog{
		SystemID: deviceID,
		LogType:  models.LogSystem,
		Action:   "auto_off",
		Message:  AutoOffMessage,
	})
	c.log.WithField("device_id", deviceID).Info("pump turned off automatically")
}

func (c *IrrigationController) actuate(ctx context.Context, deviceID string, status models.PumpStatus, duration int) {
	if c.actuator == nil {
		return
	}
	if err := c.actuator.SetPump(ctx, deviceID, status, duration); err != nil {
		c.metrics.SinkError("actuator")
		c.log.WithError(err).WithField("device_id", deviceID).Warn("failed to forward pump command to actuator")
	}
}

// Logs returns the newest system logs of a device
func (c *IrrigationController) Logs(ctx context.Context, systemID string, limit int) ([]models.SystemLog, error) {
	if systemID == "" {
		systemID = c.defaultDevice
	}
	return c.store.ListLogs(ctx, systemID, limit)
}

// Stats aggregates pump usage and sensor averages over a period
func (c *IrrigationController) Stats(ctx context.Context, deviceID, period string) (*models.IrrigationStats, error) {
	if period == "" {
		period = DefaultStatsPeriod
	}
	window, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	if deviceID == "" {
		deviceID = c.defaultDevice
	}

	since := c.clock.Now().Add(-window)
	readings, err := c.store.ReadingsSince(ctx, deviceID, since)
	if err != nil {
		return nil, err
	}

	stats := ComputeStats(readings)
	stats.Period = period
	stats.Since = since
	return &stats, nil
}

func (c *IrrigationController) writeLog(ctx context.Context, entry models.SystemLog) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = c.clock.Now()
	}
	if err := c.store.InsertLog(ctx, &entry); err != nil && !errors.Is(err, context.Canceled) {
		c.log.WithError(err).WithField("action", entry.Action).Warn("failed to write system log")
	}
}
