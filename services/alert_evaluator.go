package services

import (
	"fmt"

	"agranova/models"
)

// Default alert thresholds, in percent
const (
	DefaultLowWaterThreshold   = 20.0
	DefaultLowBatteryThreshold = 20.0
)

// AlertEvaluator derives alerts from a newly inserted reading and the reading
// it replaced. Rules are independent and there is no deduplication across
// readings: N consecutive low readings raise N alerts.
type AlertEvaluator struct {
	LowWaterThreshold   float64
	LowBatteryThreshold float64
}

// NewAlertEvaluator creates an evaluator with the default thresholds
func NewAlertEvaluator() *AlertEvaluator {
	return &AlertEvaluator{
		LowWaterThreshold:   DefaultLowWaterThreshold,
		LowBatteryThreshold: DefaultLowBatteryThreshold,
	}
}

// Evaluate returns the alerts raised by current; previous is nil for the
// first reading of a device
func (e *AlertEvaluator) Evaluate(current models.SensorReading, previous *models.SensorReading) []models.Alert {
	var alerts []models.Alert
	alerts = append(alerts, e.detectThresholdViolations(current)...)
	if a, ok := e.detectPumpTransition(current, previous); ok {
		alerts = append(alerts, a)
	}
	return alerts
}

func (e *AlertEvaluator) detectThresholdViolations(r models.SensorReading) []models.Alert {
	var alerts []models.Alert

	if r.WaterTankLevel < e.LowWaterThreshold {
		alerts = append(alerts, newAlert(r, models.AlertLowWater, models.SeverityWarning,
			fmt.Sprintf("Water tank level is low: %g%%", r.WaterTankLevel)))
	}

	if r.BatteryLevel < e.LowBatteryThreshold {
		alerts = append(alerts, newAlert(r, models.AlertBatteryLow, models.SeverityWarning,
			fmt.Sprintf("Battery level is low: %g%%", r.BatteryLevel)))
	}

	return alerts
}

func (e *AlertEvaluator) detectPumpTransition(r models.SensorReading, previous *models.SensorReading) (models.Alert, bool) {
	if previous == nil || previous.PumpStatus == r.PumpStatus {
		return models.Alert{}, false
	}
	if r.PumpStatus == models.PumpOn {
		return newAlert(r, models.AlertIrrigationStart, models.SeverityInfo, "Irrigation started"), true
	}
	return newAlert(r, models.AlertIrrigationStop, models.SeverityInfo, "Irrigation stopped"), true
}

func newAlert(r models.SensorReading, t models.AlertType, s models.Severity, msg string) models.Alert {
	return models.Alert{
		DeviceID:  r.DeviceID,
		Type:      t,
		Severity:  s,
		Message:   msg,
		Timestamp: r.Timestamp,
	}
}
