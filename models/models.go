package models

import (
	"time"
)

// PumpStatus is the on/off state of the irrigation pump
type PumpStatus string

const (
	PumpOn  PumpStatus = "ON"
	PumpOff PumpStatus = "OFF"
)

// SolarPanelStatus describes what the solar panel is doing
type SolarPanelStatus string

const (
	SolarActive   SolarPanelStatus = "ACTIVE"
	SolarInactive SolarPanelStatus = "INACTIVE"
	SolarCharging SolarPanelStatus = "CHARGING"
)

// IrrigationMode selects threshold-driven or timed irrigation
type IrrigationMode string

const (
	ModeAutomatic IrrigationMode = "AUTOMATIC"
	ModeManual    IrrigationMode = "MANUAL"
)

// AlertType enumerates the alert kinds raised by the backend
type AlertType string

const (
	AlertLowWater        AlertType = "LOW_WATER"
	AlertBatteryLow      AlertType = "BATTERY_LOW"
	AlertIrrigationStart AlertType = "IRRIGATION_START"
	AlertIrrigationStop  AlertType = "IRRIGATION_STOP"
	AlertSensorFailure   AlertType = "SENSOR_FAILURE"
	AlertPowerIssue      AlertType = "POWER_ISSUE"
)

// Severity of an alert
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// LogType categorizes system log entries
type LogType string

const (
	LogInfo    LogType = "INFO"
	LogWarning LogType = "WARNING"
	LogError   LogType = "ERROR"
	LogSystem  LogType = "SYSTEM"
	LogSensor  LogType = "SENSOR"
	LogNetwork LogType = "NETWORK"
)

// SensorReading is one immutable snapshot of all sensor and actuator fields
type SensorReading struct {
	ID               string           `json:"id" bson:"_id" db:"id"`
	DeviceID         string           `json:"deviceId" bson:"deviceId" db:"device_id"`
	SoilMoisture     float64          `json:"soilMoisture" bson:"soilMoisture" db:"soil_moisture"`
	Temperature      float64          `json:"temperature" bson:"temperature" db:"temperature"`
	Humidity         float64          `json:"humidity" bson:"humidity" db:"humidity"`
	WaterTankLevel   float64          `json:"waterTankLevel" bson:"waterTankLevel" db:"water_tank_level"`
	PumpStatus       PumpStatus       `json:"pumpStatus" bson:"pumpStatus" db:"pump_status"`
	SolarPanelStatus SolarPanelStatus `json:"solarPanelStatus" bson:"solarPanelStatus" db:"solar_panel_status"`
	SolarPanelAngle  float64          `json:"solarPanelAngle" bson:"solarPanelAngle" db:"solar_panel_angle"`
	BatteryLevel     float64          `json:"batteryLevel" bson:"batteryLevel" db:"battery_level"`
	Timestamp        time.Time        `json:"timestamp" bson:"timestamp" db:"timestamp"`
}

// WithPump returns a copy of the reading carrying a new pump status and timestamp.
// The copy has no ID; the store assigns one on insert.
func (r SensorReading) WithPump(status PumpStatus, at time.Time) SensorReading {
	next := r
	next.ID = ""
	next.PumpStatus = status
	next.Timestamp = at
	return next
}

// IrrigationConfig is the singleton irrigation configuration
type IrrigationConfig struct {
	ID                string         `json:"id" bson:"_id" db:"id"`
	Mode              IrrigationMode `json:"mode" bson:"mode" db:"mode"`
	MoistureThreshold float64        `json:"moistureThreshold" bson:"moistureThreshold" db:"moisture_threshold"`
	ManualTimer       int            `json:"manualTimer" bson:"manualTimer" db:"manual_timer"`
	IsActive          bool           `json:"isActive" bson:"isActive" db:"is_active"`
	LastUpdated       time.Time      `json:"lastUpdated" bson:"lastUpdated" db:"last_updated"`
}

// IrrigationConfigID is the fixed identifier of the configuration singleton
const IrrigationConfigID = "irrigation"

// DefaultIrrigationConfig returns the configuration created on first access
func DefaultIrrigationConfig(now time.Time) IrrigationConfig {
	return IrrigationConfig{
		ID:                IrrigationConfigID,
		Mode:              ModeAutomatic,
		MoistureThreshold: 30,
		ManualTimer:       0,
		IsActive:          false,
		LastUpdated:       now,
	}
}

// Alert represents an alert in the system
type Alert struct {
	ID        string    `json:"id" bson:"_id" db:"id"`
	DeviceID  string    `json:"deviceId" bson:"deviceId" db:"device_id"`
	Type      AlertType `json:"type" bson:"type" db:"type"`
	Severity  Severity  `json:"severity" bson:"severity" db:"severity"`
	Message   string    `json:"message" bson:"message" db:"message"`
	IsRead    bool      `json:"isRead" bson:"isRead" db:"is_read"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp" db:"timestamp"`
}

// SystemLog is an audit entry for a single irrigation system
type SystemLog struct {
	ID        string                 `json:"id" bson:"_id" db:"id"`
	SystemID  string                 `json:"systemId" bson:"systemId" db:"system_id"`
	LogType   LogType                `json:"logType" bson:"logType" db:"log_type"`
	Action    string                 `json:"action" bson:"action" db:"action"`
	Message   string                 `json:"message" bson:"message" db:"message"`
	Principal string                 `json:"principal,omitempty" bson:"principal,omitempty" db:"principal"`
	Data      map[string]interface{} `json:"data,omitempty" bson:"data,omitempty" db:"data"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp" db:"timestamp"`
}

// IrrigationStats represents aggregated irrigation statistics over a window
type IrrigationStats struct {
	Period              string    `json:"period"`
	Since               time.Time `json:"since"`
	TotalIrrigationTime int64     `json:"totalIrrigationTime"`
	PumpActivations     int       `json:"pumpActivations"`
	AverageMoisture     float64   `json:"averageMoisture"`
	AverageTemperature  float64   `json:"averageTemperature"`
	DataPoints          int       `json:"dataPoints"`
}

// WebSocketMessage represents a message sent to WebSocket clients
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// PumpStatusEvent is the payload of pump_status_update and pump_auto_off
type PumpStatusEvent struct {
	DeviceID   string     `json:"deviceId"`
	PumpStatus PumpStatus `json:"pumpStatus"`
	Timestamp  time.Time  `json:"timestamp"`
	Message    string     `json:"message,omitempty"`
}

// Principal is the authenticated caller of a command
type Principal struct {
	ID   string `json:"id"`
	Role string `json:"role,omitempty"`
}
