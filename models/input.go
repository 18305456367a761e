package models

import "time"

// ReadingInput is a reading as submitted by a device or client. Optional
// fields fall back to defaults when omitted.
type ReadingInput struct {
	DeviceID         string           `json:"deviceId"`
	SoilMoisture     *float64         `json:"soilMoisture"`
	Temperature      *float64         `json:"temperature"`
	Humidity         *float64         `json:"humidity"`
	WaterTankLevel   *float64         `json:"waterTankLevel"`
	PumpStatus       PumpStatus       `json:"pumpStatus"`
	SolarPanelStatus SolarPanelStatus `json:"solarPanelStatus"`
	SolarPanelAngle  *float64         `json:"solarPanelAngle"`
	BatteryLevel     *float64         `json:"batteryLevel"`
	Timestamp        *time.Time       `json:"timestamp"`
}

// ToReading applies defaults and validates the result
func (in ReadingInput) ToReading(defaultDevice string, now time.Time) (SensorReading, error) {
	required := []struct {
		field string
		value *float64
	}{
		{"soilMoisture", in.SoilMoisture},
		{"temperature", in.Temperature},
		{"humidity", in.Humidity},
		{"waterTankLevel", in.WaterTankLevel},
	}
	for _, r := range required {
		if r.value == nil {
			return SensorReading{}, NewValidationError(r.field, "is required")
		}
	}

	r := SensorReading{
		DeviceID:         in.DeviceID,
		SoilMoisture:     *in.SoilMoisture,
		Temperature:      *in.Temperature,
		Humidity:         *in.Humidity,
		WaterTankLevel:   *in.WaterTankLevel,
		PumpStatus:       in.PumpStatus,
		SolarPanelStatus: in.SolarPanelStatus,
		SolarPanelAngle:  0,
		BatteryLevel:     100,
		Timestamp:        now,
	}
	if r.DeviceID == "" {
		r.DeviceID = defaultDevice
	}
	if r.PumpStatus == "" {
		r.PumpStatus = PumpOff
	}
	if r.SolarPanelStatus == "" {
		r.SolarPanelStatus = SolarActive
	}
	if in.SolarPanelAngle != nil {
		r.SolarPanelAngle = *in.SolarPanelAngle
	}
	if in.BatteryLevel != nil {
		r.BatteryLevel = *in.BatteryLevel
	}
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		r.Timestamp = *in.Timestamp
	}

	if err := r.Validate(); err != nil {
		return SensorReading{}, err
	}
	return r, nil
}
