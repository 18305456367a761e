package models

// Validate checks the reading against the ranges accepted by the store.
// Temperature is unbounded.
func (r SensorReading) Validate() error {
	if err := checkPercent("soilMoisture", r.SoilMoisture); err != nil {
		return err
	}
	if err := checkPercent("humidity", r.Humidity); err != nil {
		return err
	}
	if err := checkPercent("waterTankLevel", r.WaterTankLevel); err != nil {
		return err
	}
	if err := checkPercent("batteryLevel", r.BatteryLevel); err != nil {
		return err
	}
	if r.SolarPanelAngle < 0 || r.SolarPanelAngle > 180 {
		return NewValidationError("solarPanelAngle", "%.1f out of range [0,180]", r.SolarPanelAngle)
	}
	if !r.PumpStatus.Valid() {
		return NewValidationError("pumpStatus", "%q must be ON or OFF", r.PumpStatus)
	}
	if !r.SolarPanelStatus.Valid() {
		return NewValidationError("solarPanelStatus", "%q must be ACTIVE, INACTIVE or CHARGING", r.SolarPanelStatus)
	}
	return nil
}

func checkPercent(field string, v float64) error {
	if v < 0 || v > 100 {
		return NewValidationError(field, "%.1f out of range [0,100]", v)
	}
	return nil
}

// Valid reports whether the pump status is a known value
func (s PumpStatus) Valid() bool {
	return s == PumpOn || s == PumpOff
}

// Valid reports whether the solar panel status is a known value
func (s SolarPanelStatus) Valid() bool {
	switch s {
	case SolarActive, SolarInactive, SolarCharging:
		return true
	}
	return false
}

// Valid reports whether the irrigation mode is a known value
func (m IrrigationMode) Valid() bool {
	return m == ModeAutomatic || m == ModeManual
}
