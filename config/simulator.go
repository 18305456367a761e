package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SimulatorConfig holds configuration for the standalone sensor simulator
type SimulatorConfig struct {
	Mode       string
	Brokers    []string
	Topic      string
	BackendURL string
	DeviceID   string
	Frequency  time.Duration
	FaultRate  float64
	LogLevel   string
}

// LoadSimulator loads simulator configuration from environment variables
func LoadSimulator() (*SimulatorConfig, error) {
	frequencyMs, err := strconv.Atoi(getEnvOrDefault("SENSOR_FREQUENCY", "5000"))
	if err != nil {
		return nil, fmt.Errorf("invalid SENSOR_FREQUENCY: %v", err)
	}
	faultRate, err := strconv.ParseFloat(getEnvOrDefault("FAULT_RATE", "0.02"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid FAULT_RATE: %v", err)
	}

	cfg := &SimulatorConfig{
		Mode:       strings.ToLower(getEnvOrDefault("SIMULATOR_MODE", "kafka")),
		Brokers:    splitList(getEnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		Topic:      getEnvOrDefault("KAFKA_TOPIC", "irrigation.sensor"),
		BackendURL: strings.TrimRight(getEnvOrDefault("BACKEND_URL", "http://localhost:5000"), "/"),
		DeviceID:   getEnvOrDefault("DEVICE_ID", "field-01"),
		Frequency:  time.Duration(frequencyMs) * time.Millisecond,
		FaultRate:  faultRate,
		LogLevel:   getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if simulator configuration is valid
func (c *SimulatorConfig) Validate() error {
	switch c.Mode {
	case "kafka":
		if len(c.Brokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required in kafka mode")
		}
	case "http":
	default:
		return fmt.Errorf("invalid SIMULATOR_MODE: %s (use 'kafka' or 'http')", c.Mode)
	}

	if c.Frequency <= 0 {
		return fmt.Errorf("invalid SENSOR_FREQUENCY: %v (must be positive)", c.Frequency)
	}

	if c.FaultRate < 0 || c.FaultRate > 1 {
		return fmt.Errorf("invalid FAULT_RATE: %v (must be between 0 and 1)", c.FaultRate)
	}

	if c.DeviceID == "" {
		return fmt.Errorf("DEVICE_ID must not be empty")
	}

	return nil
}
