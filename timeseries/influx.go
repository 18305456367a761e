package timeseries

import (
	"context"
	"fmt"
	"strings"

	"agranova/config"
	"agranova/models"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const defaultMeasurement = "sensor_reading"

// InfluxSink mirrors persisted readings into an InfluxDB bucket
type InfluxSink struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
}

// NewInfluxSink connects to InfluxDB
func NewInfluxSink(cfg config.InfluxConfig) (*InfluxSink, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("influx config incomplete")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	s := newInfluxSink(client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg.Measurement)
	s.client = client
	return s, nil
}

func newInfluxSink(writeAPI api.WriteAPIBlocking, measurement string) *InfluxSink {
	if measurement == "" {
		measurement = defaultMeasurement
	}
	return &InfluxSink{writeAPI: writeAPI, measurement: sanitizeMeasurement(measurement)}
}

// Name identifies the sink in logs and metrics
func (s *InfluxSink) Name() string { return "influx" }

// WriteReading stores one reading as a point tagged by device
func (s *InfluxSink) WriteReading(ctx context.Context, r models.SensorReading) error {
	if err := s.writeAPI.WritePoint(ctx, s.point(r)); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func (s *InfluxSink) point(r models.SensorReading) *write.Point {
	tags := map[string]string{
		"device_id":   r.DeviceID,
		"pump_status": string(r.PumpStatus),
		"solar":       string(r.SolarPanelStatus),
	}
	fields := map[string]interface{}{
		"soil_moisture":     r.SoilMoisture,
		"temperature":       r.Temperature,
		"humidity":          r.Humidity,
		"water_tank_level":  r.WaterTankLevel,
		"battery_level":     r.BatteryLevel,
		"solar_panel_angle": r.SolarPanelAngle,
		"pump_on":           r.PumpStatus == models.PumpOn,
	}
	return influxdb2.NewPoint(s.measurement, tags, fields, r.Timestamp)
}

// Close flushes pending writes and releases the client
func (s *InfluxSink) Close(ctx context.Context) error {
	err := s.writeAPI.Flush(ctx)
	if s.client != nil {
		s.client.Close()
	}
	return err
}

func sanitizeMeasurement(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == ':', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
