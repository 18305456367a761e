package timeseries

import (
	"context"
	"errors"
	"testing"
	"time"

	"agranova/config"
	"agranova/models"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

type fakeWriteAPI struct {
	api.WriteAPIBlocking
	points  []*write.Point
	err     error
	flushed bool
}

func (f *fakeWriteAPI) WritePoint(ctx context.Context, points ...*write.Point) error {
	if f.err != nil {
		return f.err
	}
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeWriteAPI) Flush(ctx context.Context) error {
	f.flushed = true
	return nil
}

func TestWriteReading(t *testing.T) {
	w := &fakeWriteAPI{}
	s := newInfluxSink(w, "")
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	err := s.WriteReading(context.Background(), models.SensorReading{
		DeviceID:         "field-01",
		SoilMoisture:     41.2,
		Temperature:      23,
		WaterTankLevel:   66,
		PumpStatus:       models.PumpOn,
		SolarPanelStatus: models.SolarCharging,
		Timestamp:        at,
	})
	if err != nil {
		t.Fatalf("WriteReading: %v", err)
	}
	if len(w.points) != 1 {
		t.Fatalf("expected one point, got %d", len(w.points))
	}

	p := w.points[0]
	if p.Name() != "sensor_reading" || !p.Time().Equal(at) {
		t.Errorf("unexpected point %s at %v", p.Name(), p.Time())
	}

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["device_id"] != "field-01" || tags["pump_status"] != "ON" || tags["solar"] != "CHARGING" {
		t.Errorf("unexpected tags %v", tags)
	}

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	if fields["soil_moisture"] != 41.2 || fields["pump_on"] != true {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestWriteReadingError(t *testing.T) {
	boom := errors.New("bucket not found")
	s := newInfluxSink(&fakeWriteAPI{err: boom}, "readings")
	if err := s.WriteReading(context.Background(), models.SensorReading{DeviceID: "x"}); !errors.Is(err, boom) {
		t.Errorf("expected wrapped write error, got %v", err)
	}
}

func TestCloseFlushes(t *testing.T) {
	w := &fakeWriteAPI{}
	if err := newInfluxSink(w, "readings").Close(context.Background()); err != nil || !w.flushed {
		t.Errorf("Close: %v, flushed %v", err, w.flushed)
	}
}

func TestNewInfluxSinkRequiresConfig(t *testing.T) {
	if _, err := NewInfluxSink(config.InfluxConfig{URL: "http://localhost:8086"}); err == nil {
		t.Error("expected error for incomplete config")
	}
}

func TestSanitizeMeasurement(t *testing.T) {
	if got := sanitizeMeasurement("field readings/v1"); got != "field_readings_v1" {
		t.Errorf("got %q", got)
	}
}
