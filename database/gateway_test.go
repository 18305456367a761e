package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"agranova/config"
	"agranova/metrics"
	"agranova/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type failingStore struct {
	*MemoryStore
	err   error
	calls int
}

func (s *failingStore) LatestReading(ctx context.Context, deviceID string) (*models.SensorReading, error) {
	s.calls++
	return nil, s.err
}

func TestGatewayLogRetention(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()
	mem := NewMemoryStore()
	g := NewGateway(mem, GatewayOptions{Retention: Retention{Logs: 1000}}, log, nil)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 1050; i++ {
		err := g.InsertLog(ctx, &models.SystemLog{
			SystemID:  "field-01",
			LogType:   models.LogSensor,
			Action:    "reading",
			Message:   fmt.Sprintf("entry %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("InsertLog %d: %v", i, err)
		}
	}
	g.InsertLog(ctx, &models.SystemLog{SystemID: "field-02", Message: "other system", Timestamp: base})

	logs, _ := mem.ListLogs(ctx, "field-01", 0)
	if len(logs) != 1000 {
		t.Fatalf("expected 1000 logs retained, got %d", len(logs))
	}
	if logs[0].Message != "entry 1049" || logs[999].Message != "entry 50" {
		t.Errorf("expected newest 1000 entries, got %q .. %q", logs[0].Message, logs[999].Message)
	}

	other, _ := mem.ListLogs(ctx, "field-02", 0)
	if len(other) != 1 {
		t.Errorf("retention must be per system, got %d logs for field-02", len(other))
	}
}

func TestGatewayReadingRetention(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()
	mem := NewMemoryStore()
	g := NewGateway(mem, GatewayOptions{Retention: Retention{Readings: 3}}, log, nil)

	base := time.Now()
	for i := 0; i < 5; i++ {
		g.InsertReading(ctx, reading("a", base.Add(time.Duration(i)*time.Second), models.PumpOff))
	}
	all, _ := mem.ReadingsSince(ctx, "a", time.Time{})
	if len(all) != 3 {
		t.Errorf("expected 3 readings retained, got %d", len(all))
	}
}

func TestGatewayReadingRetentionOutOfOrder(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()
	mem := NewMemoryStore()
	g := NewGateway(mem, GatewayOptions{Retention: Retention{Readings: 1000}}, log, nil)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1049; i >= 0; i-- {
		if err := g.InsertReading(ctx, reading("a", base.Add(time.Duration(i)*time.Second), models.PumpOff)); err != nil {
			t.Fatalf("InsertReading %d: %v", i, err)
		}
	}

	all, _ := mem.ReadingsSince(ctx, "a", time.Time{})
	if len(all) != 1000 {
		t.Fatalf("expected 1000 readings retained, got %d", len(all))
	}
	if oldest := all[0].Timestamp.Sub(base); oldest != 50*time.Second {
		t.Errorf("expected oldest kept at +50s, got +%v", oldest)
	}

	latest, err := mem.LatestReading(ctx, "a")
	if err != nil {
		t.Fatalf("LatestReading: %v", err)
	}
	if got := latest.Timestamp.Sub(base); got != 1049*time.Second {
		t.Errorf("newest reading was trimmed, latest is +%v", got)
	}
}

func TestGatewayLogRetentionOutOfOrder(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()
	mem := NewMemoryStore()
	g := NewGateway(mem, GatewayOptions{Retention: Retention{Logs: 100}}, log, nil)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 149; i >= 0; i-- {
		g.InsertLog(ctx, &models.SystemLog{
			SystemID:  "field-01",
			Message:   fmt.Sprintf("entry %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	logs, _ := mem.ListLogs(ctx, "field-01", 0)
	if len(logs) != 100 {
		t.Fatalf("expected 100 logs retained, got %d", len(logs))
	}
	if logs[0].Message != "entry 149" || logs[99].Message != "entry 50" {
		t.Errorf("expected entries 149..50, got %q .. %q", logs[0].Message, logs[99].Message)
	}
}

func TestGatewayBreakerOpens(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()
	m := metrics.New(prometheus.NewRegistry())
	fs := &failingStore{MemoryStore: NewMemoryStore(), err: errors.New("connection reset")}
	g := NewGateway(fs, GatewayOptions{BreakerFailures: 3, BreakerOpenFor: time.Minute}, log, m)

	for i := 0; i < 3; i++ {
		if _, err := g.LatestReading(ctx, "a"); err == nil || errors.Is(err, models.ErrBackendUnavailable) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}

	_, err := g.LatestReading(ctx, "a")
	if !errors.Is(err, models.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable once open, got %v", err)
	}
	if fs.calls != 3 {
		t.Errorf("open breaker must not reach the store, got %d calls", fs.calls)
	}
	if g.BreakerState() != "open" {
		t.Errorf("expected open state, got %s", g.BreakerState())
	}
	if got := testutil.ToFloat64(m.BreakerOpen); got != 1 {
		t.Errorf("expected breaker gauge 1, got %v", got)
	}
}

func TestGatewayNotFoundDoesNotTrip(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()
	g := NewGateway(NewMemoryStore(), GatewayOptions{BreakerFailures: 2}, log, nil)

	for i := 0; i < 5; i++ {
		if _, err := g.LatestReading(ctx, "nobody"); !errors.Is(err, models.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if g.BreakerState() != "closed" {
		t.Errorf("ErrNotFound must not trip the breaker")
	}
}

func TestOpenMemory(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Type: "memory", LogRetention: 100}}
	log, _ := logtest.NewNullLogger()

	g := Open(context.Background(), cfg, log, nil)
	if g.Type() != "memory" || g.Degraded() {
		t.Errorf("expected healthy memory store, got %s degraded=%v", g.Type(), g.Degraded())
	}
}

func TestOpenFallsBackToMemory(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{
		Type:             "postgres",
		PostgresHost:     "127.0.0.1",
		PostgresPort:     1,
		PostgresName:     "none",
		PostgresUser:     "none",
		PostgresPassword: "none",
		PostgresSSLMode:  "disable",
		ConnectTimeout:   time.Second,
		ConnectRetries:   1,
		LogRetention:     1000,
	}}
	log, hook := logtest.NewNullLogger()

	g := Open(context.Background(), cfg, log, nil)
	if g.Type() != "memory" || !g.Degraded() {
		t.Fatalf("expected degraded memory fallback, got %s degraded=%v", g.Type(), g.Degraded())
	}
	if g.retention.Logs != MemoryLogRetention {
		t.Errorf("expected memory log retention %d, got %d", MemoryLogRetention, g.retention.Logs)
	}

	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "durable store unreachable, running in demo mode with in-memory storage" {
			warned = true
		}
	}
	if !warned {
		t.Errorf("expected a demo mode warning")
	}
}
