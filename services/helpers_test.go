package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"agranova/database"
	"agranova/models"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type published struct {
	topic   string
	payload interface{}
}

type recorder struct {
	mu   sync.Mutex
	msgs []published
}

func (r *recorder) Publish(topic string, payload interface{}) {
	r.mu.Lock()
	r.msgs = append(r.msgs, published{topic, payload})
	r.mu.Unlock()
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.topic
	}
	return out
}

func (r *recorder) count(topic string) int {
	n := 0
	for _, t := range r.topics() {
		if t == topic {
			n++
		}
	}
	return n
}

func (r *recorder) last(topic string) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].topic == topic {
			return r.msgs[i].payload
		}
	}
	return nil
}

type pumpCall struct {
	deviceID string
	status   models.PumpStatus
	duration int
}

type fakeActuator struct {
	mu    sync.Mutex
	calls []pumpCall
}

func (a *fakeActuator) SetPump(ctx context.Context, deviceID string, status models.PumpStatus, duration int) error {
	a.mu.Lock()
	a.calls = append(a.calls, pumpCall{deviceID, status, duration})
	a.mu.Unlock()
	return nil
}

type harness struct {
	clock      *clockwork.FakeClock
	store      *database.MemoryStore
	rec        *recorder
	actuator   *fakeActuator
	pipeline   *Pipeline
	controller *IrrigationController
	hook       *logtest.Hook
	log        logrus.FieldLogger
}

const testDevice = "field-01"

func newHarness(t *testing.T, cancelOnManual bool) *harness {
	t.Helper()
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	h := &harness{
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)),
		store:    database.NewMemoryStore(),
		rec:      &recorder{},
		actuator: &fakeActuator{},
		hook:     hook,
		log:      log,
	}
	h.pipeline = NewPipeline(h.store, NewAlertEvaluator(), h.rec, h.clock, log, nil)
	h.controller = NewIrrigationController(h.store, h.pipeline, h.rec, h.actuator, h.clock,
		ControllerOptions{DefaultDevice: testDevice, AutoOffCancelOnManual: cancelOnManual}, log, nil)
	t.Cleanup(h.controller.Stop)
	return h
}

// seed stores a healthy reading with the given pump status
func (h *harness) seed(t *testing.T, pump models.PumpStatus) {
	t.Helper()
	r := baseReading()
	r.PumpStatus = pump
	r.Timestamp = h.clock.Now()
	if err := h.store.InsertReading(context.Background(), &r); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func (h *harness) readings(t *testing.T) []models.SensorReading {
	t.Helper()
	all, err := h.store.ReadingsSince(context.Background(), testDevice, time.Time{})
	if err != nil {
		t.Fatalf("ReadingsSince: %v", err)
	}
	return all
}

// waitFor polls cond; fake-clock callbacks run on their own goroutines
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// settle gives stray goroutines a moment before asserting something did not happen
func settle() {
	time.Sleep(50 * time.Millisecond)
}
