package services

import (
	"context"
	"testing"
	"time"

	"agranova/models"
)

func newAutomation(h *harness) *Automation {
	return NewAutomation(h.controller, h.store, h.clock, testDevice, 30*time.Second, 10, h.log)
}

func seedMoisture(t *testing.T, h *harness, moisture float64, pump models.PumpStatus) {
	t.Helper()
	r := baseReading()
	r.SoilMoisture = moisture
	r.PumpStatus = pump
	r.Timestamp = h.clock.Now()
	if err := h.store.InsertReading(context.Background(), &r); err != nil {
		t.Fatal(err)
	}
}

func TestAutomationStartsPumpWhenDry(t *testing.T) {
	h := newHarness(t, true)
	seedMoisture(t, h, 20, models.PumpOff)

	started, err := newAutomation(h).Evaluate(context.Background())
	if err != nil || !started {
		t.Fatalf("expected pump start, got %v, %v", started, err)
	}

	latest, _ := h.store.LatestReading(context.Background(), testDevice)
	if latest.PumpStatus != models.PumpOn {
		t.Errorf("pump = %s", latest.PumpStatus)
	}
	at, ok := h.controller.AutoOff().Pending(testDevice)
	if !ok || !at.Equal(h.clock.Now().Add(10*time.Minute)) {
		t.Errorf("expected auto-off in 10 minutes, got %v %v", at, ok)
	}

	logs, _ := h.store.ListLogs(context.Background(), testDevice, 1)
	if len(logs) != 1 || logs[0].Principal != AutomationPrincipal.ID {
		t.Errorf("expected an automation log entry, got %+v", logs)
	}
}

func TestAutomationUsesManualTimer(t *testing.T) {
	h := newHarness(t, true)
	seedMoisture(t, h, 10, models.PumpOff)
	timer := 5
	h.controller.UpdateConfig(context.Background(), ConfigUpdate{ManualTimer: &timer}, operator)

	if started, _ := newAutomation(h).Evaluate(context.Background()); !started {
		t.Fatal("expected pump start")
	}
	at, _ := h.controller.AutoOff().Pending(testDevice)
	if !at.Equal(h.clock.Now().Add(5 * time.Minute)) {
		t.Errorf("auto-off at %v", at)
	}
}

func TestAutomationSkips(t *testing.T) {
	cases := []struct {
		name     string
		moisture float64
		pump     models.PumpStatus
		mode     models.IrrigationMode
	}{
		{"wet soil", 45, models.PumpOff, models.ModeAutomatic},
		{"at threshold", 30, models.PumpOff, models.ModeAutomatic},
		{"pump already on", 10, models.PumpOn, models.ModeAutomatic},
		{"manual mode", 10, models.PumpOff, models.ModeManual},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, true)
			seedMoisture(t, h, tc.moisture, tc.pump)
			h.controller.SetMode(context.Background(), tc.mode, operator)

			started, err := newAutomation(h).Evaluate(context.Background())
			if err != nil || started {
				t.Errorf("expected no action, got %v, %v", started, err)
			}
			if n := len(h.readings(t)); n != 1 {
				t.Errorf("no reading should be inserted, have %d", n)
			}
		})
	}
}

func TestAutomationWithoutReadings(t *testing.T) {
	h := newHarness(t, true)
	started, err := newAutomation(h).Evaluate(context.Background())
	if err != nil || started {
		t.Errorf("expected a quiet no-op, got %v, %v", started, err)
	}
}

func TestAutomationLoop(t *testing.T) {
	h := newHarness(t, true)
	seedMoisture(t, h, 15, models.PumpOff)

	a := newAutomation(h)
	a.Start(context.Background())
	defer a.Stop()

	h.clock.Advance(30 * time.Second)
	waitFor(t, "automatic pump start", func() bool {
		return h.rec.count(models.TopicPumpStatusUpdate) == 1
	})

	a.Stop()
	a.Stop()
}
