package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"agranova/database"
	"agranova/models"
	"agranova/services"
	"agranova/websocket"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

const device = "field-01"

type testServer struct {
	router *gin.Engine
	store  *database.Gateway
	hub    *websocket.Hub
	clock  *clockwork.FakeClock
}

type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Count   int             `json:"count"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, tokens map[string]string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := logtest.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	store := database.NewGateway(database.NewMemoryStore(), database.GatewayOptions{
		Retention: database.Retention{Logs: 1000},
		Timeout:   time.Second,
	}, log, nil)

	hub := websocket.NewHub([]string{"*"}, log, nil)
	go hub.Run(ctx)

	pipeline := services.NewPipeline(store, services.NewAlertEvaluator(), hub, clock, log, nil)
	controller := services.NewIrrigationController(store, pipeline, hub, nil, clock,
		services.ControllerOptions{DefaultDevice: device, AutoOffCancelOnManual: true}, log, nil)
	generator := services.NewGenerator(device, time.Hour, pipeline, hub, clock, log, nil)

	h := New(Deps{
		Context:       ctx,
		Store:         store,
		Hub:           hub,
		Pipeline:      pipeline,
		Controller:    controller,
		Generator:     generator,
		Clock:         clock,
		DefaultDevice: device,
		Log:           log,
	})
	router := NewRouter(h, RouterOptions{
		AllowOrigins: []string{"*"},
		Auth:         NewStaticTokenAuthenticator(tokens),
	})

	t.Cleanup(func() {
		generator.Stop()
		controller.Stop()
		cancel()
	})
	return &testServer{router: router, store: store, hub: hub, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string) (int, apiResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatal(err)
			}
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: response is not JSON: %s", method, path, w.Body.String())
	}
	return w.Code, resp
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func reading(tank, battery float64) map[string]interface{} {
	return map[string]interface{}{
		"deviceId":       device,
		"soilMoisture":   42.5,
		"temperature":    24.1,
		"humidity":       60,
		"waterTankLevel": tank,
		"batteryLevel":   battery,
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, map[string]string{"secret": "alice"})
	code, resp := s.do(t, http.MethodGet, "/api/health", nil, "")
	if code != http.StatusOK || !resp.Success {
		t.Fatalf("health: %d %+v", code, resp)
	}
}

func TestSystemHealth(t *testing.T) {
	s := newTestServer(t, nil)
	code, resp := s.do(t, http.MethodGet, "/api/system/health", nil, "")
	if code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	health := decode[struct {
		Status   string `json:"status"`
		Database struct {
			Type     string `json:"type"`
			DemoMode bool   `json:"demoMode"`
		} `json:"database"`
		Simulation services.GeneratorStatus `json:"simulation"`
	}](t, resp.Data)
	if health.Status != "healthy" || health.Database.Type != "memory" || health.Simulation.Running {
		t.Errorf("unexpected health %+v", health)
	}
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t, map[string]string{"secret": "alice"})

	code, resp := s.do(t, http.MethodGet, "/api/alerts", nil, "")
	if code != http.StatusUnauthorized || resp.Success {
		t.Errorf("missing token: %d %+v", code, resp)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/alerts", nil, "wrong"); code != http.StatusUnauthorized {
		t.Errorf("wrong token: %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/api/alerts", nil, "secret"); code != http.StatusOK {
		t.Errorf("valid token: %d", code)
	}
	if code, _ := s.do(t, http.MethodPost, "/api/sensors", reading(70, 90), ""); code != http.StatusCreated {
		t.Errorf("device ingest must not need a token: %d", code)
	}
}

func TestDemoModeAllowsAnonymous(t *testing.T) {
	s := newTestServer(t, nil)
	if code, _ := s.do(t, http.MethodGet, "/api/irrigation/config", nil, ""); code != http.StatusOK {
		t.Errorf("demo mode: %d", code)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer abc":  "abc",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
		"Bearer  xyz": "xyz",
	}
	for header, want := range cases {
		if got := bearerToken(header); got != want {
			t.Errorf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestLatestWithoutData(t *testing.T) {
	s := newTestServer(t, nil)
	code, resp := s.do(t, http.MethodGet, "/api/sensors/latest", nil, "")
	if code != http.StatusNotFound || resp.Message != "No sensor data found" {
		t.Errorf("got %d %+v", code, resp)
	}
}

func TestCreateSensorDataValidation(t *testing.T) {
	s := newTestServer(t, nil)

	missing := reading(70, 90)
	delete(missing, "soilMoisture")
	outOfRange := reading(170, 90)

	for name, body := range map[string]interface{}{
		"missing field": missing,
		"out of range":  outOfRange,
		"bad json":      "{not json",
	} {
		code, resp := s.do(t, http.MethodPost, "/api/sensors", body, "")
		if code != http.StatusBadRequest || resp.Success {
			t.Errorf("%s: got %d %+v", name, code, resp)
		}
	}

	code, resp := s.do(t, http.MethodGet, "/api/sensors/history", nil, "")
	if code != http.StatusOK || resp.Count != 0 {
		t.Errorf("rejected readings must not be stored: %+v", resp)
	}
}

func TestCreateAndReadSensorData(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodPost, "/api/sensors", reading(70, 90), "")
	if code != http.StatusCreated {
		t.Fatalf("create: %d %+v", code, resp)
	}
	created := decode[models.SensorReading](t, resp.Data)
	if created.ID == "" || created.PumpStatus != models.PumpOff || created.SolarPanelStatus != models.SolarActive {
		t.Errorf("defaults not applied: %+v", created)
	}

	_, resp = s.do(t, http.MethodGet, "/api/sensors/latest", nil, "")
	if latest := decode[models.SensorReading](t, resp.Data); latest.ID != created.ID {
		t.Errorf("latest = %s, want %s", latest.ID, created.ID)
	}

	_, resp = s.do(t, http.MethodGet, "/api/sensors/history?period=7d", nil, "")
	if resp.Count != 1 {
		t.Errorf("history count = %d", resp.Count)
	}

	if code, _ := s.do(t, http.MethodGet, "/api/sensors/history?period=forever", nil, ""); code != http.StatusBadRequest {
		t.Errorf("bad period: %d", code)
	}
}

func TestControlPump(t *testing.T) {
	s := newTestServer(t, map[string]string{"secret": "alice"})

	code, resp := s.do(t, http.MethodPost, "/api/irrigation/pump", map[string]interface{}{"action": "ON"}, "secret")
	if code != http.StatusNotFound || resp.Message != "No sensor data available" {
		t.Fatalf("pump without data: %d %+v", code, resp)
	}

	s.do(t, http.MethodPost, "/api/sensors", reading(70, 90), "")

	code, resp = s.do(t, http.MethodPost, "/api/irrigation/pump", map[string]interface{}{"action": "ON", "duration": 5}, "secret")
	if code != http.StatusOK {
		t.Fatalf("pump on: %d %+v", code, resp)
	}
	data := decode[struct {
		PumpStatus models.PumpStatus `json:"pumpStatus"`
		Message    string            `json:"message"`
		AutoOffAt  *time.Time        `json:"autoOffAt"`
	}](t, resp.Data)
	if data.PumpStatus != models.PumpOn || data.Message != "Pump turned ON for 5 minutes" || data.AutoOffAt == nil {
		t.Errorf("unexpected pump response %+v", data)
	}

	if code, _ := s.do(t, http.MethodPost, "/api/irrigation/pump", map[string]interface{}{"action": "SIDEWAYS"}, "secret"); code != http.StatusBadRequest {
		t.Errorf("bad action: %d", code)
	}

	_, resp = s.do(t, http.MethodGet, "/api/irrigation/logs", nil, "secret")
	logs := decode[[]models.SystemLog](t, resp.Data)
	if len(logs) != 1 || logs[0].Principal != "alice" {
		t.Errorf("pump log must record the caller, got %+v", logs)
	}
}

func TestIrrigationConfig(t *testing.T) {
	s := newTestServer(t, nil)

	_, resp := s.do(t, http.MethodGet, "/api/irrigation/config", nil, "")
	cfg := decode[models.IrrigationConfig](t, resp.Data)
	if cfg.Mode != models.ModeAutomatic || cfg.MoistureThreshold != 30 {
		t.Errorf("unexpected default %+v", cfg)
	}

	code, resp := s.do(t, http.MethodPut, "/api/irrigation/config", map[string]interface{}{"mode": "MANUAL", "manualTimer": 20}, "")
	if code != http.StatusOK {
		t.Fatalf("update: %d %+v", code, resp)
	}
	cfg = decode[models.IrrigationConfig](t, resp.Data)
	if cfg.Mode != models.ModeManual || cfg.ManualTimer != 20 || cfg.MoistureThreshold != 30 {
		t.Errorf("unexpected config %+v", cfg)
	}

	if code, _ := s.do(t, http.MethodPut, "/api/irrigation/config", map[string]interface{}{"moistureThreshold": 101}, ""); code != http.StatusBadRequest {
		t.Errorf("threshold out of range: %d", code)
	}
}

func TestIrrigationStats(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/sensors", reading(70, 90), "")

	code, resp := s.do(t, http.MethodGet, "/api/irrigation/stats", nil, "")
	if code != http.StatusOK {
		t.Fatalf("stats: %d", code)
	}
	stats := decode[models.IrrigationStats](t, resp.Data)
	if stats.Period != "7d" || stats.DataPoints != 1 || stats.AverageMoisture != 42.5 {
		t.Errorf("unexpected stats %+v", stats)
	}

	if code, _ := s.do(t, http.MethodGet, "/api/irrigation/stats?period=0d", nil, ""); code != http.StatusBadRequest {
		t.Errorf("bad period: %d", code)
	}
}

func TestAlertEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/sensors", reading(10, 90), "")

	_, resp := s.do(t, http.MethodGet, "/api/alerts", nil, "")
	alerts := decode[[]models.Alert](t, resp.Data)
	if resp.Count != 1 || alerts[0].Type != models.AlertLowWater || alerts[0].IsRead {
		t.Fatalf("unexpected alerts %+v", alerts)
	}
	id := alerts[0].ID

	code, resp := s.do(t, http.MethodPut, "/api/alerts/"+id+"/read", nil, "")
	if code != http.StatusOK || !decode[models.Alert](t, resp.Data).IsRead {
		t.Errorf("mark read: %d %+v", code, resp)
	}
	code, resp = s.do(t, http.MethodPut, "/api/alerts/missing/read", nil, "")
	if code != http.StatusNotFound || resp.Message != "Alert not found" {
		t.Errorf("unknown alert: %d %+v", code, resp)
	}

	s.do(t, http.MethodPost, "/api/sensors", reading(10, 5), "")
	code, resp = s.do(t, http.MethodPut, "/api/alerts/read/all", nil, "")
	if code != http.StatusOK || resp.Message != "All alerts marked as read" {
		t.Errorf("read all: %d %+v", code, resp)
	}
	_, resp = s.do(t, http.MethodGet, "/api/alerts", nil, "")
	for _, a := range decode[[]models.Alert](t, resp.Data) {
		if !a.IsRead {
			t.Errorf("alert %s still unread", a.ID)
		}
	}

	if code, _ := s.do(t, http.MethodDelete, "/api/alerts/"+id, nil, ""); code != http.StatusOK {
		t.Errorf("delete: %d", code)
	}
	if code, _ := s.do(t, http.MethodDelete, "/api/alerts/"+id, nil, ""); code != http.StatusNotFound {
		t.Errorf("second delete: %d", code)
	}
}

func TestSimulationLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := s.do(t, http.MethodPost, "/api/simulation/start", nil, "")
	if code != http.StatusOK || !decode[services.GeneratorStatus](t, resp.Data).Running {
		t.Fatalf("start: %d %+v", code, resp)
	}
	_, resp = s.do(t, http.MethodPost, "/api/simulation/start", nil, "")
	if resp.Message != "Sensor simulation already running" {
		t.Errorf("double start message %q", resp.Message)
	}

	_, resp = s.do(t, http.MethodPost, "/api/simulation/stop", nil, "")
	if decode[services.GeneratorStatus](t, resp.Data).Running {
		t.Error("generator still running after stop")
	}
	_, resp = s.do(t, http.MethodGet, "/api/simulation", nil, "")
	if decode[services.GeneratorStatus](t, resp.Data).Running {
		t.Error("status reports running")
	}
}

func TestErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log, _ := logtest.NewNullLogger()
	h := &Handler{log: log}

	cases := []struct {
		err  error
		want int
	}{
		{models.NewValidationError("x", "bad"), http.StatusBadRequest},
		{fmt.Errorf("load: %w", models.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("insert: %w", models.ErrBackendUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		h.failWith(c, tc.err, "missing")
		if w.Code != tc.want {
			t.Errorf("%v: status %d, want %d", tc.err, w.Code, tc.want)
		}
	}
}

func TestIngestPushesOverWebsocket(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	next := func() models.WebSocketMessage {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg models.WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}
	if msg := next(); msg.Type != models.TopicConnection {
		t.Fatalf("expected welcome, got %s", msg.Type)
	}

	body, _ := json.Marshal(reading(12, 90))
	resp, err := http.Post(srv.URL+"/api/sensors", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("post status %d", resp.StatusCode)
	}

	alert := next()
	if alert.Type != models.TopicNewAlert {
		t.Fatalf("expected new_alert first, got %s", alert.Type)
	}
	if data, _ := alert.Data.(map[string]interface{}); data["type"] != string(models.AlertLowWater) {
		t.Errorf("unexpected alert payload %v", alert.Data)
	}

	update := next()
	if update.Type != models.TopicSensorUpdate {
		t.Fatalf("expected sensor_update, got %s", update.Type)
	}
	if data, _ := update.Data.(map[string]interface{}); data["waterTankLevel"] != 12.0 {
		t.Errorf("unexpected reading payload %v", update.Data)
	}
}
