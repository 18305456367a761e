package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"agranova/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                       { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}            { return t.done }
func (t *fakeToken) Error() error                     { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the actuator uses
type fakeClient struct {
	mqtt.Client
	token        *fakeToken
	published    []published
	connected    bool
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.published = append(c.published, published{topic, qos, payload.([]byte)})
	return c.token
}

func (c *fakeClient) IsConnected() bool { return c.connected }

func (c *fakeClient) Disconnect(quiesce uint) { c.disconnected = true }

func TestSetPumpPublishesCommand(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	client := &fakeClient{token: newToken(nil, true)}
	a := NewMQTTActuator(client, "agranova/devices/", log)

	if err := a.SetPump(context.Background(), "field-01", models.PumpOn, 15); err != nil {
		t.Fatalf("SetPump: %v", err)
	}
	if len(client.published) != 1 {
		t.Fatalf("expected one publish, got %d", len(client.published))
	}
	msg := client.published[0]
	if msg.topic != "agranova/devices/field-01/pump" || msg.qos != commandQoS {
		t.Errorf("unexpected publish %s qos %d", msg.topic, msg.qos)
	}

	var cmd PumpCommand
	if err := json.Unmarshal(msg.payload, &cmd); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if cmd.DeviceID != "field-01" || cmd.PumpStatus != models.PumpOn || cmd.DurationMinutes != 15 || cmd.IssuedAt.IsZero() {
		t.Errorf("unexpected command %+v", cmd)
	}
}

func TestSetPumpReportsBrokerError(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	refused := errors.New("not authorized")
	a := NewMQTTActuator(&fakeClient{token: newToken(refused, true)}, "agranova", log)

	if err := a.SetPump(context.Background(), "field-01", models.PumpOff, 0); !errors.Is(err, refused) {
		t.Errorf("expected broker error, got %v", err)
	}
}

func TestSetPumpHonoursContext(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	a := NewMQTTActuator(&fakeClient{token: newToken(nil, false)}, "agranova", log)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.SetPump(ctx, "field-01", models.PumpOff, 0); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestClose(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	client := &fakeClient{connected: true}
	NewMQTTActuator(client, "agranova", log).Close()
	if !client.disconnected {
		t.Error("expected Disconnect")
	}
}
