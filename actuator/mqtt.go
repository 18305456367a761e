package actuator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agranova/config"
	"agranova/models"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	connectRetries = 5
	commandQoS     = 1
)

// PumpCommand is the payload published to a device's pump topic
type PumpCommand struct {
	DeviceID        string            `json:"deviceId"`
	PumpStatus      models.PumpStatus `json:"pumpStatus"`
	DurationMinutes int               `json:"durationMinutes,omitempty"`
	IssuedAt        time.Time         `json:"issuedAt"`
}

// MQTTActuator forwards pump state changes to field controllers over MQTT
type MQTTActuator struct {
	client mqtt.Client
	prefix string
	log    logrus.FieldLogger
}

// Connect dials the broker with exponential backoff
func Connect(ctx context.Context, cfg config.MQTTConfig, log logrus.FieldLogger) (*MQTTActuator, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.User)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)

	log = log.WithFields(logrus.Fields{"component": "actuator", "broker": cfg.Broker})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).Warn("failed to connect to MQTT broker")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, connectRetries-1), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Info("connected to MQTT broker")
	return NewMQTTActuator(client, cfg.TopicPrefix, log), nil
}

// NewMQTTActuator wraps an already connected client
func NewMQTTActuator(client mqtt.Client, prefix string, log logrus.FieldLogger) *MQTTActuator {
	return &MQTTActuator{
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		log:    log,
	}
}

// Topic returns the command topic of a device
func (a *MQTTActuator) Topic(deviceID string) string {
	return a.prefix + "/" + deviceID + "/pump"
}

// SetPump publishes the new pump state and waits for the broker to accept it
func (a *MQTTActuator) SetPump(ctx context.Context, deviceID string, status models.PumpStatus, durationMinutes int) error {
	payload, err := json.Marshal(PumpCommand{
		DeviceID:        deviceID,
		PumpStatus:      status,
		DurationMinutes: durationMinutes,
		IssuedAt:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode pump command: %w", err)
	}

	topic := a.Topic(deviceID)
	token := a.client.Publish(topic, commandQoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	a.log.WithFields(logrus.Fields{"topic": topic, "pump": status}).Debug("pump command published")
	return nil
}

// Close disconnects from the broker
func (a *MQTTActuator) Close() {
	if a.client.IsConnected() {
		a.client.Disconnect(250)
		a.log.Info("MQTT client disconnected")
	}
}
