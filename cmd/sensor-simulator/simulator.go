package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"agranova/models"
	"agranova/services"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Publisher delivers one reading to the backend
type Publisher interface {
	Publish(ctx context.Context, r models.SensorReading) error
	Close() error
}

// KafkaPublisher produces readings keyed by device id
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher creates a synchronous producer
func NewKafkaPublisher(brokers []string, topic, deviceID string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "sensor-simulator-" + deviceID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Retry.Backoff = 100 * time.Millisecond
	cfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	return &KafkaPublisher{producer: producer, topic: topic}, nil
}

// Publish sends the reading and waits for delivery confirmation
func (p *KafkaPublisher) Publish(ctx context.Context, r models.SensorReading) error {
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(r.DeviceID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("device_id"), Value: []byte(r.DeviceID)},
			{Key: []byte("pump_status"), Value: []byte(r.PumpStatus)},
		},
		Timestamp: r.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	return nil
}

// Close flushes and closes the producer
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// HTTPPublisher posts readings to the backend's device endpoint
type HTTPPublisher struct {
	url    string
	client *http.Client
}

// NewHTTPPublisher targets baseURL/api/sensors
func NewHTTPPublisher(baseURL string) *HTTPPublisher {
	return &HTTPPublisher{
		url:    baseURL + "/api/sensors",
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Publish posts one reading
func (p *HTTPPublisher) Publish(ctx context.Context, r models.SensorReading) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post reading: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend rejected reading: %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	return nil
}

// Close implements Publisher
func (p *HTTPPublisher) Close() error { return nil }

// SensorSimulator emulates one field device
type SensorSimulator struct {
	publisher Publisher
	deviceID  string
	frequency time.Duration
	faultRate float64
	rng       *rand.Rand
	prev      *models.SensorReading
	log       logrus.FieldLogger
}

// NewSensorSimulator creates a new sensor simulator instance
func NewSensorSimulator(publisher Publisher, deviceID string, frequency time.Duration, faultRate float64, log logrus.FieldLogger) *SensorSimulator {
	return &SensorSimulator{
		publisher: publisher,
		deviceID:  deviceID,
		frequency: frequency,
		faultRate: faultRate,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		log:       log.WithField("device_id", deviceID),
	}
}

// next produces the following reading, occasionally injecting a fault that
// should trip the backend's alerts
func (s *SensorSimulator) next(now time.Time) models.SensorReading {
	r := services.Generate(s.deviceID, s.prev, now, s.rng)

	if s.rng.Float64() < s.faultRate {
		switch s.rng.Intn(2) {
		case 0: // tank leak
			r.WaterTankLevel = float64(s.rng.Intn(15))
		case 1: // battery failing
			r.BatteryLevel = float64(s.rng.Intn(15))
		}
		s.log.WithFields(logrus.Fields{
			"water_tank": r.WaterTankLevel,
			"battery":    r.BatteryLevel,
		}).Info("injected fault")
	}

	s.prev = &r
	return r
}

// Run publishes a reading every frequency until ctx is cancelled
func (s *SensorSimulator) Run(ctx context.Context) {
	s.log.WithField("frequency", s.frequency).Info("starting sensor simulator")

	ticker := time.NewTicker(s.frequency)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r := s.next(time.Now())
			if err := s.publisher.Publish(ctx, r); err != nil {
				s.log.WithError(err).Error("error publishing reading")
				continue
			}
			s.log.WithFields(logrus.Fields{
				"soil_moisture": r.SoilMoisture,
				"water_tank":    r.WaterTankLevel,
			}).Debug("reading delivered")
		case <-ctx.Done():
			s.log.Info("shutting down sensor simulator")
			if err := s.publisher.Close(); err != nil {
				s.log.WithError(err).Warn("failed to close publisher")
			}
			return
		}
	}
}
