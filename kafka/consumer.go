package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"agranova/config"
	"agranova/models"
	"agranova/services"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// Ingester stores a reading received from a device
type Ingester interface {
	Ingest(ctx context.Context, r models.SensorReading, source string) (*models.SensorReading, []models.Alert, error)
}

// Consumer feeds device readings from Kafka topics into the ingestion pipeline
type Consumer struct {
	group    sarama.ConsumerGroup
	topics   []string
	handler  *groupHandler
	log      logrus.FieldLogger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer creates a consumer group member for the configured topics
func NewConsumer(cfg config.KafkaConfig, ingester Ingester, defaultDevice string, log logrus.FieldLogger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = true
	sc.Consumer.Offsets.AutoCommit.Interval = time.Second
	sc.Consumer.Group.Session.Timeout = 30 * time.Second
	sc.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	sc.Consumer.MaxWaitTime = 500 * time.Millisecond
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.AutoOffset == "earliest" {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	log = log.WithFields(logrus.Fields{"component": "kafka", "group": cfg.GroupID})
	return &Consumer{
		group:  group,
		topics: cfg.Topics,
		handler: &groupHandler{
			ingester:      ingester,
			defaultDevice: defaultDevice,
			log:           log,
		},
		log: log,
	}, nil
}

// Start begins consuming messages until Stop or ctx cancellation
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.log.WithField("topics", c.topics).Info("starting Kafka consumer")

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			// Consume returns on every rebalance and must be called again
			if err := c.group.Consume(ctx, c.topics, c.handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.log.WithError(err).Error("consumer group session failed")
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.log.WithError(err).Warn("kafka consumer error")
		}
	}()
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.log.Info("stopping Kafka consumer")
		if c.cancel != nil {
			c.cancel()
		}
		err = c.group.Close()
		c.wg.Wait()
	})
	return err
}

// groupHandler implements sarama.ConsumerGroupHandler
type groupHandler struct {
	ingester      Ingester
	defaultDevice string
	log           logrus.FieldLogger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			h.processMessage(session.Context(), msg)
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// processMessage decodes and ingests one message. Bad messages are logged
// and skipped so they cannot block the partition.
func (h *groupHandler) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) {
	log := h.log.WithFields(logrus.Fields{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	reading, err := decodeReading(msg.Value, string(msg.Key), h.defaultDevice, msg.Timestamp)
	if err != nil {
		log.WithError(err).Warn("dropping invalid device message")
		return
	}

	stored, alerts, err := h.ingester.Ingest(ctx, reading, services.SourceKafka)
	if err != nil {
		log.WithError(err).WithField("device_id", reading.DeviceID).Error("failed to ingest device reading")
		return
	}
	log.WithFields(logrus.Fields{
		"device_id": stored.DeviceID,
		"alerts":    len(alerts),
	}).Debug("device reading ingested")
}

// decodeReading parses a JSON reading. The message key names the device when
// the payload does not; the broker timestamp is used when the payload has none.
func decodeReading(value []byte, key, defaultDevice string, brokerTime time.Time) (models.SensorReading, error) {
	var in models.ReadingInput
	if err := json.Unmarshal(value, &in); err != nil {
		return models.SensorReading{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	if in.DeviceID == "" {
		in.DeviceID = key
	}
	now := brokerTime
	if now.IsZero() {
		now = time.Now()
	}
	return in.ToReading(defaultDevice, now)
}
