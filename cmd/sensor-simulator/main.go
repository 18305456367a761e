package main

import (
	"context"
	"os/signal"
	"syscall"

	"agranova/config"
	"agranova/logger"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	cfg, err := config.LoadSimulator()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel})
	if err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	if envErr != nil {
		log.Debug("No .env file found, using environment variables")
	}

	log.WithFields(logrus.Fields{
		"mode":      cfg.Mode,
		"device_id": cfg.DeviceID,
		"frequency": cfg.Frequency,
	}).Info("sensor simulator configured")

	var publisher Publisher
	switch cfg.Mode {
	case "http":
		publisher = NewHTTPPublisher(cfg.BackendURL)
	default:
		publisher, err = NewKafkaPublisher(cfg.Brokers, cfg.Topic, cfg.DeviceID)
		if err != nil {
			log.Fatalf("Failed to create Kafka producer: %v", err)
		}
	}

	simulator := NewSensorSimulator(publisher, cfg.DeviceID, cfg.Frequency, cfg.FaultRate, log)

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	simulator.Run(ctx)
}
