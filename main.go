package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agranova/actuator"
	"agranova/config"
	"agranova/database"
	"agranova/handlers"
	"agranova/kafka"
	"agranova/logger"
	"agranova/metrics"
	"agranova/services"
	"agranova/timeseries"
	"agranova/websocket"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Directory:  cfg.Log.Directory,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	if envErr != nil {
		log.Debug("No .env file found, using environment variables")
	}

	log.WithField("port", cfg.Server.Port).Info("starting Agranova irrigation backend")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	clock := clockwork.NewRealClock()

	// Initialize persistence; falls back to in-memory demo mode
	store := database.Open(ctx, cfg, log, m)
	defer store.Close()

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(cfg.Server.AllowOrigins, log, m)
	hubDone := make(chan struct{})
	go func() {
		wsHub.Run(ctx)
		close(hubDone)
	}()

	pipeline := services.NewPipeline(store, services.NewAlertEvaluator(), wsHub, clock, log, m)

	var influx *timeseries.InfluxSink
	if cfg.Influx.URL != "" {
		influx, err = timeseries.NewInfluxSink(cfg.Influx)
		if err != nil {
			log.WithError(err).Warn("InfluxDB mirror disabled")
		} else {
			pipeline.AddSink(influx)
			log.WithField("bucket", cfg.Influx.Bucket).Info("mirroring readings to InfluxDB")
		}
	}

	var pumpActuator services.PumpActuator
	var mqttActuator *actuator.MQTTActuator
	if cfg.MQTT.Broker != "" {
		mqttActuator, err = actuator.Connect(ctx, cfg.MQTT, log)
		if err != nil {
			log.WithError(err).Warn("MQTT pump actuator disabled")
		} else {
			pumpActuator = mqttActuator
		}
	}

	controller := services.NewIrrigationController(store, pipeline, wsHub, pumpActuator, clock, services.ControllerOptions{
		DefaultDevice:         cfg.Simulation.DeviceID,
		AutoOffCancelOnManual: cfg.Irrigation.AutoOffCancelOnManual,
	}, log, m)

	generator := services.NewGenerator(cfg.Simulation.DeviceID, cfg.Simulation.Interval, pipeline, wsHub, clock, log, m)
	if cfg.Simulation.Enabled {
		generator.Start(ctx)
	}

	automation := services.NewAutomation(controller, store, clock, cfg.Simulation.DeviceID,
		cfg.Irrigation.AutomationInterval, cfg.Irrigation.AutomationRunMinutes, log)
	if cfg.Irrigation.AutomationEnabled {
		automation.Start(ctx)
	}

	// Initialize Kafka consumer for field devices
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = kafka.NewConsumer(cfg.Kafka, pipeline, cfg.Simulation.DeviceID, log)
		if err != nil {
			log.WithError(err).Error("Kafka ingest disabled")
		} else {
			consumer.Start(ctx)
		}
	}

	// Initialize HTTP handlers
	handler := handlers.New(handlers.Deps{
		Context:       ctx,
		Store:         store,
		Hub:           wsHub,
		Pipeline:      pipeline,
		Controller:    controller,
		Generator:     generator,
		Clock:         clock,
		DefaultDevice: cfg.Simulation.DeviceID,
		Log:           log,
	})

	if log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	auth := handlers.NewStaticTokenAuthenticator(cfg.Auth.Tokens)
	if len(cfg.Auth.Tokens) == 0 {
		log.Warn("no AUTH_TOKENS configured, command endpoints run in demo mode")
	}

	router := handlers.NewRouter(handler, handlers.RouterOptions{
		AllowOrigins: cfg.Server.AllowOrigins,
		Auth:         auth,
		Metrics:      m.Handler(),
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.WithField("port", cfg.Server.Port).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	generator.Stop()
	automation.Stop()
	controller.Stop()
	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			log.WithError(err).Warn("kafka consumer close failed")
		}
	}
	if mqttActuator != nil {
		mqttActuator.Close()
	}
	if influx != nil {
		if err := influx.Close(shutdownCtx); err != nil {
			log.WithError(err).Warn("InfluxDB flush failed")
		}
	}

	stop()
	<-hubDone

	log.Info("server stopped")
}
