package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Kafka      KafkaConfig
	MQTT       MQTTConfig
	Influx     InfluxConfig
	Simulation SimulationConfig
	Irrigation IrrigationConfig
	Auth       AuthConfig
	Log        LogConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string
	AllowOrigins []string
}

// DatabaseConfig holds persistence backend configuration
type DatabaseConfig struct {
	Type             string // mongo, postgres or memory
	MongoURI         string
	MongoDatabase    string
	PostgresHost     string
	PostgresPort     int
	PostgresName     string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
	ConnectTimeout   time.Duration
	ConnectRetries   int
	OpTimeout        time.Duration
	LogRetention     int
	ReadingRetention int
	BreakerFailures  int
	BreakerOpenFor   time.Duration
}

// KafkaConfig holds Kafka connection configuration for device ingest
type KafkaConfig struct {
	Enabled    bool
	Brokers    []string
	GroupID    string
	Topics     []string
	AutoOffset string
}

// MQTTConfig holds the pump actuator broker configuration
type MQTTConfig struct {
	Broker      string
	ClientID    string
	User        string
	Password    string
	TopicPrefix string
}

// InfluxConfig holds the time-series mirror configuration
type InfluxConfig struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// SimulationConfig controls the built-in reading generator
type SimulationConfig struct {
	Enabled  bool
	Interval time.Duration
	DeviceID string
}

// IrrigationConfig controls pump command behavior
type IrrigationConfig struct {
	AutoOffCancelOnManual bool
	AutomationEnabled     bool
	AutomationInterval    time.Duration
	AutomationRunMinutes  int
}

// AuthConfig holds the static bearer tokens accepted by command endpoints
type AuthConfig struct {
	Tokens map[string]string // token -> user id
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string
	Directory  string
	MaxAgeDays int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	pgPort, err := strconv.Atoi(getEnvOrDefault("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %v", err)
	}

	dbType := strings.ToLower(getEnvOrDefault("DB_TYPE", "mongo"))
	logRetention := 1000
	readingRetention := 0
	if dbType == "memory" {
		logRetention = 100
		readingRetention = 10000
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvOrDefault("SERVER_PORT", "5000"),
			AllowOrigins: splitList(getEnvOrDefault("FRONTEND_URL", "http://localhost:3000")),
		},
		Database: DatabaseConfig{
			Type:             dbType,
			MongoURI:         getEnvOrDefault("MONGODB_URI", "mongodb://localhost:27017"),
			MongoDatabase:    getEnvOrDefault("MONGODB_DATABASE", "agranova"),
			PostgresHost:     getEnvOrDefault("DB_HOST", "localhost"),
			PostgresPort:     pgPort,
			PostgresName:     getEnvOrDefault("DB_NAME", "agranova"),
			PostgresUser:     getEnvOrDefault("DB_USER", "agranova"),
			PostgresPassword: getEnvOrDefault("DB_PASSWORD", "agranova"),
			PostgresSSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
			ConnectTimeout:   getEnvDuration("DB_CONNECT_TIMEOUT", 3*time.Second),
			ConnectRetries:   getEnvInt("DB_CONNECT_RETRIES", 3),
			OpTimeout:        getEnvDuration("STORE_TIMEOUT", 5*time.Second),
			LogRetention:     getEnvInt("LOG_RETENTION", logRetention),
			ReadingRetention: getEnvInt("READING_RETENTION", readingRetention),
			BreakerFailures:  getEnvInt("STORE_BREAKER_FAILURES", 5),
			BreakerOpenFor:   getEnvDuration("STORE_BREAKER_OPEN_FOR", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:    getEnvBool("KAFKA_ENABLED", false),
			Brokers:    splitList(getEnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
			GroupID:    getEnvOrDefault("KAFKA_GROUP_ID", "agranova-backend"),
			Topics:     splitList(getEnvOrDefault("KAFKA_TOPIC", "irrigation.sensor")),
			AutoOffset: getEnvOrDefault("KAFKA_AUTO_OFFSET", "latest"),
		},
		MQTT: MQTTConfig{
			Broker:      os.Getenv("MQTT_BROKER"),
			ClientID:    getEnvOrDefault("MQTT_CLIENT_ID", "agranova-backend"),
			User:        os.Getenv("MQTT_USER"),
			Password:    os.Getenv("MQTT_PASSWORD"),
			TopicPrefix: getEnvOrDefault("MQTT_TOPIC_PREFIX", "irrigation"),
		},
		Influx: InfluxConfig{
			URL:         os.Getenv("INFLUXDB_URL"),
			Token:       os.Getenv("INFLUXDB_TOKEN"),
			Org:         getEnvOrDefault("INFLUXDB_ORG", "agranova"),
			Bucket:      getEnvOrDefault("INFLUXDB_BUCKET", "sensors"),
			Measurement: getEnvOrDefault("INFLUXDB_MEASUREMENT", "sensor_reading"),
		},
		Simulation: SimulationConfig{
			Enabled:  getEnvBool("SIMULATION_ENABLED", true),
			Interval: getEnvDuration("SIMULATION_INTERVAL", 10*time.Second),
			DeviceID: getEnvOrDefault("SYSTEM_ID", "default"),
		},
		Irrigation: IrrigationConfig{
			AutoOffCancelOnManual: getEnvBool("AUTO_OFF_CANCEL_ON_MANUAL", true),
			AutomationEnabled:     getEnvBool("AUTOMATION_ENABLED", false),
			AutomationInterval:    getEnvDuration("AUTOMATION_INTERVAL", 30*time.Second),
			AutomationRunMinutes:  getEnvInt("AUTOMATION_RUN_MINUTES", 10),
		},
		Auth: AuthConfig{
			Tokens: parseTokens(os.Getenv("AUTH_TOKENS")),
		},
		Log: LogConfig{
			Level:      getEnvOrDefault("LOG_LEVEL", "info"),
			Directory:  os.Getenv("LOG_DIRECTORY"),
			MaxAgeDays: getEnvInt("LOG_FILE_MAX_AGE", 2),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "mongo", "postgres", "memory":
	default:
		return fmt.Errorf("invalid DB_TYPE: %s (use 'mongo', 'postgres' or 'memory')", c.Database.Type)
	}

	if c.Simulation.Interval <= 0 {
		return fmt.Errorf("invalid SIMULATION_INTERVAL: %v (must be positive)", c.Simulation.Interval)
	}

	if c.Simulation.DeviceID == "" {
		return fmt.Errorf("SYSTEM_ID must not be empty")
	}

	if c.Database.LogRetention < 0 || c.Database.ReadingRetention < 0 {
		return fmt.Errorf("retention limits must not be negative")
	}

	if c.Irrigation.AutomationEnabled && c.Irrigation.AutomationInterval <= 0 {
		return fmt.Errorf("invalid AUTOMATION_INTERVAL: %v", c.Irrigation.AutomationInterval)
	}

	if c.Irrigation.AutomationRunMinutes <= 0 {
		return fmt.Errorf("invalid AUTOMATION_RUN_MINUTES: %d (must be positive)", c.Irrigation.AutomationRunMinutes)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}

	return nil
}

// GetPostgresURL returns formatted database connection URL
func (c *Config) GetPostgresURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Database.PostgresHost, c.Database.PostgresPort, c.Database.PostgresUser,
		c.Database.PostgresPassword, c.Database.PostgresName, c.Database.PostgresSSLMode,
		int(c.Database.ConnectTimeout.Seconds()))
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseTokens reads "token:user,token2:user2"
func parseTokens(value string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range splitList(value) {
		token, user, ok := strings.Cut(pair, ":")
		if !ok || token == "" {
			continue
		}
		tokens[token] = user
	}
	return tokens
}
