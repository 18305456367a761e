package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agranova/models"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS sensor_data (
	id                 TEXT PRIMARY KEY,
	device_id          TEXT NOT NULL,
	soil_moisture      DOUBLE PRECISION NOT NULL,
	temperature        DOUBLE PRECISION NOT NULL,
	humidity           DOUBLE PRECISION NOT NULL,
	water_tank_level   DOUBLE PRECISION NOT NULL,
	pump_status        TEXT NOT NULL,
	solar_panel_status TEXT NOT NULL,
	solar_panel_angle  DOUBLE PRECISION NOT NULL,
	battery_level      DOUBLE PRECISION NOT NULL,
	timestamp          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sensor_data_device_ts ON sensor_data (device_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id        TEXT PRIMARY KEY,
	device_id TEXT NOT NULL,
	type      TEXT NOT NULL,
	severity  TEXT NOT NULL,
	message   TEXT NOT NULL,
	is_read   BOOLEAN NOT NULL DEFAULT false,
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts (timestamp DESC);

CREATE TABLE IF NOT EXISTS irrigation_config (
	id                 TEXT PRIMARY KEY,
	mode               TEXT NOT NULL,
	moisture_threshold DOUBLE PRECISION NOT NULL,
	manual_timer       INTEGER NOT NULL,
	is_active          BOOLEAN NOT NULL,
	last_updated       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS system_logs (
	id        TEXT PRIMARY KEY,
	system_id TEXT NOT NULL,
	log_type  TEXT NOT NULL,
	action    TEXT NOT NULL,
	message   TEXT NOT NULL,
	principal TEXT NOT NULL DEFAULT '',
	data      JSONB,
	timestamp TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_system_logs_system_ts ON system_logs (system_id, timestamp DESC);
`

const readingColumns = `id, device_id, soil_moisture, temperature, humidity, water_tank_level,
	pump_status, solar_panel_status, solar_panel_angle, battery_level, timestamp`

const alertColumns = `id, device_id, type, severity, message, is_read, timestamp`

// PostgresStore implements Store on PostgreSQL through lib/pq
type PostgresStore struct {
	*sql.DB
}

// NewPostgresStore opens the connection, pings it and creates the schema
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStore{db}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row rowScanner) (models.SensorReading, error) {
	var r models.SensorReading
	err := row.Scan(&r.ID, &r.DeviceID, &r.SoilMoisture, &r.Temperature, &r.Humidity,
		&r.WaterTankLevel, &r.PumpStatus, &r.SolarPanelStatus, &r.SolarPanelAngle,
		&r.BatteryLevel, &r.Timestamp)
	return r, err
}

func scanAlert(row rowScanner) (models.Alert, error) {
	var a models.Alert
	err := row.Scan(&a.ID, &a.DeviceID, &a.Type, &a.Severity, &a.Message, &a.IsRead, &a.Timestamp)
	return a, err
}

func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func (db *PostgresStore) InsertReading(ctx context.Context, r *models.SensorReading) error {
	ensureID(&r.ID)
	query := `INSERT INTO sensor_data (` + readingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := db.ExecContext(ctx, query, r.ID, r.DeviceID, r.SoilMoisture, r.Temperature,
		r.Humidity, r.WaterTankLevel, r.PumpStatus, r.SolarPanelStatus, r.SolarPanelAngle,
		r.BatteryLevel, r.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

func (db *PostgresStore) LatestReading(ctx context.Context, deviceID string) (*models.SensorReading, error) {
	query := `SELECT ` + readingColumns + ` FROM sensor_data
		WHERE device_id = $1 ORDER BY timestamp DESC LIMIT 1`

	r, err := scanReading(db.QueryRowContext(ctx, query, deviceID))
	if err != nil {
		return nil, noRows(err)
	}
	return &r, nil
}

func (db *PostgresStore) ReadingsSince(ctx context.Context, deviceID string, since time.Time) ([]models.SensorReading, error) {
	query := `SELECT ` + readingColumns + ` FROM sensor_data
		WHERE ($1 = '' OR device_id = $1) AND timestamp >= $2
		ORDER BY timestamp ASC`

	rows, err := db.QueryContext(ctx, query, deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := make([]models.SensorReading, 0)
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

func (db *PostgresStore) TrimReadings(ctx context.Context, deviceID string, max int) (int64, error) {
	if max <= 0 {
		return 0, nil
	}
	query := `DELETE FROM sensor_data WHERE id IN (
		SELECT id FROM sensor_data WHERE device_id = $1
		ORDER BY timestamp DESC OFFSET $2)`

	res, err := db.ExecContext(ctx, query, deviceID, max)
	if err != nil {
		return 0, fmt.Errorf("failed to trim readings: %w", err)
	}
	return res.RowsAffected()
}

func (db *PostgresStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	ensureID(&a.ID)
	query := `INSERT INTO alerts (` + alertColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := db.ExecContext(ctx, query, a.ID, a.DeviceID, a.Type, a.Severity, a.Message, a.IsRead, a.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

func (db *PostgresStore) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts ORDER BY timestamp DESC LIMIT $1`
	if limit <= 0 {
		limit = 1000
	}

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (db *PostgresStore) MarkAlertRead(ctx context.Context, id string) (*models.Alert, error) {
	query := `UPDATE alerts SET is_read = true WHERE id = $1 RETURNING ` + alertColumns

	a, err := scanAlert(db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, noRows(err)
	}
	return &a, nil
}

func (db *PostgresStore) MarkAllAlertsRead(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE alerts SET is_read = true WHERE is_read = false`)
	if err != nil {
		return 0, fmt.Errorf("failed to mark alerts read: %w", err)
	}
	return res.RowsAffected()
}

func (db *PostgresStore) DeleteAlert(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM alerts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (db *PostgresStore) GetIrrigationConfig(ctx context.Context) (*models.IrrigationConfig, error) {
	def := models.DefaultIrrigationConfig(time.Now())
	_, err := db.ExecContext(ctx, `
		INSERT INTO irrigation_config (id, mode, moisture_threshold, manual_timer, is_active, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`,
		def.ID, def.Mode, def.MoistureThreshold, def.ManualTimer, def.IsActive, def.LastUpdated)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure irrigation config: %w", err)
	}

	var cfg models.IrrigationConfig
	err = db.QueryRowContext(ctx, `
		SELECT id, mode, moisture_threshold, manual_timer, is_active, last_updated
		FROM irrigation_config WHERE id = $1`, models.IrrigationConfigID).Scan(
		&cfg.ID, &cfg.Mode, &cfg.MoistureThreshold, &cfg.ManualTimer, &cfg.IsActive, &cfg.LastUpdated)
	if err != nil {
		return nil, noRows(err)
	}
	return &cfg, nil
}

func (db *PostgresStore) SaveIrrigationConfig(ctx context.Context, cfg *models.IrrigationConfig) error {
	cfg.ID = models.IrrigationConfigID
	_, err := db.ExecContext(ctx, `
		INSERT INTO irrigation_config (id, mode, moisture_threshold, manual_timer, is_active, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			mode = EXCLUDED.mode,
			moisture_threshold = EXCLUDED.moisture_threshold,
			manual_timer = EXCLUDED.manual_timer,
			is_active = EXCLUDED.is_active,
			last_updated = EXCLUDED.last_updated`,
		cfg.ID, cfg.Mode, cfg.MoistureThreshold, cfg.ManualTimer, cfg.IsActive, cfg.LastUpdated)
	if err != nil {
		return fmt.Errorf("failed to save irrigation config: %w", err)
	}
	return nil
}

func (db *PostgresStore) InsertLog(ctx context.Context, l *models.SystemLog) error {
	ensureID(&l.ID)
	dataJSON, err := json.Marshal(l.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal log data: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO system_logs (id, system_id, log_type, action, message, principal, data, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.SystemID, l.LogType, l.Action, l.Message, l.Principal, dataJSON, l.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert log: %w", err)
	}
	return nil
}

func (db *PostgresStore) ListLogs(ctx context.Context, systemID string, limit int) ([]models.SystemLog, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, system_id, log_type, action, message, principal, data, timestamp
		FROM system_logs
		WHERE ($1 = '' OR system_id = $1)
		ORDER BY timestamp DESC
		LIMIT $2`, systemID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	logs := make([]models.SystemLog, 0)
	for rows.Next() {
		var l models.SystemLog
		var dataBytes []byte
		if err := rows.Scan(&l.ID, &l.SystemID, &l.LogType, &l.Action, &l.Message,
			&l.Principal, &dataBytes, &l.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		if len(dataBytes) > 0 {
			if err := json.Unmarshal(dataBytes, &l.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log data: %w", err)
			}
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (db *PostgresStore) TrimLogs(ctx context.Context, systemID string, max int) (int64, error) {
	if max <= 0 {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `DELETE FROM system_logs WHERE id IN (
		SELECT id FROM system_logs WHERE system_id = $1
		ORDER BY timestamp DESC OFFSET $2)`, systemID, max)
	if err != nil {
		return 0, fmt.Errorf("failed to trim logs: %w", err)
	}
	return res.RowsAffected()
}

func (db *PostgresStore) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *PostgresStore) Type() string { return "postgres" }

func (db *PostgresStore) Close() error {
	return db.DB.Close()
}
