package database

import (
	"context"
	"sort"
	"time"

	"agranova/models"

	"github.com/google/uuid"
)

// Store is the persistence contract shared by every backend.
// Missing entities are reported as models.ErrNotFound.
type Store interface {
	// InsertReading persists a reading, assigning an ID when empty
	InsertReading(ctx context.Context, r *models.SensorReading) error
	// LatestReading returns the newest reading for the device
	LatestReading(ctx context.Context, deviceID string) (*models.SensorReading, error)
	// ReadingsSince returns readings at or after since, oldest first.
	// An empty deviceID matches every device.
	ReadingsSince(ctx context.Context, deviceID string, since time.Time) ([]models.SensorReading, error)
	// TrimReadings keeps the newest max readings of the device
	TrimReadings(ctx context.Context, deviceID string, max int) (int64, error)

	InsertAlert(ctx context.Context, a *models.Alert) error
	// ListAlerts returns up to limit alerts, newest first
	ListAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	MarkAlertRead(ctx context.Context, id string) (*models.Alert, error)
	MarkAllAlertsRead(ctx context.Context) (int64, error)
	DeleteAlert(ctx context.Context, id string) error

	// GetIrrigationConfig returns the singleton, creating the default on first access
	GetIrrigationConfig(ctx context.Context) (*models.IrrigationConfig, error)
	SaveIrrigationConfig(ctx context.Context, cfg *models.IrrigationConfig) error

	InsertLog(ctx context.Context, l *models.SystemLog) error
	// ListLogs returns up to limit logs of the system, newest first
	ListLogs(ctx context.Context, systemID string, limit int) ([]models.SystemLog, error)
	TrimLogs(ctx context.Context, systemID string, max int) (int64, error)

	Ping(ctx context.Context) error
	Type() string
	Close() error
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// trimPerKey keeps the max most recent items whose key matches, ordered by
// timestamp with ties going to the later insert. Other keys are untouched.
func trimPerKey[T any](items []T, keyFn func(T) string, timeFn func(T) time.Time, key string, max int) ([]T, int) {
	if max <= 0 {
		return items, 0
	}

	var idx []int
	for i := len(items) - 1; i >= 0; i-- {
		if keyFn(items[i]) == key {
			idx = append(idx, i)
		}
	}
	if len(idx) <= max {
		return items, 0
	}

	// idx runs newest insert first, so the stable sort keeps later inserts ahead on ties
	sort.SliceStable(idx, func(a, b int) bool {
		return timeFn(items[idx[a]]).After(timeFn(items[idx[b]]))
	})

	drop := make(map[int]bool, len(idx)-max)
	for _, i := range idx[max:] {
		drop[i] = true
	}

	kept := make([]T, 0, len(items)-len(drop))
	for i, item := range items {
		if !drop[i] {
			kept = append(kept, item)
		}
	}
	return kept, len(drop)
}
