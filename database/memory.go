package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"agranova/models"
)

// MemoryStore keeps everything in process memory. Used for DB_TYPE=memory
// and as the demo-mode fallback when the durable backend is unreachable.
type MemoryStore struct {
	mu       sync.RWMutex
	readings []models.SensorReading
	alerts   []models.Alert
	logs     []models.SystemLog
	config   *models.IrrigationConfig
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

func (s *MemoryStore) InsertReading(ctx context.Context, r *models.SensorReading) error {
	ensureID(&r.ID)
	s.mu.Lock()
	s.readings = append(s.readings, *r)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) LatestReading(ctx context.Context, deviceID string) (*models.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := -1
	for i := len(s.readings) - 1; i >= 0; i-- {
		r := s.readings[i]
		if r.DeviceID != deviceID {
			continue
		}
		// equal timestamps resolve to the later insert
		if idx == -1 || r.Timestamp.After(s.readings[idx].Timestamp) {
			idx = i
		}
	}
	if idx == -1 {
		return nil, models.ErrNotFound
	}
	r := s.readings[idx]
	return &r, nil
}

func (s *MemoryStore) ReadingsSince(ctx context.Context, deviceID string, since time.Time) ([]models.SensorReading, error) {
	s.mu.RLock()
	out := make([]models.SensorReading, 0)
	for _, r := range s.readings {
		if deviceID != "" && r.DeviceID != deviceID {
			continue
		}
		if r.Timestamp.Before(since) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *MemoryStore) TrimReadings(ctx context.Context, deviceID string, max int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	s.readings, removed = trimPerKey(s.readings,
		func(r models.SensorReading) string { return r.DeviceID },
		func(r models.SensorReading) time.Time { return r.Timestamp },
		deviceID, max)
	return int64(removed), nil
}

func (s *MemoryStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	ensureID(&a.ID)
	s.mu.Lock()
	s.alerts = append(s.alerts, *a)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	s.mu.RLock()
	out := make([]models.Alert, len(s.alerts))
	copy(out, s.alerts)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkAlertRead(ctx context.Context, id string) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].IsRead = true
			a := s.alerts[i]
			return &a, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *MemoryStore) MarkAllAlertsRead(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.alerts {
		if !s.alerts[i].IsRead {
			s.alerts[i].IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteAlert(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *MemoryStore) GetIrrigationConfig(ctx context.Context) (*models.IrrigationConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		cfg := models.DefaultIrrigationConfig(s.now())
		s.config = &cfg
	}
	cfg := *s.config
	return &cfg, nil
}

func (s *MemoryStore) SaveIrrigationConfig(ctx context.Context, cfg *models.IrrigationConfig) error {
	cfg.ID = models.IrrigationConfigID
	stored := *cfg
	s.mu.Lock()
	s.config = &stored
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) InsertLog(ctx context.Context, l *models.SystemLog) error {
	ensureID(&l.ID)
	s.mu.Lock()
	s.logs = append(s.logs, *l)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListLogs(ctx context.Context, systemID string, limit int) ([]models.SystemLog, error) {
	s.mu.RLock()
	out := make([]models.SystemLog, 0)
	for i := len(s.logs) - 1; i >= 0; i-- {
		if systemID != "" && s.logs[i].SystemID != systemID {
			continue
		}
		out = append(out, s.logs[i])
	}
	s.mu.RUnlock()

	// newest first; equal timestamps keep the later insert ahead
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) TrimLogs(ctx context.Context, systemID string, max int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int
	s.logs, removed = trimPerKey(s.logs,
		func(l models.SystemLog) string { return l.SystemID },
		func(l models.SystemLog) time.Time { return l.Timestamp },
		systemID, max)
	return int64(removed), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Type() string { return "memory" }

func (s *MemoryStore) Close() error { return nil }
