package services

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type pendingAutoOff struct {
	timer clockwork.Timer
	at    time.Time
}

// AutoOffScheduler holds at most one pending pump shut-off per device.
// Timers live in memory only and are lost on restart.
type AutoOffScheduler struct {
	clock clockwork.Clock
	fire  func(deviceID string)

	mu      sync.Mutex
	pending map[string]*pendingAutoOff
	stopped bool
}

// NewAutoOffScheduler creates a scheduler calling fire when a timer expires
func NewAutoOffScheduler(clock clockwork.Clock, fire func(deviceID string)) *AutoOffScheduler {
	return &AutoOffScheduler{
		clock:   clock,
		fire:    fire,
		pending: make(map[string]*pendingAutoOff),
	}
}

// Schedule arms a shut-off for the device after d, replacing any pending one.
// It returns the fire time.
func (s *AutoOffScheduler) Schedule(deviceID string, d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.clock.Now().Add(d)
	if s.stopped {
		return at
	}
	if old, ok := s.pending[deviceID]; ok {
		old.timer.Stop()
	}

	entry := &pendingAutoOff{at: at}
	entry.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		// a replaced or cancelled entry must not fire
		if s.pending[deviceID] != entry {
			s.mu.Unlock()
			return
		}
		delete(s.pending, deviceID)
		s.mu.Unlock()

		s.fire(deviceID)
	})
	s.pending[deviceID] = entry
	return at
}

// Cancel drops the pending shut-off of the device, reporting whether one existed
func (s *AutoOffScheduler) Cancel(deviceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[deviceID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.pending, deviceID)
	return true
}

// Pending returns the fire time of the device's shut-off, if any
func (s *AutoOffScheduler) Pending(deviceID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[deviceID]
	if !ok {
		return time.Time{}, false
	}
	return entry.at, true
}

// Stop cancels every pending shut-off; later Schedule calls are ignored
func (s *AutoOffScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.pending {
		entry.timer.Stop()
		delete(s.pending, id)
	}
	s.stopped = true
}
