package clock

import (
	"sync"
	"time"
)

// Manual is a hand-driven Clock for tests. The current instant and the
// reported timezone are set explicitly and never advance on their own.
type Manual struct {
	mu  sync.Mutex
	now time.Time
	loc *time.Location
}

// NewManual creates a Manual clock frozen at now, reporting loc.
func NewManual(now time.Time, loc *time.Location) *Manual {
	if loc == nil {
		loc = time.UTC
	}
	return &Manual{now: now, loc: loc}
}

// Now returns the frozen instant.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Location returns the configured timezone.
func (m *Manual) Location() *time.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loc
}

// Set moves the clock to a specific instant.
func (m *Manual) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// SetLocation changes the reported timezone, simulating travel or a
// system timezone-change notification.
func (m *Manual) SetLocation(loc *time.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loc = loc
}
