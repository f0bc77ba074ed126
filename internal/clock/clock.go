// Package clock provides injectable time and timezone sources so that
// session-key math is identical in production and tests.
package clock

import "time"

// Clock supplies the current instant and the timezone used for local
// wall-clock calculations. Implementations must be safe for concurrent use.
type Clock interface {
	// Now returns the current instant.
	Now() time.Time

	// Location returns the timezone used for session-key and schedule math.
	Location() *time.Location
}

// System reads the ambient OS clock and timezone.
type System struct{}

// NewSystem returns a Clock backed by the OS.
func NewSystem() System {
	return System{}
}

// Now returns time.Now.
func (System) Now() time.Time {
	return time.Now()
}

// Location returns the process-local timezone.
func (System) Location() *time.Location {
	return time.Local
}

// OffsetMinutes returns the UTC offset, in minutes, of t interpreted in loc.
func OffsetMinutes(t time.Time, loc *time.Location) int {
	_, offsetSec := t.In(loc).Zone()
	return offsetSec / 60
}
