package domain

import "time"

// TimezoneDrift reports a divergence between the current UTC offset and the
// offset captured at dose 1. It is advisory only: elapsed-time math always
// uses absolute instants, never local wall-clock subtraction.
type TimezoneDrift struct {
	// DeltaMinutes is the signed difference in minutes, negative when the
	// clock moved west of the dose-1 offset.
	DeltaMinutes int

	// SourcesDisagree is set when two timezone sources reported different
	// offsets for the same instant. The primary source's offset wins; the
	// caller should surface the disagreement as a diagnostic.
	SourcesDisagree bool
}

// DetectTimezoneDrift compares the current UTC offset against the offset
// captured at dose 1. The primary location is authoritative; secondary, when
// non-nil, is an independent source cross-checked against it since system
// sources can disagree transiently. Returns nil when the delta is zero.
func DetectTimezoneDrift(now time.Time, primary, secondary *time.Location, dose1OffsetMinutes int) *TimezoneDrift {
	_, primarySec := now.In(primary).Zone()
	current := primarySec / 60

	disagree := false
	if secondary != nil {
		_, secondarySec := now.In(secondary).Zone()
		disagree = secondarySec/60 != current
	}

	delta := current - dose1OffsetMinutes
	if delta == 0 {
		return nil
	}
	return &TimezoneDrift{DeltaMinutes: delta, SourcesDisagree: disagree}
}
