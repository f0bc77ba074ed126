package domain

import "time"

// Phase is the position of a session inside the dose window.
type Phase string

const (
	// PhaseNoDose1 indicates no first dose has been recorded yet.
	PhaseNoDose1 Phase = "no_dose1"

	// PhaseBeforeWindow indicates dose 1 was taken but the minimum interval
	// has not yet elapsed.
	PhaseBeforeWindow Phase = "before_window"

	// PhaseActive indicates the window is open for dose 2.
	PhaseActive Phase = "active"

	// PhaseNearClose indicates the window closes within the near-close
	// threshold.
	PhaseNearClose Phase = "near_close"

	// PhaseClosed indicates the window elapsed with no dose 2 and no skip.
	PhaseClosed Phase = "closed"

	// PhaseCompleted indicates dose 2 was taken or explicitly skipped.
	// Completion always overrides window-closed status.
	PhaseCompleted Phase = "completed"

	// PhaseExpired indicates sleep-through auto-expiry closed the session.
	PhaseExpired Phase = "expired"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Terminal reports whether the phase can no longer change with elapsed time.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseExpired
}

// WindowRules holds the timing constants of the dose window.
type WindowRules struct {
	// MinIntervalMinutes is the elapsed time after dose 1 at which the
	// window opens.
	MinIntervalMinutes int

	// MaxIntervalMinutes is the elapsed time at which the window closes,
	// before snooze extensions.
	MaxIntervalMinutes int

	// SnoozeExtensionMinutes is added to the effective maximum per snooze.
	SnoozeExtensionMinutes int

	// MaxSnoozes caps the number of snooze extensions.
	MaxSnoozes int

	// NearCloseThresholdMinutes is the remaining time below which the
	// window reports near_close and snoozing is refused.
	NearCloseThresholdMinutes int
}

// DefaultWindowRules returns the stock two-dose timing constants.
func DefaultWindowRules() WindowRules {
	return WindowRules{
		MinIntervalMinutes:        150,
		MaxIntervalMinutes:        240,
		SnoozeExtensionMinutes:    10,
		MaxSnoozes:                3,
		NearCloseThresholdMinutes: 15,
	}
}

// EffectiveMaxMinutes is the window maximum extended by recorded snoozes,
// capped at MaxSnoozes extensions.
func (r WindowRules) EffectiveMaxMinutes(snoozeCount int) int {
	if snoozeCount > r.MaxSnoozes {
		snoozeCount = r.MaxSnoozes
	}
	if snoozeCount < 0 {
		snoozeCount = 0
	}
	return r.MaxIntervalMinutes + snoozeCount*r.SnoozeExtensionMinutes
}

// WindowInput is the slice of session state the phase calculation reads.
type WindowInput struct {
	Dose1Time    *time.Time
	Dose2Time    *time.Time
	Dose2Skipped bool
	SnoozeCount  int

	// SleptThrough marks a session closed by sleep-through auto-expiry;
	// it maps to PhaseExpired rather than PhaseCompleted.
	SleptThrough bool
}

// WindowContext is the computed dose-window projection. It is recomputed on
// every read and never persisted.
type WindowContext struct {
	Phase            Phase
	ElapsedMinutes   int
	RemainingMinutes int
	SnoozeCount      int
}

// ComputeWindow derives the dose-window phase from session state at now.
// All comparisons use whole minutes truncated from second-resolution
// elapsed time. The function is total: it never fails for any input.
func ComputeWindow(in WindowInput, rules WindowRules, now time.Time) WindowContext {
	ctx := WindowContext{Phase: PhaseNoDose1, SnoozeCount: in.SnoozeCount}
	if in.Dose1Time == nil {
		if in.SleptThrough {
			ctx.Phase = PhaseExpired
		} else if in.Dose2Skipped {
			ctx.Phase = PhaseCompleted
		}
		return ctx
	}

	elapsed := int(now.Sub(*in.Dose1Time) / time.Minute)
	effectiveMax := rules.EffectiveMaxMinutes(in.SnoozeCount)
	remaining := effectiveMax - elapsed
	if remaining < 0 {
		remaining = 0
	}
	ctx.ElapsedMinutes = elapsed
	ctx.RemainingMinutes = remaining

	switch {
	case in.SleptThrough:
		ctx.Phase = PhaseExpired
	case in.Dose2Time != nil || in.Dose2Skipped:
		// Completion overrides window-closed status.
		ctx.Phase = PhaseCompleted
	case elapsed >= effectiveMax:
		ctx.Phase = PhaseClosed
	case elapsed < rules.MinIntervalMinutes:
		ctx.Phase = PhaseBeforeWindow
	case remaining <= rules.NearCloseThresholdMinutes:
		ctx.Phase = PhaseNearClose
	default:
		ctx.Phase = PhaseActive
	}
	return ctx
}

// CanSnooze reports whether a snooze is permitted at now. Snoozing is
// refused once remaining time drops inside the near-close threshold, once
// the snooze cap is reached, and in any terminal or closed phase.
func CanSnooze(in WindowInput, rules WindowRules, now time.Time) bool {
	if in.SnoozeCount >= rules.MaxSnoozes {
		return false
	}
	return ComputeWindow(in, rules, now).Phase == PhaseActive
}
