package tracing

// Span attribute keys for engine tracing. These constants define the
// semantic conventions for span attributes across mutations.
const (
	// Session attributes
	AttrSessionKey    = "session.key"
	AttrSessionID     = "session.id"
	AttrTerminalState = "session.terminal_state"

	// Event attributes
	AttrEventType = "event.type"
	AttrEventGUID = "event.guid"

	// Window attributes
	AttrPhase            = "window.phase"
	AttrElapsedMinutes   = "window.elapsed_minutes"
	AttrRemainingMinutes = "window.remaining_minutes"
	AttrSnoozeCount      = "window.snooze_count"

	// Timezone attributes
	AttrTZDriftMinutes = "tz.drift_minutes"

	// Error attributes
	AttrErrorMessage = "error.message"
)

// Span name prefixes for consistent naming.
const (
	SpanPrefixEngine = "engine."
	SpanPrefixRepo   = "repo."
)
