package testutil

// LegacyEvent adds an event row the way pre-session-table versions wrote
// them: empty session key, no session link, only the timestamp and the
// timezone offset captured at write time.
func (b *Builder) LegacyEvent(eventType string, occurredAt int64, tzOffsetMinutes int) *Builder {
	return b.WithEvent(eventType, occurredAt, EventTZOffset(tzOffsetMinutes))
}

// CompletedNight adds a closed, fully dosed session in one call: dose 1 at
// the given instant, dose 2 three hours later, closed as completed the next
// morning.
func (b *Builder) CompletedNight(key string, dose1Unix int64, tzOffsetMinutes int) *Builder {
	const threeHours = 3 * 60 * 60
	const nextMorning = 12 * 60 * 60
	return b.WithSession(key,
		SessionDose1(dose1Unix, tzOffsetMinutes),
		SessionDose2(dose1Unix+threeHours),
		SessionClosed("completed", dose1Unix+nextMorning),
	).
		WithEvent("dose1", dose1Unix, EventSession(key), EventTZOffset(tzOffsetMinutes)).
		WithEvent("dose2", dose1Unix+threeHours, EventSession(key), EventTZOffset(tzOffsetMinutes))
}
