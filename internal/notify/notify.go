// Package notify abstracts reminder delivery. The engine schedules and
// cancels reminders through the Scheduler interface; the default
// implementation only logs, since actual delivery is platform-specific.
package notify

import (
	"time"

	"github.com/dosetap/dosetap/internal/log"
)

// Reminder identifiers. Every identifier this program has ever scheduled
// stays in this list so cancellation also clears reminders left behind by
// older versions.
const (
	IDDose2Window    = "dose2-window"
	IDDose2NearClose = "dose2-near-close"
	IDWakeAlarm      = "wake-alarm"
	IDCheckInPrompt  = "checkin-prompt"
)

// legacyIdentifiers were scheduled by earlier releases and no longer have a
// constant. Removing an entry risks orphaned reminders on upgraded installs.
var legacyIdentifiers = []string{
	"dose2-alert",
	"dose2-final-warning",
}

// ReminderIdentifiers returns the complete, versioned list of identifiers
// the engine may have scheduled. Cancellation paths cancel this full list
// rather than guessing which subset is live.
func ReminderIdentifiers() []string {
	ids := []string{
		IDDose2Window,
		IDDose2NearClose,
		IDWakeAlarm,
		IDCheckInPrompt,
	}
	return append(ids, legacyIdentifiers...)
}

// Reminder is a single scheduled notification.
type Reminder struct {
	ID      string
	At      time.Time
	Message string
}

// Scheduler schedules and cancels reminders. Implementations must treat
// Cancel of an unknown or never-scheduled identifier as a no-op.
type Scheduler interface {
	Schedule(reminders []Reminder) error
	Cancel(ids []string) error
}

// LogScheduler is the default Scheduler: it records scheduling decisions in
// the log and delivers nothing. Useful on platforms without a notification
// bridge and in long-running watch mode where the terminal is the display.
type LogScheduler struct{}

// NewLogScheduler creates a LogScheduler.
func NewLogScheduler() *LogScheduler {
	return &LogScheduler{}
}

var _ Scheduler = (*LogScheduler)(nil)

// Schedule logs each reminder.
func (s *LogScheduler) Schedule(reminders []Reminder) error {
	for _, r := range reminders {
		log.Info(log.CatNotify, "Reminder scheduled", "id", r.ID, "at", r.At.Format(time.RFC3339), "message", r.Message)
	}
	return nil
}

// Cancel logs the cancellation.
func (s *LogScheduler) Cancel(ids []string) error {
	log.Debug(log.CatNotify, "Reminders cancelled", "count", len(ids))
	return nil
}

// Recorder is a Scheduler fake for tests. It records every call so tests
// can assert that close and delete paths cancel unconditionally.
type Recorder struct {
	Scheduled []Reminder
	Cancelled [][]string
}

var _ Scheduler = (*Recorder)(nil)

// Schedule records the reminders.
func (r *Recorder) Schedule(reminders []Reminder) error {
	r.Scheduled = append(r.Scheduled, reminders...)
	return nil
}

// Cancel records the cancelled identifiers.
func (r *Recorder) Cancel(ids []string) error {
	r.Cancelled = append(r.Cancelled, ids)
	return nil
}

// CancelCount returns how many Cancel calls were recorded.
func (r *Recorder) CancelCount() int {
	return len(r.Cancelled)
}
