package engine

import (
	"sync"
	"time"

	"github.com/dosetap/dosetap/internal/clock"
	"github.com/dosetap/dosetap/internal/log"
)

// WakeTimer fires at absolute instants rather than after durations, so a
// suspended process that resumes past the deadline fires immediately instead
// of sleeping the full interval again. Firing with nothing to do is a no-op
// for callers; the timer only signals.
type WakeTimer struct {
	mu    sync.Mutex
	clk   clock.Clock
	timer *time.Timer
	ch    chan time.Time
}

// NewWakeTimer creates a stopped timer. Call Reset to arm it.
func NewWakeTimer(clk clock.Clock) *WakeTimer {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &WakeTimer{
		clk: clk,
		ch:  make(chan time.Time, 1),
	}
}

// C is the firing channel. It carries the instant the timer was armed for.
func (w *WakeTimer) C() <-chan time.Time {
	return w.ch
}

// Reset arms the timer for the absolute instant at, replacing any pending
// deadline. An instant at or before now fires immediately.
func (w *WakeTimer) Reset(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stopLocked()

	d := at.Sub(w.clk.Now())
	if d < 0 {
		d = 0
	}
	w.timer = time.AfterFunc(d, func() {
		select {
		case w.ch <- at:
		default:
			// A pending fire is already queued; coalesce.
		}
	})
	log.Debug(log.CatSchedule, "Wake timer armed", "at", at.Format(time.RFC3339), "in", d.Round(time.Second).String())
}

// Stop disarms the timer. It does not drain a fire already delivered.
func (w *WakeTimer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
}

func (w *WakeTimer) stopLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
