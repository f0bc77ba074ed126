package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dosetap/dosetap/internal/clock"
)

func TestWakeTimer_PastInstantFiresImmediately(t *testing.T) {
	clk := clock.NewManual(dose1At, east)
	timer := NewWakeTimer(clk)
	t.Cleanup(timer.Stop)

	target := dose1At.Add(-time.Hour)
	timer.Reset(target)

	select {
	case fired := <-timer.C():
		require.True(t, fired.Equal(target))
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestWakeTimer_ResetReplacesPendingDeadline(t *testing.T) {
	clk := clock.NewManual(dose1At, east)
	timer := NewWakeTimer(clk)
	t.Cleanup(timer.Stop)

	// Arm far in the future, then supersede with an immediate deadline.
	timer.Reset(dose1At.Add(time.Hour))
	immediate := dose1At
	timer.Reset(immediate)

	select {
	case fired := <-timer.C():
		require.True(t, fired.Equal(immediate))
	case <-time.After(time.Second):
		t.Fatal("superseding deadline did not fire")
	}
}

func TestWakeTimer_StopDisarms(t *testing.T) {
	timer := NewWakeTimer(clock.NewSystem())
	timer.Reset(time.Now().Add(20 * time.Millisecond))
	timer.Stop()

	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWakeTimer_CoalescesPendingFires(t *testing.T) {
	clk := clock.NewManual(dose1At, east)
	timer := NewWakeTimer(clk)
	t.Cleanup(timer.Stop)

	// Let each past-deadline fire land before the next reset so the
	// second send finds the buffer full and coalesces.
	timer.Reset(dose1At.Add(-2 * time.Hour))
	time.Sleep(50 * time.Millisecond)
	timer.Reset(dose1At.Add(-time.Hour))
	time.Sleep(50 * time.Millisecond)

	<-timer.C()
	select {
	case <-timer.C():
		t.Fatal("coalesced fire delivered twice")
	case <-time.After(100 * time.Millisecond):
	}
}
