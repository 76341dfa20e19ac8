package executor

import (
	"testing"
	"time"
)

func TestWatchdogFires(t *testing.T) {
	fired := make(chan struct{})
	dog := newWatchdog(10*time.Millisecond, func() { close(fired) })
	defer dog.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog never fired")
	}
	if !dog.TimedOut() {
		t.Error("TimedOut false after firing")
	}
}

func TestWatchdogStopDisarms(t *testing.T) {
	dog := newWatchdog(50*time.Millisecond, func() { t.Error("watchdog fired after Stop") })
	dog.Stop()
	time.Sleep(100 * time.Millisecond)
	if dog.TimedOut() {
		t.Error("TimedOut true after Stop")
	}
}
