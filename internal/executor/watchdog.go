package executor

import (
	"sync/atomic"
	"time"
)

// watchdog fires exactly once if the deadline elapses before Stop is called.
// The kill function runs on the timer goroutine.
type watchdog struct {
	timer *time.Timer
	fired atomic.Bool
}

func newWatchdog(timeout time.Duration, kill func()) *watchdog {
	w := &watchdog{}
	w.timer = time.AfterFunc(timeout, func() {
		w.fired.Store(true)
		kill()
	})
	return w
}

// Stop disarms the watchdog. Safe to call after firing.
func (w *watchdog) Stop() {
	w.timer.Stop()
}

// TimedOut reports whether the watchdog fired.
func (w *watchdog) TimedOut() bool {
	return w.fired.Load()
}
