package termio

import (
	"sync/atomic"
	"time"
)

// waiter parks a consumer until the ring's signal counter moves past its
// snapshot or the interval elapses, whichever comes first. Implementations
// must never park longer than the interval: callers re-check ring state and
// cancellation between waits, so responsiveness is bounded by the interval
// even if a wake is lost.
type waiter interface {
	wait(addr *uint32, snapshot uint32, interval time.Duration)
}

// sleepWaiter is the portable strategy: check the counter once, then sleep
// the interval. Wakes are not observable mid-sleep, which is fine because
// the interval bounds the latency.
type sleepWaiter struct{}

func (sleepWaiter) wait(addr *uint32, snapshot uint32, interval time.Duration) {
	if atomic.LoadUint32(addr) != snapshot {
		return
	}
	time.Sleep(interval)
}

// newPlatformWaiter picks the best strategy for this platform. Overridden
// by a futex-backed waiter where one exists.
var newPlatformWaiter = func() waiter { return sleepWaiter{} }

// wakeSignal nudges any consumer parked on addr. A no-op on platforms
// whose waiter cannot observe wakes.
var wakeSignal = func(addr *uint32) {}
