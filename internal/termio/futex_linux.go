/*
 *
 * Copyright 2026 The termbridge Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

//go:build linux && (amd64 || arm64)

package termio

import (
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"
)

// Futex operations on the ring signal counters. The non-private variants
// hash on the backing page rather than the address space, which is required
// here: waiter and waker sit in different processes (and in tests, on two
// mappings of the same file within one process).
const (
	futexOpWait = 0 // FUTEX_WAIT
	futexOpWake = 1 // FUTEX_WAKE
)

// futexWaitTimeout parks the calling thread until the value at addr differs
// from val, a wake arrives, or d elapses. Returns nil when woken or when the
// value had already moved, errFutexTimeout on timeout. Spurious returns are
// fine; callers always re-check state.
func futexWaitTimeout(addr *uint32, val uint32, d time.Duration) error {
	if atomic.LoadUint32(addr) != val {
		return nil
	}
	ts := syscall.NsecToTimespec(d.Nanoseconds())
	_, _, errno := syscall.Syscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWait,
		uintptr(val),
		uintptr(unsafe.Pointer(&ts)),
		0, 0,
	)
	switch errno {
	case 0, syscall.EINTR:
		return nil
	case syscall.EAGAIN:
		// Value no longer matched when the kernel looked.
		return nil
	case syscall.ETIMEDOUT:
		return errFutexTimeout
	default:
		return errno
	}
}

// futexWake wakes up to n threads parked on addr. Fire and forget: a missed
// wake only costs the waiter one bounded interval.
func futexWake(addr *uint32, n int) {
	syscall.Syscall6(
		syscall.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		futexOpWake,
		uintptr(n),
		0, 0, 0,
	)
}

type futexWaiter struct{}

func (futexWaiter) wait(addr *uint32, snapshot uint32, interval time.Duration) {
	_ = futexWaitTimeout(addr, snapshot, interval)
}

func init() {
	newPlatformWaiter = func() waiter { return futexWaiter{} }
	wakeSignal = func(addr *uint32) { futexWake(addr, 1) }
}
