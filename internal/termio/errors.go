package termio

import "errors"

// ErrCancelled is returned by key reads once cancellation has been
// requested, either via the shared cancel flag or the sentinel packet.
// Subsequent reads keep returning it until the channel is Reset.
var ErrCancelled = errors.New("termio: read cancelled")

// ErrUnsupported is returned when shared memory segments are not available
// on this platform. In-process segments still work everywhere.
var ErrUnsupported = errors.New("termio: shared memory not supported on this platform")

// errFutexTimeout is returned by futexWaitTimeout when the bounded wait
// elapses without a wake.
var errFutexTimeout = errors.New("termio: futex wait timed out")
