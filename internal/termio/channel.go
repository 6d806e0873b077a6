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

package termio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ChannelState is the run lifecycle recorded in the segment header.
type ChannelState uint32

const (
	// StateIdle: no run in progress. Fresh segments and reset channels.
	StateIdle ChannelState = iota
	// StateActive: the worker is running and may produce output or
	// consume input at any time.
	StateActive
	// StateCompleted: the run finished. Remaining output drains, then
	// readers get io.EOF; writes on either side become no-ops.
	StateCompleted
)

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// MarshalJSON renders the state by name so status endpoints report
// "active", not 1.
func (s ChannelState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Role says which side of the bridge a channel speaks for. The SPSC
// discipline hangs on it: the worker is the only output producer and input
// consumer, the host the only output consumer and input producer.
type Role uint8

const (
	RoleHost Role = iota + 1
	RoleWorker
)

func (r Role) String() string {
	switch r {
	case RoleHost:
		return "host"
	case RoleWorker:
		return "worker"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Poll interval bounds. Parked readers re-check cancellation every
// interval, so the interval is also the cancellation latency ceiling.
const (
	DefaultPollInterval = 2 * time.Millisecond
	MinPollInterval     = 1 * time.Millisecond
	MaxPollInterval     = 10 * time.Millisecond
)

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithPollInterval sets how long blocking operations park between state
// checks, clamped to [MinPollInterval, MaxPollInterval].
func WithPollInterval(d time.Duration) ChannelOption {
	return func(c *Channel) {
		if d < MinPollInterval {
			d = MinPollInterval
		}
		if d > MaxPollInterval {
			d = MaxPollInterval
		}
		c.poll = d
	}
}

// Channel is one side's handle on a segment's rings plus the shared
// lifecycle state. Operations are split by role and panic when called from
// the wrong side: a second producer or consumer on a ring would corrupt it
// silently, so misuse fails loudly instead.
//
// A channel's methods may be used from one goroutine at a time per
// direction: on the worker side one goroutine writing output and one
// reading keys is fine, two readers is not. On the host side Reset is the
// exception: it may race an attached terminal's ReadOutput and WriteKey on
// the same handle, and ioMu keeps it from tearing a copy in flight.
type Channel struct {
	seg  *Segment
	role Role
	out  *Ring
	in   *Ring
	poll time.Duration
	w    waiter

	// ioMu serializes this handle's ring operations against Reset. It is
	// process-local: the opposite side of the segment is covered by the
	// protocol instead (Reset only runs between runs, when the worker is
	// not touching the rings).
	ioMu sync.Mutex
}

// NewChannel attaches to seg in the given role and announces the role in
// the segment header, which is what the opposite side's handshake waits
// for.
func NewChannel(seg *Segment, role Role, opts ...ChannelOption) *Channel {
	c := &Channel{
		seg:  seg,
		role: role,
		out:  seg.OutRing(),
		in:   seg.InRing(),
		poll: DefaultPollInterval,
		w:    newPlatformWaiter(),
	}
	for _, opt := range opts {
		opt(c)
	}
	switch role {
	case RoleHost:
		seg.view.SetHostPID(uint32(os.Getpid()))
		seg.view.SetHostReady()
	case RoleWorker:
		seg.view.SetWorkerPID(uint32(os.Getpid()))
		seg.view.SetWorkerReady()
	default:
		panic(fmt.Sprintf("termio: invalid channel role %d", uint8(role)))
	}
	return c
}

func (c *Channel) mustRole(want Role, op string) {
	if c.role != want {
		panic(fmt.Sprintf("termio: %s is a %s-side operation, this channel is the %s side", op, want, c.role))
	}
}

// Role reports which side this channel speaks for.
func (c *Channel) Role() Role { return c.role }

// PollInterval reports the bounded park interval in effect.
func (c *Channel) PollInterval() time.Duration { return c.poll }

// State reads the current lifecycle state.
func (c *Channel) State() ChannelState { return c.seg.view.State() }

// Cancelled reports whether cancellation has been requested and not yet
// cleared by Reset.
func (c *Channel) Cancelled() bool { return c.seg.view.CancelRequested() }

// WriteOutput publishes program output to the host. The write is all or
// nothing and never blocks: when the host has fallen too far behind, or the
// run is already completed, the bytes are dropped and counted instead.
// Returns whether the bytes were published.
func (c *Channel) WriteOutput(p []byte) bool {
	c.mustRole(RoleWorker, "WriteOutput")
	if len(p) == 0 {
		return true
	}
	if c.seg.view.State() == StateCompleted {
		c.seg.view.AddDroppedOutput(uint64(len(p)))
		return false
	}
	if c.out.Write(p) {
		return true
	}
	c.seg.view.AddDroppedOutput(uint64(len(p)))
	return false
}

// ReadOutput copies available program output into p, parking for at most
// one poll interval at a time while the ring is empty. After the worker
// completes and the ring drains it returns io.EOF. ctx bounds the wait.
func (c *Channel) ReadOutput(ctx context.Context, p []byte) (int, error) {
	c.mustRole(RoleHost, "ReadOutput")
	if len(p) == 0 {
		return 0, nil
	}
	for {
		c.ioMu.Lock()
		if n := c.out.Read(p); n > 0 {
			c.ioMu.Unlock()
			return n, nil
		}
		if c.seg.view.State() == StateCompleted {
			// A last write may have landed between the read above and
			// the state load; drain it before reporting EOF.
			n := c.out.Read(p)
			c.ioMu.Unlock()
			if n > 0 {
				return n, nil
			}
			return 0, io.EOF
		}
		sig := c.out.Signal()
		avail := c.out.Available()
		c.ioMu.Unlock()

		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if avail > 0 {
			continue
		}
		c.w.wait(c.out.signalAddr(), sig, c.poll)
	}
}

// KeyAvailable reports whether a complete key packet is waiting. The input
// ring only ever carries whole packets, so a short byte count means the
// next event simply has not been published yet.
func (c *Channel) KeyAvailable() bool {
	c.mustRole(RoleWorker, "KeyAvailable")
	return c.in.Available() >= KeyEventSize
}

// ReadKey blocks until a key event arrives, cancellation is requested, ctx
// is done, or the run completes with the input drained (io.EOF). The
// cancellation check comes before the data check on every pass, so a
// cancel wins over key events arriving concurrently and is honored within
// one poll interval even while parked.
func (c *Channel) ReadKey(ctx context.Context) (KeyEvent, error) {
	c.mustRole(RoleWorker, "ReadKey")
	var pkt [KeyEventSize]byte
	for {
		if c.seg.view.CancelRequested() {
			return KeyEvent{}, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return KeyEvent{}, err
		}
		if c.in.Available() >= KeyEventSize {
			c.in.Read(pkt[:])
			if IsCancelSentinel(pkt[:]) {
				return KeyEvent{}, ErrCancelled
			}
			return DecodeKeyEvent(pkt[:])
		}
		if c.seg.view.State() == StateCompleted {
			return KeyEvent{}, io.EOF
		}
		sig := c.in.Signal()
		if c.in.Available() >= KeyEventSize || c.seg.view.CancelRequested() {
			continue
		}
		c.w.wait(c.in.signalAddr(), sig, c.poll)
	}
}

// TryReadKey is the non-blocking probe: it consumes and returns one event
// if a complete packet is waiting, reports ok=false if not, and surfaces
// cancellation exactly like ReadKey.
func (c *Channel) TryReadKey() (KeyEvent, bool, error) {
	c.mustRole(RoleWorker, "TryReadKey")
	if c.seg.view.CancelRequested() {
		return KeyEvent{}, false, ErrCancelled
	}
	if c.in.Available() < KeyEventSize {
		return KeyEvent{}, false, nil
	}
	var pkt [KeyEventSize]byte
	c.in.Read(pkt[:])
	if IsCancelSentinel(pkt[:]) {
		return KeyEvent{}, false, ErrCancelled
	}
	ev, err := DecodeKeyEvent(pkt[:])
	if err != nil {
		return KeyEvent{}, false, err
	}
	return ev, true, nil
}

// WriteKey publishes one key event to the worker, sleeping in poll-interval
// steps while the input ring is full. Key events sent after the run
// completed are silently discarded. ctx bounds the wait.
func (c *Channel) WriteKey(ctx context.Context, ev KeyEvent) error {
	c.mustRole(RoleHost, "WriteKey")
	pkt := EncodeKeyEvent(ev)
	for {
		c.ioMu.Lock()
		if c.seg.view.State() == StateCompleted {
			c.ioMu.Unlock()
			return nil
		}
		ok := c.in.Write(pkt[:])
		c.ioMu.Unlock()
		if ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		time.Sleep(c.poll)
	}
}

// Cancel requests cooperative cancellation of the running program. The
// shared flag is raised first, then a sentinel packet is pushed into the
// input ring so a parked ReadKey wakes immediately; if the ring is too full
// even for the sentinel, the input ring is still kicked and the flag alone
// cancels within one poll interval.
func (c *Channel) Cancel() {
	c.mustRole(RoleHost, "Cancel")
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	c.seg.view.SetCancel(true)
	if !c.in.Write(cancelSentinel[:]) {
		c.in.Wake()
	}
}

// Activate marks the run in progress. The worker calls it once its console
// is wired up and before user code starts.
func (c *Channel) Activate() {
	c.mustRole(RoleWorker, "Activate")
	c.seg.view.SetState(StateActive)
}

// Complete marks the run finished and kicks both rings so parked readers
// on either side re-check state and unblock.
func (c *Channel) Complete() {
	c.mustRole(RoleWorker, "Complete")
	c.seg.view.SetState(StateCompleted)
	c.out.Wake()
	c.in.Wake()
}

// Reset returns the bridge to Idle for another run: both rings cleared,
// cancel flag lowered, drop counter zeroed. Concurrent ReadOutput, WriteKey
// and Cancel on this same handle are safe (an attached terminal may keep
// pumping across runs), but the opposite side of the segment must be
// quiescent, with no read or write in flight there.
func (c *Channel) Reset() {
	c.ioMu.Lock()
	defer c.ioMu.Unlock()
	c.out.Reset()
	c.in.Reset()
	c.seg.view.SetCancel(false)
	c.seg.view.ResetDroppedOutput()
	c.seg.view.SetState(StateIdle)
}

// ChannelStats is a point-in-time snapshot for logs and status endpoints.
type ChannelStats struct {
	State         ChannelState `json:"state"`
	Cancelled     bool         `json:"cancelled"`
	DroppedOutput uint64       `json:"dropped_output_bytes"`
	Out           RingState    `json:"output_ring"`
	In            RingState    `json:"input_ring"`
}

// Stats snapshots the channel. Counters from the two rings are loaded
// independently, so totals may be momentarily inconsistent with each other;
// each number is individually valid.
func (c *Channel) Stats() ChannelStats {
	return ChannelStats{
		State:         c.seg.view.State(),
		Cancelled:     c.seg.view.CancelRequested(),
		DroppedOutput: c.seg.view.DroppedOutput(),
		Out:           c.out.State(),
		In:            c.in.State(),
	}
}
