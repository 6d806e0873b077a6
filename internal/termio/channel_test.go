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
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

// newTestPair wires a host and worker channel over one in-process segment.
func newTestPair(t *testing.T) (host, worker *Channel) {
	t.Helper()
	seg, err := NewLocalSegment(MinRingDataSize, MinRingDataSize)
	if err != nil {
		t.Fatalf("NewLocalSegment: %v", err)
	}
	t.Cleanup(func() { seg.Close() })
	return NewChannel(seg, RoleHost), NewChannel(seg, RoleWorker)
}

func mustPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", what)
		}
	}()
	fn()
}

func TestChannelRoleGuards(t *testing.T) {
	host, worker := newTestPair(t)

	mustPanic(t, "host WriteOutput", func() { host.WriteOutput([]byte("x")) })
	mustPanic(t, "host ReadKey", func() { host.ReadKey(context.Background()) })
	mustPanic(t, "host TryReadKey", func() { host.TryReadKey() })
	mustPanic(t, "host KeyAvailable", func() { host.KeyAvailable() })
	mustPanic(t, "host Activate", func() { host.Activate() })
	mustPanic(t, "host Complete", func() { host.Complete() })

	mustPanic(t, "worker ReadOutput", func() { worker.ReadOutput(context.Background(), make([]byte, 8)) })
	mustPanic(t, "worker WriteKey", func() { worker.WriteKey(context.Background(), KeyEvent{}) })
	mustPanic(t, "worker Cancel", func() { worker.Cancel() })
}

func TestChannelOutputPath(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()
	if got := host.State(); got != StateActive {
		t.Fatalf("State() = %v after Activate, want active", got)
	}

	if !worker.WriteOutput([]byte("hello, ")) {
		t.Fatal("WriteOutput failed on empty ring")
	}
	if !worker.WriteOutput([]byte("terminal")) {
		t.Fatal("WriteOutput failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var out bytes.Buffer
	buf := make([]byte, 8)
	for out.Len() < len("hello, terminal") {
		n, err := host.ReadOutput(ctx, buf)
		if err != nil {
			t.Fatalf("ReadOutput: %v", err)
		}
		out.Write(buf[:n])
	}
	if out.String() != "hello, terminal" {
		t.Errorf("host read %q, want %q", out.String(), "hello, terminal")
	}
}

func TestChannelOutputDropOnFull(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()

	// Fill the output ring with nobody draining it.
	chunk := bytes.Repeat([]byte{0x55}, 512)
	for worker.WriteOutput(chunk) {
	}
	dropped := worker.Stats().DroppedOutput
	if dropped == 0 {
		t.Fatal("no drop recorded after ring filled")
	}

	if worker.WriteOutput([]byte("more")) {
		t.Fatal("WriteOutput succeeded on a full ring")
	}
	if got := worker.Stats().DroppedOutput; got != dropped+4 {
		t.Errorf("DroppedOutput = %d, want %d", got, dropped+4)
	}

	// Drain everything; the published bytes must all be the fill pattern,
	// with nothing missing in the middle.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	total := 0
	buf := make([]byte, 1024)
	for host.Stats().Out.Available > 0 {
		n, err := host.ReadOutput(ctx, buf)
		if err != nil {
			t.Fatalf("ReadOutput: %v", err)
		}
		for i := 0; i < n; i++ {
			if buf[i] != 0x55 {
				t.Fatalf("byte %d of drained output = %#x, want 0x55", total+i, buf[i])
			}
		}
		total += n
	}
	if total%512 != 0 {
		t.Errorf("drained %d bytes, want a whole number of 512-byte writes", total)
	}
}

func TestChannelKeyRoundTrip(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()
	ctx := context.Background()

	want := []KeyEvent{
		{Code: 72, Char: 'h'},
		{Code: 73, Char: 'i'},
		{Code: KeyCodeEnter, Char: '\r'},
	}
	for _, ev := range want {
		if err := host.WriteKey(ctx, ev); err != nil {
			t.Fatalf("WriteKey(%v): %v", ev, err)
		}
	}
	if !worker.KeyAvailable() {
		t.Fatal("KeyAvailable() = false with three events queued")
	}
	for i, wantEv := range want {
		got, err := worker.ReadKey(ctx)
		if err != nil {
			t.Fatalf("ReadKey #%d: %v", i, err)
		}
		if got != wantEv {
			t.Errorf("ReadKey #%d = %+v, want %+v", i, got, wantEv)
		}
	}
	if worker.KeyAvailable() {
		t.Error("KeyAvailable() = true after drain")
	}
}

func TestChannelReadKeyBlocksUntilKey(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()

	type result struct {
		ev  KeyEvent
		err error
	}
	got := make(chan result, 1)
	go func() {
		ev, err := worker.ReadKey(context.Background())
		got <- result{ev, err}
	}()

	// Give the reader time to park, then publish a key.
	time.Sleep(20 * time.Millisecond)
	select {
	case r := <-got:
		t.Fatalf("ReadKey returned %+v, %v before any key was written", r.ev, r.err)
	default:
	}
	if err := host.WriteKey(context.Background(), KeyEvent{Code: 81, Char: 'q'}); err != nil {
		t.Fatalf("WriteKey: %v", err)
	}

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("ReadKey: %v", r.err)
		}
		if r.ev.Char != 'q' {
			t.Errorf("ReadKey = %+v, want char q", r.ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadKey did not wake after a key was written")
	}
}

func TestChannelCancelWakesParkedReader(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()

	errc := make(chan error, 1)
	go func() {
		_, err := worker.ReadKey(context.Background())
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	host.Cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("ReadKey after Cancel = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadKey still parked after Cancel")
	}
	// The contract is one poll interval; leave generous slack for a slow
	// test machine but catch an unbounded park.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("cancellation took %v, want within a poll interval", elapsed)
	}
}

func TestChannelCancelBeatsConcurrentKey(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()
	ctx := context.Background()

	// A legitimate key is already queued when cancellation is requested:
	// the reader must still report cancellation, not the key.
	if err := host.WriteKey(ctx, KeyEvent{Code: 65, Char: 'a'}); err != nil {
		t.Fatalf("WriteKey: %v", err)
	}
	host.Cancel()

	if _, err := worker.ReadKey(ctx); !errors.Is(err, ErrCancelled) {
		t.Fatalf("ReadKey = %v, want ErrCancelled", err)
	}
	if _, _, err := worker.TryReadKey(); !errors.Is(err, ErrCancelled) {
		t.Fatalf("TryReadKey = %v, want ErrCancelled", err)
	}
}

func TestChannelSentinelAloneCancels(t *testing.T) {
	_, worker := newTestPair(t)
	worker.Activate()

	// Only the sentinel packet, no shared flag: simulates the packet
	// arriving through the ring from a host that died right after
	// writing it.
	if !worker.seg.InRing().Write(cancelSentinel[:]) {
		t.Fatal("could not write sentinel")
	}
	if _, err := worker.ReadKey(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("ReadKey = %v, want ErrCancelled from sentinel", err)
	}
}

func TestChannelCancelWithFullInputRing(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()

	// Stuff the input ring so the sentinel cannot fit, then cancel. The
	// shared flag must still pre-empt the queued keys.
	pkt := EncodeKeyEvent(KeyEvent{Code: 65, Char: 'a'})
	for worker.seg.InRing().Write(pkt[:]) {
	}
	host.Cancel()

	if _, err := worker.ReadKey(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("ReadKey = %v, want ErrCancelled despite queued keys", err)
	}
}

func TestChannelTryReadKey(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()
	ctx := context.Background()

	if _, ok, err := worker.TryReadKey(); ok || err != nil {
		t.Fatalf("TryReadKey on empty ring = ok=%v err=%v, want none", ok, err)
	}
	if err := host.WriteKey(ctx, KeyEvent{Code: 90, Char: 'z'}); err != nil {
		t.Fatalf("WriteKey: %v", err)
	}
	ev, ok, err := worker.TryReadKey()
	if err != nil || !ok {
		t.Fatalf("TryReadKey = ok=%v err=%v, want an event", ok, err)
	}
	if ev.Char != 'z' {
		t.Errorf("TryReadKey = %+v, want char z", ev)
	}
	if _, ok, _ := worker.TryReadKey(); ok {
		t.Error("TryReadKey returned a second event from a drained ring")
	}
}

func TestChannelCompleteDrainsThenEOF(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	worker.WriteOutput([]byte("last words"))
	worker.Complete()

	var out bytes.Buffer
	buf := make([]byte, 4)
	for {
		n, err := host.ReadOutput(ctx, buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadOutput: %v", err)
		}
	}
	if out.String() != "last words" {
		t.Errorf("drained %q before EOF, want %q", out.String(), "last words")
	}

	// Output written after completion is discarded, not published.
	if worker.WriteOutput([]byte("ghost")) {
		t.Error("WriteOutput succeeded after Complete")
	}
	if _, err := host.ReadOutput(ctx, buf); err != io.EOF {
		t.Errorf("ReadOutput after drain = %v, want io.EOF", err)
	}
}

func TestChannelCompletedKeyReads(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()
	ctx := context.Background()

	if err := host.WriteKey(ctx, KeyEvent{Code: 65, Char: 'a'}); err != nil {
		t.Fatalf("WriteKey: %v", err)
	}
	worker.Complete()

	// Queued input drains first, then EOF.
	ev, err := worker.ReadKey(ctx)
	if err != nil || ev.Char != 'a' {
		t.Fatalf("ReadKey = %+v, %v, want queued key a", ev, err)
	}
	if _, err := worker.ReadKey(ctx); err != io.EOF {
		t.Fatalf("ReadKey on completed empty channel = %v, want io.EOF", err)
	}

	// Host keystrokes after completion vanish silently.
	if err := host.WriteKey(ctx, KeyEvent{Code: 66, Char: 'b'}); err != nil {
		t.Fatalf("WriteKey after Complete: %v", err)
	}
	if got := host.Stats().In.Available; got != 0 {
		t.Errorf("input ring holds %d bytes after post-complete WriteKey, want 0", got)
	}
}

func TestChannelReadOutputUnblocksOnComplete(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()

	errc := make(chan error, 1)
	go func() {
		_, err := host.ReadOutput(context.Background(), make([]byte, 16))
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	worker.Complete()

	select {
	case err := <-errc:
		if err != io.EOF {
			t.Fatalf("ReadOutput after Complete = %v, want io.EOF", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadOutput still parked after Complete")
	}
}

func TestChannelWriteKeyBackpressure(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()

	pkt := EncodeKeyEvent(KeyEvent{Code: 65, Char: 'a'})
	for worker.seg.InRing().Write(pkt[:]) {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := host.WriteKey(ctx, KeyEvent{Code: 66, Char: 'b'}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WriteKey on full ring = %v, want deadline exceeded", err)
	}

	// Draining one packet frees exactly one slot.
	if _, err := worker.ReadKey(context.Background()); err != nil {
		t.Fatalf("ReadKey: %v", err)
	}
	if err := host.WriteKey(context.Background(), KeyEvent{Code: 66, Char: 'b'}); err != nil {
		t.Fatalf("WriteKey after drain: %v", err)
	}
}

func TestChannelReset(t *testing.T) {
	host, worker := newTestPair(t)
	worker.Activate()
	ctx := context.Background()

	worker.WriteOutput([]byte("run one"))
	host.WriteKey(ctx, KeyEvent{Code: 65, Char: 'a'})
	host.Cancel()
	worker.Complete()

	host.Reset()

	st := host.Stats()
	if st.State != StateIdle {
		t.Errorf("State = %v after Reset, want idle", st.State)
	}
	if st.Cancelled {
		t.Error("Cancelled still set after Reset")
	}
	if st.DroppedOutput != 0 {
		t.Errorf("DroppedOutput = %d after Reset, want 0", st.DroppedOutput)
	}
	if st.Out.Available != 0 || st.In.Available != 0 {
		t.Errorf("rings not empty after Reset: out=%d in=%d", st.Out.Available, st.In.Available)
	}

	// The bridge is reusable: a second run flows normally.
	worker.Activate()
	if !worker.WriteOutput([]byte("run two")) {
		t.Fatal("WriteOutput failed after Reset")
	}
	buf := make([]byte, 16)
	n, err := host.ReadOutput(ctx, buf)
	if err != nil || string(buf[:n]) != "run two" {
		t.Errorf("ReadOutput after Reset = %q, %v", buf[:n], err)
	}
}

// A terminal may attach before the first run and stay attached across
// runs, so its output reader can be parked inside ReadOutput on the very
// handle Reset is called on.
func TestChannelResetDuringAttachedRead(t *testing.T) {
	host, worker := newTestPair(t)

	got := make(chan string, 1)
	go func() {
		b := make([]byte, 64)
		n, err := host.ReadOutput(context.Background(), b)
		if err != nil {
			got <- "error: " + err.Error()
			return
		}
		got <- string(b[:n])
	}()

	// Give the reader time to park on the idle empty ring, then start a
	// run underneath it.
	time.Sleep(20 * time.Millisecond)
	host.Reset()
	worker.Activate()
	worker.WriteOutput([]byte("fresh run"))

	select {
	case s := <-got:
		if s != "fresh run" {
			t.Errorf("attached reader got %q across Reset, want %q", s, "fresh run")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("attached reader never woke after Reset")
	}
}

func TestChannelPollIntervalClamped(t *testing.T) {
	seg, err := NewLocalSegment(MinRingDataSize, MinRingDataSize)
	if err != nil {
		t.Fatalf("NewLocalSegment: %v", err)
	}
	defer seg.Close()

	c := NewChannel(seg, RoleWorker, WithPollInterval(time.Nanosecond))
	if got := c.PollInterval(); got != MinPollInterval {
		t.Errorf("PollInterval = %v, want clamped to %v", got, MinPollInterval)
	}
	c = NewChannel(seg, RoleWorker, WithPollInterval(time.Second))
	if got := c.PollInterval(); got != MaxPollInterval {
		t.Errorf("PollInterval = %v, want clamped to %v", got, MaxPollInterval)
	}
	c = NewChannel(seg, RoleWorker, WithPollInterval(5*time.Millisecond))
	if got := c.PollInterval(); got != 5*time.Millisecond {
		t.Errorf("PollInterval = %v, want 5ms", got)
	}
}
