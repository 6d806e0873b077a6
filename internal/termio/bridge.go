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

import "context"

// clearScreen is the ANSI erase-display-and-home sequence the host
// terminal understands.
const clearScreen = "\x1b[2J\x1b[H"

// Bridge is the worker-side console facade handed to user programs: plain
// write/read-key calls with the ring mechanics, packet framing, and
// cancellation protocol tucked underneath. It is a thin veneer over a
// worker Channel and shares its single-goroutine-per-direction rule.
type Bridge struct {
	ch *Channel
}

// NewBridge wraps a worker-side channel. Panics if ch speaks for the host
// side, because a bridge on the host would make it a second consumer of
// the input ring.
func NewBridge(ch *Channel) *Bridge {
	if ch.Role() != RoleWorker {
		panic("termio: bridge requires a worker-side channel")
	}
	return &Bridge{ch: ch}
}

// Write sends text to the host terminal. Output beyond what the host has
// had time to drain is dropped rather than blocking the program.
func (b *Bridge) Write(text string) {
	b.ch.WriteOutput([]byte(text))
}

// Clear asks the host terminal to erase itself and home the cursor.
func (b *Bridge) Clear() {
	b.ch.WriteOutput([]byte(clearScreen))
}

// InputAvailable reports whether ReadKey would return without blocking.
func (b *Bridge) InputAvailable() bool {
	return b.ch.KeyAvailable()
}

// ReadKey blocks until the user presses a key. Returns ErrCancelled once
// the host requests cancellation and io.EOF if the run is completed with
// no input left.
func (b *Bridge) ReadKey() (KeyEvent, error) {
	return b.ch.ReadKey(context.Background())
}

// ReadKeyContext is ReadKey bounded by ctx.
func (b *Bridge) ReadKeyContext(ctx context.Context) (KeyEvent, error) {
	return b.ch.ReadKey(ctx)
}

// TryReadKey returns the next key event if one is already waiting.
func (b *Bridge) TryReadKey() (KeyEvent, bool, error) {
	return b.ch.TryReadKey()
}

// Cancelled reports whether the host has requested cancellation.
func (b *Bridge) Cancelled() bool {
	return b.ch.Cancelled()
}

// Complete marks the program finished. Buffered output still drains to the
// host; subsequent writes are discarded.
func (b *Bridge) Complete() {
	b.ch.Complete()
}

// Reset clears both rings and returns the bridge to idle for another run.
// Only safe while nothing is mid-operation on either side.
func (b *Bridge) Reset() {
	b.ch.Reset()
}

// Channel exposes the underlying worker channel for callers that need
// lifecycle control beyond the console surface.
func (b *Bridge) Channel() *Channel { return b.ch }
