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
	"fmt"
)

// Ring is a lock-free single-producer/single-consumer byte ring over a
// memory region shared between two processes. The region starts with a
// RingHeaderSize control header (write index, read index, signal counter)
// followed by the data area.
//
// Exactly one goroutine in one process may write and exactly one goroutine
// in one process may read; under that discipline no operation ever blocks,
// spins, or takes a lock. Both indices are byte offsets into the data area
// in [0, dataSize). One byte of the data area always stays unused so a full
// ring (writeIndex one behind readIndex) is distinguishable from an empty
// one (indices equal): usable capacity is dataSize-1 and
// Available()+FreeSpace() == dataSize-1 at all times.
//
// Write publishes data by storing the advanced write index only after every
// payload byte is copied in, then bumps the signal counter; Read consumes by
// storing the advanced read index only after every byte is copied out. A
// reader and writer therefore never observe a torn region, only a slightly
// stale count.
type Ring struct {
	view ringView
	data []byte
	size uint32
}

// NewRing lays a ring over region, treating the first RingHeaderSize bytes
// as the control header and the rest as the data area. The header is used
// as-is, so mapping the same region twice (or from two processes) yields
// two handles onto one ring. Call Reset to start fresh.
func NewRing(region []byte) (*Ring, error) {
	if len(region) < RingHeaderSize+2 {
		return nil, fmt.Errorf("ring region %d bytes, need at least %d", len(region), RingHeaderSize+2)
	}
	view, err := newRingView(region, 0, uint32(len(region)-RingHeaderSize))
	if err != nil {
		return nil, err
	}
	return ringFromView(view), nil
}

func ringFromView(view ringView) *Ring {
	return &Ring{view: view, data: view.data(), size: view.dataSize}
}

// snapshot loads both indices, write index first. A concurrent update can
// only make the pair stale, never inconsistent: the reader under-counts
// available bytes and the writer under-counts free space, both safe.
func (r *Ring) snapshot() (w, rd uint32) {
	w = r.view.loadWriteIndex()
	rd = r.view.loadReadIndex()
	if w >= r.size || rd >= r.size {
		panic(fmt.Sprintf("termio: ring header corrupt: writeIndex=%d readIndex=%d dataSize=%d", w, rd, r.size))
	}
	return w, rd
}

func (r *Ring) available(w, rd uint32) int {
	if w >= rd {
		return int(w - rd)
	}
	return int(r.size - rd + w)
}

// Available reports how many bytes are ready to read.
func (r *Ring) Available() int {
	return r.available(r.snapshot())
}

// FreeSpace reports how many bytes a Write can currently accept.
func (r *Ring) FreeSpace() int {
	return int(r.size) - 1 - r.available(r.snapshot())
}

// DataSize is the size of the data area in bytes.
func (r *Ring) DataSize() int { return int(r.size) }

// Write copies p into the ring and reports whether it fit. The write is all
// or nothing: if free space is short even by one byte, the ring is left
// untouched and Write returns false. Writing an empty slice succeeds without
// touching the ring.
//
// On success the payload is published with a single write-index store after
// all bytes are in place, the signal counter is bumped, and a parked reader
// is woken only when the ring was empty beforehand. Readers that park
// do so on a bounded interval, so the empty-transition wake is an
// optimization, not a correctness requirement.
func (r *Ring) Write(p []byte) bool {
	n := len(p)
	if n == 0 {
		return true
	}
	w, rd := r.snapshot()
	avail := r.available(w, rd)
	if n > int(r.size)-1-avail {
		return false
	}

	first := int(r.size) - int(w)
	if first > n {
		first = n
	}
	copy(r.data[w:int(w)+first], p[:first])
	copy(r.data, p[first:])

	next := w + uint32(n)
	if next >= r.size {
		next -= r.size
	}
	r.view.storeWriteIndex(next)
	r.view.addSignal(1)
	if avail == 0 {
		wakeSignal(r.view.signalAddr())
	}
	return true
}

// Read copies up to len(p) available bytes into p and returns how many were
// copied. It never blocks: an empty ring yields 0. The read index is stored
// only after the bytes are copied out, so the producer cannot overwrite a
// region still being read.
func (r *Ring) Read(p []byte) int {
	if len(p) == 0 {
		return 0
	}
	w, rd := r.snapshot()
	avail := r.available(w, rd)
	if avail == 0 {
		return 0
	}
	n := avail
	if n > len(p) {
		n = len(p)
	}

	first := int(r.size) - int(rd)
	if first > n {
		first = n
	}
	copy(p[:first], r.data[rd:int(rd)+first])
	copy(p[first:n], r.data[:n-first])

	next := rd + uint32(n)
	if next >= r.size {
		next -= r.size
	}
	r.view.storeReadIndex(next)
	return n
}

// Reset returns the ring to its initial empty state. Only safe when neither
// side is mid-operation.
func (r *Ring) Reset() {
	r.view.storeWriteIndex(0)
	r.view.storeReadIndex(0)
	r.view.storeSignal(0)
}

// Signal returns the current value of the signal counter. The counter is
// bumped once per successful Write; a consumer snapshots it before checking
// for data so the wait primitive can detect a write that lands in between.
func (r *Ring) Signal() uint32 { return r.view.signal() }

// Wake bumps the signal counter and wakes a parked reader without
// publishing any data. Used to kick consumers loose on state transitions
// such as completion.
func (r *Ring) Wake() {
	r.view.addSignal(1)
	wakeSignal(r.view.signalAddr())
}

func (r *Ring) signalAddr() *uint32 { return r.view.signalAddr() }

// RingState is a diagnostic snapshot of one ring.
type RingState struct {
	DataSize   int    `json:"data_size"`
	WriteIndex uint32 `json:"write_index"`
	ReadIndex  uint32 `json:"read_index"`
	Available  int    `json:"available"`
	FreeSpace  int    `json:"free_space"`
	Signal     uint32 `json:"signal"`
}

// State captures the ring's counters for logs and status endpoints.
func (r *Ring) State() RingState {
	w, rd := r.snapshot()
	avail := r.available(w, rd)
	return RingState{
		DataSize:   int(r.size),
		WriteIndex: w,
		ReadIndex:  rd,
		Available:  avail,
		FreeSpace:  int(r.size) - 1 - avail,
		Signal:     r.view.signal(),
	}
}
