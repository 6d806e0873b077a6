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
	"sync/atomic"
	"unsafe"
)

// Segment memory layout. One segment holds a fixed header followed by two
// 64-byte-aligned ring regions. Every ring region is a 12-byte ring header
// (write index, read index, signal counter, all little-endian on every
// supported platform) followed by the data area. Indices are byte offsets
// into the data area, always in [0, dataSize); the region wraps by modular
// arithmetic, so dataSize does not have to be a power of two.
const (
	// SegmentMagic identifies a termbridge segment. Eight bytes at offset 0.
	SegmentMagic = "TERMBRG\x00"

	// SegmentVersion is bumped on any incompatible layout change.
	SegmentVersion = uint32(1)

	// SegmentHeaderSize is the fixed size of the segment header. The first
	// ring region starts here (already 64-byte aligned).
	SegmentHeaderSize = 128

	// RingHeaderSize is the control header at the front of each ring region.
	RingHeaderSize = 12

	ringAlign = 64

	// DefaultOutputDataSize and DefaultInputDataSize size the two data
	// areas. Output is generous because program output is bursty; input
	// only carries 4-byte key packets. Both are tunable per segment.
	DefaultOutputDataSize = 64 * 1024
	DefaultInputDataSize  = 4 * 1024

	// MinRingDataSize bounds segment ring sizes from below. The ring
	// primitive itself works with any data area of at least two bytes
	// (one byte always stays unused to distinguish full from empty), but
	// shared segments have no reason to be degenerate.
	MinRingDataSize = 4096

	// MaxRingDataSize is a sanity bound on a single data area.
	MaxRingDataSize = 1 << 30
)

// Ring header field offsets within a ring region.
const (
	offWriteIndex = 0
	offReadIndex  = 4
	offSignal     = 8
)

// Segment header field offsets.
const (
	segOffMagic        = 0x00 // [8]byte
	segOffVersion      = 0x08 // uint32
	segOffTotalSize    = 0x10 // uint64
	segOffOutOffset    = 0x18 // uint64
	segOffOutDataSize  = 0x20 // uint64
	segOffInOffset     = 0x28 // uint64
	segOffInDataSize   = 0x30 // uint64
	segOffHostPID      = 0x38 // uint32
	segOffWorkerPID    = 0x3C // uint32
	segOffHostReady    = 0x40 // uint32
	segOffWorkerReady  = 0x44 // uint32
	segOffState        = 0x48 // uint32
	segOffCancel       = 0x4C // uint32
	segOffDroppedOut   = 0x50 // uint64
	// 0x58..0x7F reserved.
)

// alignUp64 rounds size up to the next 64-byte boundary.
func alignUp64(size uint64) uint64 {
	return (size + 63) &^ 63
}

// SegmentLayout is the computed placement of the two rings in a segment.
type SegmentLayout struct {
	TotalSize    uint64
	OutOffset    uint64
	OutDataSize  uint64
	InOffset     uint64
	InDataSize   uint64
}

// CalculateSegmentLayout validates the requested data sizes and computes
// where each ring region lives. Regions are 64-byte aligned so ring headers
// on either side never share a cache line.
func CalculateSegmentLayout(outDataSize, inDataSize uint64) (SegmentLayout, error) {
	for _, ds := range []uint64{outDataSize, inDataSize} {
		if ds < MinRingDataSize {
			return SegmentLayout{}, fmt.Errorf("ring data size %d below minimum %d", ds, MinRingDataSize)
		}
		if ds > MaxRingDataSize {
			return SegmentLayout{}, fmt.Errorf("ring data size %d exceeds maximum %d", ds, MaxRingDataSize)
		}
	}

	outOff := alignUp64(SegmentHeaderSize)
	inOff := alignUp64(outOff + RingHeaderSize + outDataSize)
	total := alignUp64(inOff + RingHeaderSize + inDataSize)

	return SegmentLayout{
		TotalSize:   total,
		OutOffset:   outOff,
		OutDataSize: outDataSize,
		InOffset:    inOff,
		InDataSize:  inDataSize,
	}, nil
}

// segView provides typed, atomic access to the segment header fields. All
// unsafe pointer construction in this package lives in segView and ringView;
// everything else goes through their accessors. Constructing a view checks
// alignment once, and every field pointer is derived from a bounds-checked
// slice index, so a short or misaligned mapping fails loudly instead of
// corrupting memory.
type segView struct {
	mem []byte
}

func newSegView(mem []byte) (segView, error) {
	if len(mem) < SegmentHeaderSize {
		return segView{}, fmt.Errorf("segment memory %d bytes, need at least %d", len(mem), SegmentHeaderSize)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%8 != 0 {
		return segView{}, fmt.Errorf("segment memory not 8-byte aligned")
	}
	return segView{mem: mem}, nil
}

func (v segView) u32(off int) *uint32 {
	_ = v.mem[off+3] // bounds check the full field
	return (*uint32)(unsafe.Pointer(&v.mem[off]))
}

func (v segView) u64(off int) *uint64 {
	_ = v.mem[off+7]
	return (*uint64)(unsafe.Pointer(&v.mem[off]))
}

func (v segView) Magic() [8]byte {
	var m [8]byte
	copy(m[:], v.mem[segOffMagic:segOffMagic+8])
	return m
}

func (v segView) SetMagic(m string) {
	copy(v.mem[segOffMagic:segOffMagic+8], m)
}

func (v segView) Version() uint32       { return atomic.LoadUint32(v.u32(segOffVersion)) }
func (v segView) SetVersion(ver uint32) { atomic.StoreUint32(v.u32(segOffVersion), ver) }

func (v segView) TotalSize() uint64     { return atomic.LoadUint64(v.u64(segOffTotalSize)) }
func (v segView) SetTotalSize(n uint64) { atomic.StoreUint64(v.u64(segOffTotalSize), n) }

func (v segView) OutOffset() uint64      { return atomic.LoadUint64(v.u64(segOffOutOffset)) }
func (v segView) SetOutOffset(n uint64)  { atomic.StoreUint64(v.u64(segOffOutOffset), n) }
func (v segView) OutDataSize() uint64    { return atomic.LoadUint64(v.u64(segOffOutDataSize)) }
func (v segView) SetOutDataSize(n uint64) { atomic.StoreUint64(v.u64(segOffOutDataSize), n) }

func (v segView) InOffset() uint64      { return atomic.LoadUint64(v.u64(segOffInOffset)) }
func (v segView) SetInOffset(n uint64)  { atomic.StoreUint64(v.u64(segOffInOffset), n) }
func (v segView) InDataSize() uint64    { return atomic.LoadUint64(v.u64(segOffInDataSize)) }
func (v segView) SetInDataSize(n uint64) { atomic.StoreUint64(v.u64(segOffInDataSize), n) }

func (v segView) HostPID() uint32        { return atomic.LoadUint32(v.u32(segOffHostPID)) }
func (v segView) SetHostPID(pid uint32)  { atomic.StoreUint32(v.u32(segOffHostPID), pid) }
func (v segView) WorkerPID() uint32      { return atomic.LoadUint32(v.u32(segOffWorkerPID)) }
func (v segView) SetWorkerPID(pid uint32) { atomic.StoreUint32(v.u32(segOffWorkerPID), pid) }

func (v segView) HostReady() bool   { return atomic.LoadUint32(v.u32(segOffHostReady)) != 0 }
func (v segView) SetHostReady()     { atomic.StoreUint32(v.u32(segOffHostReady), 1) }
func (v segView) WorkerReady() bool { return atomic.LoadUint32(v.u32(segOffWorkerReady)) != 0 }
func (v segView) SetWorkerReady()   { atomic.StoreUint32(v.u32(segOffWorkerReady), 1) }

func (v segView) State() ChannelState {
	return ChannelState(atomic.LoadUint32(v.u32(segOffState)))
}

func (v segView) SetState(s ChannelState) {
	atomic.StoreUint32(v.u32(segOffState), uint32(s))
}

func (v segView) CancelRequested() bool { return atomic.LoadUint32(v.u32(segOffCancel)) != 0 }

func (v segView) SetCancel(on bool) {
	var n uint32
	if on {
		n = 1
	}
	atomic.StoreUint32(v.u32(segOffCancel), n)
}

func (v segView) DroppedOutput() uint64 { return atomic.LoadUint64(v.u64(segOffDroppedOut)) }

func (v segView) AddDroppedOutput(n uint64) {
	atomic.AddUint64(v.u64(segOffDroppedOut), n)
}

func (v segView) ResetDroppedOutput() {
	atomic.StoreUint64(v.u64(segOffDroppedOut), 0)
}

// ringView provides atomic access to one ring region's header and a
// bounds-checked slice of its data area.
type ringView struct {
	mem      []byte
	off      int
	dataSize uint32
}

func newRingView(mem []byte, off int, dataSize uint32) (ringView, error) {
	if dataSize < 2 {
		return ringView{}, fmt.Errorf("ring data size %d too small, need at least 2", dataSize)
	}
	end := off + RingHeaderSize + int(dataSize)
	if off < 0 || end > len(mem) {
		return ringView{}, fmt.Errorf("ring region [%d, %d) outside memory of %d bytes", off, end, len(mem))
	}
	if uintptr(unsafe.Pointer(&mem[off]))%4 != 0 {
		return ringView{}, fmt.Errorf("ring region at offset %d not 4-byte aligned", off)
	}
	return ringView{mem: mem, off: off, dataSize: dataSize}, nil
}

func (v ringView) u32(rel int) *uint32 {
	off := v.off + rel
	_ = v.mem[off+3]
	return (*uint32)(unsafe.Pointer(&v.mem[off]))
}

func (v ringView) loadWriteIndex() uint32   { return atomic.LoadUint32(v.u32(offWriteIndex)) }
func (v ringView) storeWriteIndex(n uint32) { atomic.StoreUint32(v.u32(offWriteIndex), n) }
func (v ringView) loadReadIndex() uint32    { return atomic.LoadUint32(v.u32(offReadIndex)) }
func (v ringView) storeReadIndex(n uint32)  { atomic.StoreUint32(v.u32(offReadIndex), n) }

func (v ringView) signal() uint32       { return atomic.LoadUint32(v.u32(offSignal)) }
func (v ringView) addSignal(n uint32)   { atomic.AddUint32(v.u32(offSignal), n) }
func (v ringView) storeSignal(n uint32) { atomic.StoreUint32(v.u32(offSignal), n) }

// signalAddr exposes the signal word for the platform wait primitive.
func (v ringView) signalAddr() *uint32 { return v.u32(offSignal) }

func (v ringView) data() []byte {
	start := v.off + RingHeaderSize
	return v.mem[start : start+int(v.dataSize)]
}

// alignedBytes allocates a zeroed n-byte slice whose base address is 8-byte
// aligned, matching what the atomic header accessors require. Used for
// in-process segments; mapped files are page aligned already.
func alignedBytes(n int) []byte {
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}
