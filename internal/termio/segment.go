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
	"os"
)

// Segment is one bridge's shared memory region: the header plus the output
// and input rings. A file-backed segment (CreateSegment/OpenSegment) is
// shared between the host and worker processes; an in-process segment
// (NewLocalSegment) backs the same structures with ordinary memory for
// tests and single-process use.
type Segment struct {
	mem  []byte
	file *os.File
	path string

	hdr SegmentLayout
	view segView
	out *Ring
	in  *Ring
}

// unmapMemory releases a file-backed mapping. Set by the platform mmap
// implementation; in-process segments never need it.
var unmapMemory = func(mem []byte) error { return ErrUnsupported }

// NewLocalSegment builds a segment in ordinary process memory. Both roles
// then live in one process, which is how the test suites and the in-process
// runner drive the bridge.
func NewLocalSegment(outDataSize, inDataSize uint64) (*Segment, error) {
	layout, err := CalculateSegmentLayout(outDataSize, inDataSize)
	if err != nil {
		return nil, err
	}
	mem := alignedBytes(int(layout.TotalSize))
	view, err := newSegView(mem)
	if err != nil {
		return nil, err
	}
	initSegmentHeader(view, layout)
	view.SetHostPID(uint32(os.Getpid()))
	view.SetHostReady()
	return newSegment(mem, nil, "")
}

// initSegmentHeader stamps a fresh header onto zeroed memory.
func initSegmentHeader(view segView, layout SegmentLayout) {
	view.SetMagic(SegmentMagic)
	view.SetVersion(SegmentVersion)
	view.SetTotalSize(layout.TotalSize)
	view.SetOutOffset(layout.OutOffset)
	view.SetOutDataSize(layout.OutDataSize)
	view.SetInOffset(layout.InOffset)
	view.SetInDataSize(layout.InDataSize)
	view.SetState(StateIdle)
	view.SetCancel(false)
	view.ResetDroppedOutput()
}

// newSegment wraps memory holding an initialized header into a Segment,
// validating the header against the mapping before trusting any offset in
// it.
func newSegment(mem []byte, file *os.File, path string) (*Segment, error) {
	view, err := newSegView(mem)
	if err != nil {
		return nil, err
	}
	layout, err := validateSegmentHeader(view, len(mem))
	if err != nil {
		return nil, err
	}
	outView, err := newRingView(mem, int(layout.OutOffset), uint32(layout.OutDataSize))
	if err != nil {
		return nil, err
	}
	inView, err := newRingView(mem, int(layout.InOffset), uint32(layout.InDataSize))
	if err != nil {
		return nil, err
	}
	return &Segment{
		mem:  mem,
		file: file,
		path: path,
		hdr:  layout,
		view: view,
		out:  ringFromView(outView),
		in:   ringFromView(inView),
	}, nil
}

// validateSegmentHeader checks magic, version, and that the recorded layout
// is internally consistent and fits the mapping. Offsets are recomputed from
// the recorded data sizes and must match what the header claims, so a
// corrupt or truncated header is rejected before any ring is touched.
func validateSegmentHeader(view segView, memLen int) (SegmentLayout, error) {
	magic := view.Magic()
	if string(magic[:]) != SegmentMagic {
		return SegmentLayout{}, fmt.Errorf("bad segment magic %q", magic)
	}
	if v := view.Version(); v != SegmentVersion {
		return SegmentLayout{}, fmt.Errorf("segment version %d, want %d", v, SegmentVersion)
	}
	if total := view.TotalSize(); total != uint64(memLen) {
		return SegmentLayout{}, fmt.Errorf("segment records %d bytes, mapping is %d", total, memLen)
	}

	layout, err := CalculateSegmentLayout(view.OutDataSize(), view.InDataSize())
	if err != nil {
		return SegmentLayout{}, err
	}
	if layout.TotalSize != view.TotalSize() ||
		layout.OutOffset != view.OutOffset() ||
		layout.InOffset != view.InOffset() {
		return SegmentLayout{}, fmt.Errorf("segment layout inconsistent with recorded ring sizes")
	}
	return layout, nil
}

// OutRing is the worker-to-host output ring.
func (s *Segment) OutRing() *Ring { return s.out }

// InRing is the host-to-worker input ring.
func (s *Segment) InRing() *Ring { return s.in }

// Path is the backing file path, empty for in-process segments.
func (s *Segment) Path() string { return s.path }

// TotalSize is the full size of the mapped region in bytes.
func (s *Segment) TotalSize() uint64 { return s.hdr.TotalSize }

// Layout returns the computed placement of the rings.
func (s *Segment) Layout() SegmentLayout { return s.hdr }

// Close releases the mapping and the backing file handle. The rings must be
// quiesced first; using any ring or channel over this segment after Close
// is invalid. The backing file itself survives for the other side; remove
// it with Unlink when the bridge is torn down.
func (s *Segment) Close() error {
	if s.mem == nil {
		return nil
	}
	var err error
	if s.file != nil {
		if e := unmapMemory(s.mem); e != nil {
			err = e
		}
		if e := s.file.Close(); e != nil && err == nil {
			err = e
		}
		s.file = nil
	}
	s.mem = nil
	return err
}

// Unlink removes the backing file. A no-op for in-process segments.
func (s *Segment) Unlink() error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
