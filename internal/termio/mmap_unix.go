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

//go:build unix

package termio

import (
	"fmt"
	"os"
	"syscall"
)

func init() {
	unmapMemory = syscall.Munmap
}

// CreateSegment creates and maps a new file-backed segment at path. The
// file must not already exist. The creating process is the host side: the
// header is stamped with its PID and host-ready flag, so a worker polling
// WaitForHost sees it as soon as the mapping is live.
func CreateSegment(path string, outDataSize, inDataSize uint64) (*Segment, error) {
	layout, err := CalculateSegmentLayout(outDataSize, inDataSize)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create segment file: %w", err)
	}
	if err := file.Truncate(int64(layout.TotalSize)); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("size segment file: %w", err)
	}

	mem, err := syscall.Mmap(int(file.Fd()), 0, int(layout.TotalSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("map segment: %w", err)
	}

	view, err := newSegView(mem)
	if err != nil {
		syscall.Munmap(mem)
		file.Close()
		os.Remove(path)
		return nil, err
	}
	initSegmentHeader(view, layout)
	view.SetHostPID(uint32(os.Getpid()))
	view.SetHostReady()

	seg, err := newSegment(mem, file, path)
	if err != nil {
		syscall.Munmap(mem)
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return seg, nil
}

// OpenSegment maps an existing segment file and validates its header. It
// claims no role: a worker announces itself by constructing its Channel,
// and diagnostic tools can open, inspect, and close a segment without
// disturbing the handshake.
func OpenSegment(path string) (*Segment, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open segment file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat segment file: %w", err)
	}
	size := info.Size()
	if size < SegmentHeaderSize {
		file.Close()
		return nil, fmt.Errorf("segment file %d bytes, need at least %d", size, SegmentHeaderSize)
	}

	mem, err := syscall.Mmap(int(file.Fd()), 0, int(size),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("map segment: %w", err)
	}

	seg, err := newSegment(mem, file, path)
	if err != nil {
		syscall.Munmap(mem)
		file.Close()
		return nil, err
	}
	return seg, nil
}

// DefaultSegmentDir returns where segment files live: /dev/shm when the
// kernel provides it (mappings there never touch disk), the system temp
// directory otherwise.
func DefaultSegmentDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
