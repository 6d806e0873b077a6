//go:build !unix

package termio

import "os"

// File-backed segments need mmap; only in-process segments work here.

func CreateSegment(path string, outDataSize, inDataSize uint64) (*Segment, error) {
	return nil, ErrUnsupported
}

func OpenSegment(path string) (*Segment, error) {
	return nil, ErrUnsupported
}

func DefaultSegmentDir() string { return os.TempDir() }
