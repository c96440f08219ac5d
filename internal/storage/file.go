package storage

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// ManagedFile is the local record of one named file: the segments held so far,
// the size the file is supposed to have, and the bytes accumulated.
// It is not safe for concurrent use; the owning Storage serialises access.
type ManagedFile struct {
	Name         string
	IntendedSize uint64
	ActualSize   uint64

	segmentSize int
	segments    map[uint64]Segment
	held        *roaring64.Bitmap
}

// NewManagedFile segments data and returns a complete file.
func NewManagedFile(name string, data []byte, segmentSize int) *ManagedFile {
	f := NewEmptyFile(name, uint64(len(data)), segmentSize)
	for _, seg := range Chunk(data, f.segmentSize) {
		f.AddSegment(seg)
	}
	return f
}

// NewEmptyFile returns a placeholder with no segments.
func NewEmptyFile(name string, size uint64, segmentSize int) *ManagedFile {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	return &ManagedFile{
		Name:         name,
		IntendedSize: size,
		segmentSize:  segmentSize,
		segments:     make(map[uint64]Segment),
		held:         roaring64.New(),
	}
}

// AddSegment inserts seg unless its index is already present (first writer wins).
// It reports whether the segment was inserted. A segment that does not fit the
// file's layout is rejected, so a complete file stays complete.
func (f *ManagedFile) AddSegment(seg Segment) (bool, error) {
	if f.held.Contains(seg.Index) {
		return false, nil
	}
	if err := f.check(seg); err != nil {
		return false, err
	}
	f.track(seg.Index, seg.Len())
	f.segments[seg.Index] = seg
	return true, nil
}

// check requires index < ExpectedSegments and the exact length the chunker
// produces for that index.
func (f *ManagedFile) check(seg Segment) error {
	expected := f.ExpectedSegments()
	if seg.Index >= expected {
		return fmt.Errorf("%s: index %d, file has %d segments: %w", f.Name, seg.Index, expected, ErrSegmentOutOfRange)
	}
	if want := f.segmentLen(seg.Index); seg.Len() != want {
		return fmt.Errorf("%s[%d]: %d bytes, want %d: %w", f.Name, seg.Index, seg.Len(), want, ErrSegmentLength)
	}
	return nil
}

// segmentLen is the length of the segment at index; only the last one is short.
func (f *ManagedFile) segmentLen(index uint64) uint64 {
	n := uint64(f.segmentSize)
	if index == f.ExpectedSegments()-1 {
		if rem := f.IntendedSize % n; rem != 0 {
			return rem
		}
	}
	return n
}

// track marks index as held without keeping its bytes. Disk-backed storage
// keeps the bytes elsewhere. Callers check the segment first.
func (f *ManagedFile) track(index, n uint64) bool {
	if f.held.Contains(index) {
		return false
	}
	f.held.Add(index)
	f.ActualSize += n
	return true
}

// Has reports whether the segment at index is held.
func (f *ManagedFile) Has(index uint64) bool {
	return f.held.Contains(index)
}

// Segment returns the held segment at index.
func (f *ManagedFile) Segment(index uint64) (Segment, bool) {
	seg, ok := f.segments[index]
	return seg, ok
}

// Indices returns the held indices in ascending order.
func (f *ManagedFile) Indices() []uint64 {
	return f.held.ToArray()
}

// ExpectedSegments is ceil(IntendedSize / segmentSize).
func (f *ManagedFile) ExpectedSegments() uint64 {
	return SegmentCount(f.IntendedSize, f.segmentSize)
}

// IsComplete requires both the byte count and the index range [0, expected)
// to line up. Byte equality alone would accept segments cut on the wrong boundaries.
func (f *ManagedFile) IsComplete() bool {
	if f.ActualSize != f.IntendedSize {
		return false
	}
	if f.held.GetCardinality() != f.ExpectedSegments() {
		return false
	}
	for i, index := range f.held.ToArray() {
		if index != uint64(i) {
			return false
		}
	}
	return true
}

// Bytes concatenates the held segments in index order. Gaps are skipped, so
// the result is only meaningful once IsComplete is true.
func (f *ManagedFile) Bytes() []byte {
	out := make([]byte, 0, f.ActualSize)
	it := f.held.Iterator()
	for it.HasNext() {
		out = append(out, f.segments[it.Next()].Data...)
	}
	return out
}
