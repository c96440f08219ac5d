package storage

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func TestManagedFileIdempotentInsert(t *testing.T) {
	f := NewEmptyFile("a.bin", 10, 4)
	seg := Segment{Index: 1, Data: []byte("abcd")}

	if ok, err := f.AddSegment(seg); !ok || err != nil {
		t.Fatalf("first insert should succeed, got %v, %v", ok, err)
	}
	if ok, err := f.AddSegment(Segment{Index: 1, Data: []byte("zzzz")}); ok || err != nil {
		t.Fatalf("second insert with same index should be a no-op, got %v, %v", ok, err)
	}
	if f.ActualSize != 4 {
		t.Fatalf("expected actual size 4, got %d", f.ActualSize)
	}
	got, _ := f.Segment(1)
	if !bytes.Equal(got.Data, []byte("abcd")) {
		t.Fatalf("first writer should win, got %q", got.Data)
	}
	if len(f.Indices()) != 1 {
		t.Fatalf("expected 1 index, got %v", f.Indices())
	}
}

func TestManagedFileCompleteness(t *testing.T) {
	f := NewEmptyFile("a.bin", 10, 4)
	if f.IsComplete() {
		t.Fatal("empty placeholder must not be complete")
	}

	f.AddSegment(Segment{Index: 2, Data: []byte("ij")})
	f.AddSegment(Segment{Index: 0, Data: []byte("abcd")})
	if f.IsComplete() {
		t.Fatal("file with a gap must not be complete")
	}

	f.AddSegment(Segment{Index: 1, Data: []byte("efgh")})
	if !f.IsComplete() {
		t.Fatal("expected file to be complete")
	}
	if !bytes.Equal(f.Bytes(), []byte("abcdefghij")) {
		t.Fatalf("unexpected bytes %q", f.Bytes())
	}

	// monotonic: more inserts never undo completeness
	f.AddSegment(Segment{Index: 1, Data: []byte("zzzz")})
	if !f.IsComplete() {
		t.Fatal("completeness must be monotonic")
	}
}

func TestManagedFileWrongBoundaries(t *testing.T) {
	// cut with segment size 5 for a file laid out in 4-byte segments
	f := NewEmptyFile("a.bin", 10, 4)
	for _, seg := range []Segment{{Index: 0, Data: []byte("abcde")}, {Index: 1, Data: []byte("fghij")}} {
		if _, err := f.AddSegment(seg); !errors.Is(err, ErrSegmentLength) {
			t.Fatalf("segment %d: expected ErrSegmentLength, got %v", seg.Index, err)
		}
	}
	if f.ActualSize != 0 || len(f.Indices()) != 0 {
		t.Fatalf("rejected segments must leave no trace, got size %d indices %v", f.ActualSize, f.Indices())
	}
}

func TestManagedFileStaysComplete(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		seg  Segment
		want error
	}{
		{"index past the end", []byte("abcdefghij"), Segment{Index: 7, Data: []byte("zz")}, ErrSegmentOutOfRange},
		{"index one past the end", []byte("abcdefghij"), Segment{Index: 3, Data: []byte("zzzz")}, ErrSegmentOutOfRange},
		{"empty segment on zero-length file", nil, Segment{Index: 0}, ErrSegmentOutOfRange},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := NewManagedFile("f", c.data, 4)
			if !f.IsComplete() {
				t.Fatal("test setup: file should be complete")
			}
			if _, err := f.AddSegment(c.seg); !errors.Is(err, c.want) {
				t.Fatalf("expected %v, got %v", c.want, err)
			}
			if !f.IsComplete() {
				t.Fatal("completeness must be monotonic")
			}
		})
	}
}

func TestManagedFileSegmentLengths(t *testing.T) {
	f := NewEmptyFile("a.bin", 10, 4)
	// only the last segment may be short, and only by the remainder
	if _, err := f.AddSegment(Segment{Index: 2, Data: []byte("ijk")}); !errors.Is(err, ErrSegmentLength) {
		t.Fatalf("expected ErrSegmentLength for a long tail, got %v", err)
	}
	if _, err := f.AddSegment(Segment{Index: 0, Data: []byte("ab")}); !errors.Is(err, ErrSegmentLength) {
		t.Fatalf("expected ErrSegmentLength for a short head, got %v", err)
	}
	if _, err := f.AddSegment(Segment{Index: 2, Data: []byte("ij")}); err != nil {
		t.Fatalf("valid tail rejected: %v", err)
	}
}

func TestManagedFileZeroLength(t *testing.T) {
	f := NewEmptyFile("empty", 0, DefaultSegmentSize)
	if !f.IsComplete() {
		t.Fatal("zero-length file should be complete immediately")
	}
	if len(f.Bytes()) != 0 {
		t.Fatal("zero-length file should materialize to nothing")
	}
}

func TestManagedFileRoundTrip(t *testing.T) {
	segmentSize := 1024
	sizes := []int{0, 1, segmentSize - 1, segmentSize, segmentSize + 1, 10 * segmentSize}
	for _, size := range sizes {
		data := make([]byte, size)
		rand.Read(data)

		f := NewManagedFile("rt", data, segmentSize)
		if !f.IsComplete() {
			t.Fatalf("size %d: expected complete", size)
		}
		if !bytes.Equal(f.Bytes(), data) {
			t.Fatalf("size %d: round trip mismatch", size)
		}
	}
}

func TestManagedFileReverseOrder(t *testing.T) {
	segmentSize := 1024
	data := make([]byte, 5*segmentSize+17)
	rand.Read(data)
	segments := Chunk(data, segmentSize)

	forward := NewEmptyFile("f", uint64(len(data)), segmentSize)
	for _, s := range segments {
		forward.AddSegment(s)
	}
	reverse := NewEmptyFile("r", uint64(len(data)), segmentSize)
	for i := len(segments) - 1; i >= 0; i-- {
		reverse.AddSegment(segments[i])
	}

	if forward.IsComplete() != reverse.IsComplete() || !reverse.IsComplete() {
		t.Fatal("insertion order should not affect completeness")
	}
	if !bytes.Equal(forward.Bytes(), reverse.Bytes()) {
		t.Fatal("insertion order should not affect materialized bytes")
	}
}
