package storage

import (
	"bytes"
	"crypto/rand"
	"math"
	"testing"
)

func TestChunkSmallFile(t *testing.T) {
	// small file, should produce exactly 1 segment
	data := []byte("hello, chunker!")
	segments := Chunk(data, DefaultSegmentSize)

	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].Index != 0 {
		t.Fatalf("expected index 0, got %d", segments[0].Index)
	}
	if !bytes.Equal(data, segments[0].Data) {
		t.Fatalf("data mismatch: got %q, want %q", segments[0].Data, data)
	}
}

func TestChunkMultipleSegments(t *testing.T) {
	segmentSize := 1024
	data := make([]byte, 5000) // 4x1024 + 1x904
	rand.Read(data)

	segments := Chunk(data, segmentSize)
	if len(segments) != 5 {
		t.Fatalf("expected 5 segments, got %d", len(segments))
	}

	var total uint64
	var reassembled bytes.Buffer
	for i, s := range segments {
		if s.Index != uint64(i) {
			t.Fatalf("segment %d has index %d", i, s.Index)
		}
		total += s.Len()
		reassembled.Write(s.Data)
	}
	if total != 5000 {
		t.Fatalf("total size mismatch: got %d, want 5000", total)
	}
	if segments[4].Len() != 904 {
		t.Fatalf("last segment: expected 904 bytes, got %d", segments[4].Len())
	}
	if !bytes.Equal(data, reassembled.Bytes()) {
		t.Fatal("reassembled data doesn't match original")
	}
}

func TestChunkExactBoundary(t *testing.T) {
	segmentSize := 512
	data := make([]byte, segmentSize*2)
	rand.Read(data)

	segments := Chunk(data, segmentSize)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	for i, s := range segments {
		if s.Len() != uint64(segmentSize) {
			t.Fatalf("segment %d: expected size %d, got %d", i, segmentSize, s.Len())
		}
	}
}

func TestChunkEmptyInput(t *testing.T) {
	segments := Chunk(nil, DefaultSegmentSize)
	if len(segments) != 0 {
		t.Fatalf("expected 0 segments for empty input, got %d", len(segments))
	}
}

func TestChunkDoesNotAlias(t *testing.T) {
	data := []byte("abcdef")
	segments := Chunk(data, 4)
	data[0] = 'z'
	if segments[0].Data[0] != 'a' {
		t.Fatal("segment data aliases the input buffer")
	}
}

func TestSegmentCount(t *testing.T) {
	cases := []struct {
		size uint64
		want uint64
	}{
		{0, 0},
		{1, 1},
		{DefaultSegmentSize - 1, 1},
		{DefaultSegmentSize, 1},
		{DefaultSegmentSize + 1, 2},
		{600 * 1024, 3},
		// must not wrap around
		{math.MaxUint64, math.MaxUint64/DefaultSegmentSize + 1},
	}
	for _, c := range cases {
		if got := SegmentCount(c.size, DefaultSegmentSize); got != c.want {
			t.Errorf("SegmentCount(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}
