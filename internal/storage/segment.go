package storage

import (
	"bytes"
	"fmt"
	"io"
)

// 256KB per segment. Every peer must agree on this value: segments are
// addressed by index on the wire, never by byte offset.
const DefaultSegmentSize = 256 * 1024

// Segment is one fixed-size slice of a file. Only the last segment of a
// file may be shorter than the segment size.
type Segment struct {
	Index uint64
	Data  []byte
}

// Len returns the number of bytes the segment carries.
func (s Segment) Len() uint64 {
	return uint64(len(s.Data))
}

// SegmentCount returns how many segments a file of the given size splits into.
func SegmentCount(size uint64, segmentSize int) uint64 {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	n := uint64(segmentSize)
	count := size / n
	if size%n != 0 {
		count++
	}
	return count
}

// ChunkReader reads src in segmentSize pieces and returns them in order,
// indexed from 0. Empty input yields no segments.
func ChunkReader(src io.Reader, segmentSize int) ([]Segment, error) {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}

	var segments []Segment
	var index uint64

	for {
		buf := make([]byte, segmentSize)
		n, err := io.ReadFull(src, buf)
		if n == 0 {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("segment %d read error: %w", index, err)
			}
			break
		}

		segments = append(segments, Segment{Index: index, Data: buf[:n:n]})
		index++

		// a short read means we hit EOF mid-segment, so this was the last one
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("segment %d read error: %w", index, err)
		}
	}

	return segments, nil
}

// Chunk splits data into segments. The returned segments never alias data.
func Chunk(data []byte, segmentSize int) []Segment {
	// reading from memory can't fail
	segments, _ := ChunkReader(bytes.NewReader(data), segmentSize)
	return segments
}
