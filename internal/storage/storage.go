package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnknownFile     = errors.New("unknown file")
	ErrSegmentNotFound = errors.New("segment not found")
	ErrSizeMismatch    = errors.New("file already registered with a different size")
	// ErrSegmentOutOfRange and ErrSegmentLength mean the segment was cut for
	// a different file layout, usually a peer with another segment size.
	ErrSegmentOutOfRange = errors.New("segment index out of range")
	ErrSegmentLength     = errors.New("segment has the wrong length")
)

// Storage holds every ManagedFile of a peer. One instance is shared by all
// listener and client sessions, so implementations must be safe for
// concurrent use. Completeness must be monotonic: once IsComplete reports
// true for a name it keeps doing so.
type Storage interface {
	// CreateEmptyFile registers a placeholder. Registering an existing name
	// with the same size is a no-op; a different size fails with ErrSizeMismatch.
	CreateEmptyFile(name string, size uint64) error
	// PutFile registers a complete local file, replacing any previous entry.
	PutFile(name string, data []byte) error
	// AddSegment inserts seg unless its index is already held. A segment that
	// does not match the file's layout fails with ErrSegmentOutOfRange or
	// ErrSegmentLength and leaves the file untouched.
	AddSegment(name string, seg Segment) error
	// IsComplete never errors; unknown names are simply incomplete.
	IsComplete(name string) bool
	FileSize(name string) (uint64, bool)
	SegmentNumbers(name string) ([]uint64, bool)
	Segment(name string, index uint64) (Segment, error)
	// Materialize concatenates held segments in index order. Callers should
	// only rely on the result after IsComplete returned true.
	Materialize(name string) ([]byte, error)
	// ResolvePath is where a completed download of name gets written.
	ResolvePath(name string) string
	// Files lists every registered name.
	Files() []string
	SegmentSize() int
}

// LoadDir registers every regular file directly under dir.
func LoadDir(st Storage, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return loaded, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		if err := st.PutFile(e.Name(), data); err != nil {
			return loaded, fmt.Errorf("failed to register %s: %w", e.Name(), err)
		}
		loaded++
	}
	return loaded, nil
}

// outputPath keeps remote-supplied names inside folder.
func outputPath(folder, name string) string {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == ".." {
		base = "_"
	}
	return filepath.Join(folder, base)
}
