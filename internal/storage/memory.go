package storage

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStorage keeps every segment in RAM. Completed downloads resolve to
// files inside Folder.
type MemoryStorage struct {
	Folder string

	segmentSize int
	mu          sync.RWMutex
	files       map[string]*ManagedFile
}

func NewMemoryStorage(folder string, segmentSize int) *MemoryStorage {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	return &MemoryStorage{
		Folder:      folder,
		segmentSize: segmentSize,
		files:       make(map[string]*ManagedFile),
	}
}

func (m *MemoryStorage) SegmentSize() int {
	return m.segmentSize
}

func (m *MemoryStorage) CreateEmptyFile(name string, size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.files[name]; ok {
		if f.IntendedSize != size {
			return fmt.Errorf("%s: have %d bytes, got %d: %w", name, f.IntendedSize, size, ErrSizeMismatch)
		}
		return nil
	}
	m.files[name] = NewEmptyFile(name, size, m.segmentSize)
	return nil
}

func (m *MemoryStorage) PutFile(name string, data []byte) error {
	f := NewManagedFile(name, data, m.segmentSize)

	m.mu.Lock()
	m.files[name] = f
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) AddSegment(name string, seg Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownFile)
	}
	_, err := f.AddSegment(seg)
	return err
}

func (m *MemoryStorage) IsComplete(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[name]
	return ok && f.IsComplete()
}

func (m *MemoryStorage) FileSize(name string) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[name]
	if !ok {
		return 0, false
	}
	return f.IntendedSize, true
}

func (m *MemoryStorage) SegmentNumbers(name string) ([]uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[name]
	if !ok {
		return nil, false
	}
	return f.Indices(), true
}

func (m *MemoryStorage) Segment(name string, index uint64) (Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[name]
	if !ok {
		return Segment{}, fmt.Errorf("%s: %w", name, ErrUnknownFile)
	}
	seg, ok := f.Segment(index)
	if !ok {
		return Segment{}, fmt.Errorf("%s[%d]: %w", name, index, ErrSegmentNotFound)
	}
	return seg, nil
}

func (m *MemoryStorage) Materialize(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownFile)
	}
	return f.Bytes(), nil
}

func (m *MemoryStorage) ResolvePath(name string) string {
	return outputPath(m.Folder, name)
}

func (m *MemoryStorage) Files() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
