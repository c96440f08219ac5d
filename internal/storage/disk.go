package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/andres-erbsen/clock"
)

// ManifestFlushInterval is how many inserted segments a file may run ahead
// of its manifest entry before the entry is rewritten.
const ManifestFlushInterval = 64

// DiskStorage keeps segment bytes in a CAS tree and file bookkeeping in a
// ManifestIndex, so a partially downloaded file survives a restart.
// Segments inserted since the last flush are lost to the bookkeeping on a
// crash and simply fetched again.
type DiskStorage struct {
	Folder string

	segmentSize int
	cas         *CASStore
	index       *ManifestIndex

	mu       sync.RWMutex
	files    map[string]*ManagedFile
	unsynced map[string]int // inserts not yet in the manifest
}

type DiskStorageOptions struct {
	RootDir     string // CAS tree and manifest index
	Folder      string // where completed downloads are written
	SegmentSize int
	Clock       clock.Clock
}

// NewDiskStorage opens (or creates) the store at opts.RootDir and reloads
// every file recorded in its manifest index.
func NewDiskStorage(opts DiskStorageOptions) (*DiskStorage, error) {
	if opts.SegmentSize <= 0 {
		opts.SegmentSize = DefaultSegmentSize
	}
	d := &DiskStorage{
		Folder:      opts.Folder,
		segmentSize: opts.SegmentSize,
		cas:         NewCASStore(opts.RootDir),
		index:       NewManifestIndex(opts.RootDir, opts.Clock),
		files:       make(map[string]*ManagedFile),
		unsynced:    make(map[string]int),
	}

	for _, e := range d.index.List() {
		if e.SegmentSize != d.segmentSize {
			return nil, fmt.Errorf("%s was stored with segment size %d, configured %d", e.Name, e.SegmentSize, d.segmentSize)
		}
		f := NewEmptyFile(e.Name, e.IntendedSize, d.segmentSize)
		for _, i := range e.Indices {
			// blobs are written atomically, so a present one has the right length
			if i < f.ExpectedSegments() && d.cas.Has(segmentKey(e.Name, i)) {
				f.track(i, f.segmentLen(i))
			}
		}
		d.files[e.Name] = f
	}
	return d, nil
}

func (d *DiskStorage) SegmentSize() int {
	return d.segmentSize
}

func (d *DiskStorage) CreateEmptyFile(name string, size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if f, ok := d.files[name]; ok {
		if f.IntendedSize != size {
			return fmt.Errorf("%s: have %d bytes, got %d: %w", name, f.IntendedSize, size, ErrSizeMismatch)
		}
		return nil
	}
	f := NewEmptyFile(name, size, d.segmentSize)
	if err := d.persist(f); err != nil {
		return err
	}
	d.files[name] = f
	return nil
}

func (d *DiskStorage) PutFile(name string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f := NewEmptyFile(name, uint64(len(data)), d.segmentSize)
	for _, seg := range Chunk(data, d.segmentSize) {
		if _, err := d.cas.WriteRaw(segmentKey(name, seg.Index), seg.Data); err != nil {
			return fmt.Errorf("segment %d write error: %w", seg.Index, err)
		}
		f.track(seg.Index, seg.Len())
	}
	// a shorter replacement leaves the old tail behind otherwise
	if old, ok := d.files[name]; ok {
		for _, i := range old.Indices() {
			if i >= f.ExpectedSegments() {
				if err := d.cas.Delete(segmentKey(name, i)); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("segment %d delete error: %w", i, err)
				}
			}
		}
	}
	if err := d.persist(f); err != nil {
		return err
	}
	d.files[name] = f
	return nil
}

func (d *DiskStorage) AddSegment(name string, seg Segment) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.files[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownFile)
	}
	if f.Has(seg.Index) {
		return nil
	}
	if err := f.check(seg); err != nil {
		return err
	}
	// bytes hit the disk before the index claims them
	if _, err := d.cas.WriteRaw(segmentKey(name, seg.Index), seg.Data); err != nil {
		return fmt.Errorf("segment %d write error: %w", seg.Index, err)
	}
	f.track(seg.Index, seg.Len())

	d.unsynced[name]++
	if d.unsynced[name] >= ManifestFlushInterval || f.IsComplete() {
		return d.persist(f)
	}
	return nil
}

// Flush writes the manifest entry of every file with unrecorded segments.
func (d *DiskStorage) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for name := range d.unsynced {
		if err := d.persist(d.files[name]); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the manifest. The storage stays usable.
func (d *DiskStorage) Close() error {
	return d.Flush()
}

func (d *DiskStorage) IsComplete(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.files[name]
	return ok && f.IsComplete()
}

func (d *DiskStorage) FileSize(name string) (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.files[name]
	if !ok {
		return 0, false
	}
	return f.IntendedSize, true
}

func (d *DiskStorage) SegmentNumbers(name string) ([]uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.files[name]
	if !ok {
		return nil, false
	}
	return f.Indices(), true
}

func (d *DiskStorage) Segment(name string, index uint64) (Segment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.files[name]
	if !ok {
		return Segment{}, fmt.Errorf("%s: %w", name, ErrUnknownFile)
	}
	if !f.Has(index) {
		return Segment{}, fmt.Errorf("%s[%d]: %w", name, index, ErrSegmentNotFound)
	}
	data, err := d.cas.ReadRaw(segmentKey(name, index))
	if err != nil {
		return Segment{}, err
	}
	return Segment{Index: index, Data: data}, nil
}

func (d *DiskStorage) Materialize(name string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownFile)
	}
	out := make([]byte, 0, f.ActualSize)
	for _, index := range f.Indices() {
		data, err := d.cas.ReadRaw(segmentKey(name, index))
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

func (d *DiskStorage) ResolvePath(name string) string {
	return outputPath(d.Folder, name)
}

func (d *DiskStorage) Files() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.files))
	for name := range d.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wipe removes the CAS tree and the manifest index.
func (d *DiskStorage) Wipe() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.files = make(map[string]*ManagedFile)
	d.unsynced = make(map[string]int)
	d.index.reset()
	return d.cas.Wipe()
}

// persist must be called with d.mu held.
func (d *DiskStorage) persist(f *ManagedFile) error {
	delete(d.unsynced, f.Name)
	return d.index.Put(ManifestEntry{
		Name:         f.Name,
		IntendedSize: f.IntendedSize,
		ActualSize:   f.ActualSize,
		SegmentSize:  d.segmentSize,
		Indices:      f.Indices(),
	})
}
