package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
)

// ManifestEntry is the persisted bookkeeping for one file held by a DiskStorage.
type ManifestEntry struct {
	Name         string   `json:"name"`
	IntendedSize uint64   `json:"intended_size"`
	ActualSize   uint64   `json:"actual_size"`
	SegmentSize  int      `json:"segment_size"`
	Indices      []uint64 `json:"indices"`
	UpdatedAt    string   `json:"updated_at"` // RFC3339 timestamp
}

// ManifestIndex is a file-backed map from file name to ManifestEntry.
// It lives at <rootDir>/manifest_index.json.
type ManifestIndex struct {
	path    string
	clock   clock.Clock
	mu      sync.Mutex
	entries map[string]ManifestEntry
}

// NewManifestIndex loads (or creates) the index under rootDir.
func NewManifestIndex(rootDir string, clk clock.Clock) *ManifestIndex {
	if clk == nil {
		clk = clock.New()
	}
	idx := &ManifestIndex{
		path:    filepath.Join(rootDir, "manifest_index.json"),
		clock:   clk,
		entries: make(map[string]ManifestEntry),
	}
	idx.load()
	return idx
}

// Put records entry and persists the whole index.
func (idx *ManifestIndex) Put(entry ManifestEntry) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry.UpdatedAt = idx.clock.Now().UTC().Format(time.RFC3339)
	idx.entries[entry.Name] = entry
	return idx.save()
}

func (idx *ManifestIndex) Get(name string) (ManifestEntry, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	e, ok := idx.entries[name]
	return e, ok
}

// List returns all entries sorted by name.
func (idx *ManifestIndex) List() []ManifestEntry {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	result := make([]ManifestEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// reset forgets every entry in memory. The file itself is left alone.
func (idx *ManifestIndex) reset() {
	idx.mu.Lock()
	idx.entries = make(map[string]ManifestEntry)
	idx.mu.Unlock()
}

// load is a no-op when the file is missing or corrupted; the next Put overwrites it.
func (idx *ManifestIndex) load() {
	data, err := os.ReadFile(idx.path)
	if err != nil {
		return
	}

	var entries []ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	for _, e := range entries {
		idx.entries[e.Name] = e
	}
}

func (idx *ManifestIndex) save() error {
	entries := make([]ManifestEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		entries = append(entries, e)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(idx.path), 0755); err != nil {
		return err
	}
	tmp := idx.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, idx.path)
}
