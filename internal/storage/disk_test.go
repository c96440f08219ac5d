package storage

import (
	"bytes"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
)

func TestDiskStorageResume(t *testing.T) {
	root := t.TempDir()
	opts := DiskStorageOptions{RootDir: root, Folder: t.TempDir(), SegmentSize: testSegmentSize}

	data := randomBytes(4*testSegmentSize + 10)
	segments := Chunk(data, testSegmentSize)

	st, err := NewDiskStorage(opts)
	if err != nil {
		t.Fatal(err)
	}
	st.CreateEmptyFile("big", uint64(len(data)))
	for _, seg := range segments[:3] {
		if err := st.AddSegment("big", seg); err != nil {
			t.Fatal(err)
		}
	}

	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	// reopen at the same root: the three segments are still there
	reopened, err := NewDiskStorage(opts)
	if err != nil {
		t.Fatal(err)
	}
	nums, ok := reopened.SegmentNumbers("big")
	if !ok || len(nums) != 3 {
		t.Fatalf("expected 3 resumed segments, got %v", nums)
	}
	if reopened.IsComplete("big") {
		t.Fatal("resumed file is not complete yet")
	}
	for _, seg := range segments[3:] {
		reopened.AddSegment("big", seg)
	}
	if !reopened.IsComplete("big") {
		t.Fatal("expected complete after the remaining segments")
	}
	got, err := reopened.Materialize("big")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("resumed materialize mismatch")
	}
}

func TestDiskStorageManifestBatching(t *testing.T) {
	root := t.TempDir()
	opts := DiskStorageOptions{RootDir: root, SegmentSize: testSegmentSize}
	data := randomBytes((ManifestFlushInterval + 10) * testSegmentSize)
	segments := Chunk(data, testSegmentSize)

	st, err := NewDiskStorage(opts)
	if err != nil {
		t.Fatal(err)
	}
	st.CreateEmptyFile("big", uint64(len(data)))
	for _, seg := range segments[:ManifestFlushInterval+5] {
		if err := st.AddSegment("big", seg); err != nil {
			t.Fatal(err)
		}
	}

	// no Close: only the flushed batch is on record
	e, _ := NewManifestIndex(root, nil).Get("big")
	if len(e.Indices) != ManifestFlushInterval {
		t.Fatalf("expected %d recorded indices, got %d", ManifestFlushInterval, len(e.Indices))
	}
	reopened, err := NewDiskStorage(opts)
	if err != nil {
		t.Fatal(err)
	}
	nums, _ := reopened.SegmentNumbers("big")
	if len(nums) != ManifestFlushInterval {
		t.Fatalf("expected %d resumed segments, got %d", ManifestFlushInterval, len(nums))
	}

	// completion is always recorded
	for _, seg := range segments {
		if err := st.AddSegment("big", seg); err != nil {
			t.Fatal(err)
		}
	}
	e, _ = NewManifestIndex(root, nil).Get("big")
	if uint64(len(e.Indices)) != SegmentCount(uint64(len(data)), testSegmentSize) {
		t.Fatalf("complete file should be fully recorded, got %d indices", len(e.Indices))
	}
}

func TestDiskStoragePutFileDropsOldTail(t *testing.T) {
	st, err := NewDiskStorage(DiskStorageOptions{RootDir: t.TempDir(), SegmentSize: testSegmentSize})
	if err != nil {
		t.Fatal(err)
	}
	st.PutFile("f", randomBytes(4*testSegmentSize))
	st.PutFile("f", randomBytes(testSegmentSize+1))

	for i := uint64(2); i < 4; i++ {
		if st.cas.Has(segmentKey("f", i)) {
			t.Fatalf("segment %d of the replaced file is still stored", i)
		}
	}
	if !st.cas.Has(segmentKey("f", 1)) {
		t.Fatal("segment 1 of the new file is missing")
	}
}

func TestDiskStorageRejectsBeforeWriting(t *testing.T) {
	st, err := NewDiskStorage(DiskStorageOptions{RootDir: t.TempDir(), SegmentSize: testSegmentSize})
	if err != nil {
		t.Fatal(err)
	}
	st.CreateEmptyFile("f", 2*testSegmentSize)
	if err := st.AddSegment("f", Segment{Index: 9, Data: []byte("x")}); err == nil {
		t.Fatal("expected an error for an out of range segment")
	}
	if st.cas.Has(segmentKey("f", 9)) {
		t.Fatal("a rejected segment must not reach the CAS")
	}
}

func TestDiskStorageSegmentSizeMismatch(t *testing.T) {
	root := t.TempDir()
	st, err := NewDiskStorage(DiskStorageOptions{RootDir: root, SegmentSize: testSegmentSize})
	if err != nil {
		t.Fatal(err)
	}
	st.PutFile("a", randomBytes(10))

	if _, err := NewDiskStorage(DiskStorageOptions{RootDir: root, SegmentSize: 2 * testSegmentSize}); err == nil {
		t.Fatal("expected an error reopening with a different segment size")
	}
}

func TestManifestIndexTimestamps(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(48 * time.Hour)

	root := t.TempDir()
	idx := NewManifestIndex(root, clk)
	if err := idx.Put(ManifestEntry{Name: "a", IntendedSize: 3, Indices: []uint64{0}}); err != nil {
		t.Fatal(err)
	}

	e, ok := idx.Get("a")
	if !ok {
		t.Fatal("entry not found")
	}
	want := clk.Now().UTC().Format(time.RFC3339)
	if e.UpdatedAt != want {
		t.Fatalf("UpdatedAt = %q, want %q", e.UpdatedAt, want)
	}

	// a second index at the same root reads the persisted file
	again := NewManifestIndex(root, clk)
	if list := again.List(); len(list) != 1 || list[0].IntendedSize != 3 {
		t.Fatalf("unexpected persisted entries %+v", list)
	}
}
