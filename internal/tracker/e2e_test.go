package tracker_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/Ankesh2004/segswap/internal/server"
	"github.com/Ankesh2004/segswap/internal/storage"
	"github.com/Ankesh2004/segswap/internal/tracker"
)

const segmentSize = 4096

func createTestNode(t *testing.T, trackerAddr string, st storage.Storage) *server.Node {
	t.Helper()
	tc := tracker.NewClient(trackerAddr)
	n := server.NewNode(server.NodeOptions{
		ListenAddr: "127.0.0.1:0",
		Storage:    st,
		Resolver:   tc,
		Announcer:  tc,
		Secure:     true,
	})
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("failed to start node: %v", err)
	}
	t.Cleanup(func() { n.Stop() })
	return n
}

func TestEndToEndThroughTracker(t *testing.T) {
	tr := tracker.NewServer(tracker.ServerOptions{ListenAddr: "127.0.0.1:0"})
	if err := tr.Start(); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop()

	originalData := make([]byte, 50*segmentSize+123)
	rand.Read(originalData)

	seedDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(seedDir, "payload.bin"), originalData, 0644); err != nil {
		t.Fatal(err)
	}
	seedStore, err := storage.NewDiskStorage(storage.DiskStorageOptions{
		RootDir:     t.TempDir(),
		Folder:      seedDir,
		SegmentSize: segmentSize,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := storage.LoadDir(seedStore, seedDir); err != nil {
		t.Fatal(err)
	}
	seeder := createTestNode(t, tr.Addr(), seedStore)

	t.Log("first leecher downloads from the seeder")
	first := createTestNode(t, tr.Addr(), storage.NewMemoryStorage(t.TempDir(), segmentSize))
	if err := first.Download(context.Background(), "payload.bin"); err != nil {
		t.Fatalf("first download failed: %v", err)
	}

	peers := tr.Peers("payload.bin")
	if len(peers) != 2 {
		t.Fatalf("tracker should know seeder and first leecher, got %v", peers)
	}

	t.Log("seeder leaves, second leecher must use the first")
	seeder.Stop()

	second := createTestNode(t, tr.Addr(), storage.NewMemoryStorage(t.TempDir(), segmentSize))
	if err := second.Download(context.Background(), "payload.bin"); err != nil {
		t.Fatalf("second download failed: %v", err)
	}

	got, err := os.ReadFile(second.Storage.ResolvePath("payload.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, originalData) {
		t.Fatalf("data corrupted: got %d bytes, want %d", len(got), len(originalData))
	}
}
