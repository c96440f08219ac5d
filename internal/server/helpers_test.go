package server

import (
	"bytes"
	"crypto/rand"
	"net"
	"os"
	"testing"
	"time"

	"github.com/uber-go/tally"

	"github.com/Ankesh2004/segswap/internal/storage"
	"github.com/Ankesh2004/segswap/pkg/p2p"
)

const testSegmentSize = 1024

// pipe returns the two ends of an in-memory connection as Channels.
func pipe(t *testing.T) (client, remote *Channel) {
	t.Helper()
	a, b := net.Pipe()
	client = NewChannel(p2p.NewTCPPeer(true, a), 5*time.Second)
	remote = NewChannel(p2p.NewTCPPeer(false, b), 5*time.Second)
	t.Cleanup(func() {
		client.Close()
		remote.Close()
	})
	return client, remote
}

// serve runs a Listener on ch and returns a channel carrying Serve's result.
func serve(l *Listener, ch *Channel) <-chan error {
	done := make(chan error, 1)
	go func() { done <- l.Serve(ch) }()
	return done
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}
	return b
}

func assertFileContent(t *testing.T, path string, want []byte) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("%s: got %d bytes, want %d (content differs)", path, len(got), len(want))
	}
}

func counterValue(scope tally.TestScope, name string) int64 {
	var total int64
	for _, c := range scope.Snapshot().Counters() {
		if c.Name() == name {
			total += c.Value()
		}
	}
	return total
}

func newMemory(t *testing.T) *storage.MemoryStorage {
	t.Helper()
	return storage.NewMemoryStorage(t.TempDir(), testSegmentSize)
}
