package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type Path struct {
	Path     string
	Filename string
}

func (p Path) FullPath() string {
	return filepath.Join(p.Path, p.Filename)
}

// CASStore writes blobs under the SHA-256 of their key, nested four
// directories deep so no single directory grows too large.
type CASStore struct {
	RootDir string
}

func NewCASStore(rootDir string) *CASStore {
	return &CASStore{
		RootDir: rootDir,
	}
}

// segmentKey is the CAS key of one segment of a named file.
func segmentKey(name string, index uint64) string {
	return fmt.Sprintf("%s/%d", name, index)
}

func (s *CASStore) GetCASPath(key string) Path {
	hash256 := sha256.Sum256([]byte(key))
	hash := hex.EncodeToString(hash256[:])

	return Path{
		Path:     filepath.Join(s.RootDir, hash[0:8], hash[8:16], hash[16:24], hash[24:32]),
		Filename: hash,
	}
}

// WriteRaw writes data under key, replacing any previous blob. The blob
// appears whole or not at all.
func (s *CASStore) WriteRaw(key string, data []byte) (int64, error) {
	cas := s.GetCASPath(key)
	if err := os.MkdirAll(cas.Path, 0755); err != nil {
		return 0, err
	}

	file, err := os.CreateTemp(cas.Path, cas.Filename+".*.tmp")
	if err != nil {
		return 0, err
	}
	defer os.Remove(file.Name())

	n, err := file.Write(data)
	if err != nil {
		file.Close()
		return 0, err
	}
	if err := file.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(file.Name(), cas.FullPath()); err != nil {
		return 0, err
	}
	return int64(n), nil
}

// ReadStream opens the blob stored under key. The caller closes the reader.
func (s *CASStore) ReadStream(key string) (int64, io.ReadCloser, error) {
	file, err := os.Open(s.GetCASPath(key).FullPath())
	if err != nil {
		return 0, nil, err
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return 0, nil, err
	}
	return fi.Size(), file, nil
}

func (s *CASStore) ReadRaw(key string) ([]byte, error) {
	size, r, err := s.ReadStream(key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

func (s *CASStore) Delete(key string) error {
	return os.Remove(s.GetCASPath(key).FullPath())
}

func (s *CASStore) Has(key string) bool {
	_, err := os.Stat(s.GetCASPath(key).FullPath())
	return err == nil
}

func (s *CASStore) Wipe() error {
	return os.RemoveAll(s.RootDir)
}
