package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is a filesystem-backed BlobStore. Writes go to a temp file and
// are renamed into place so a crashed upload never leaves partial bytes.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a blob store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("document: ensure blob dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(documentID string) string {
	return filepath.Join(s.baseDir, documentID+".blob")
}

func (s *FileStore) Put(_ context.Context, documentID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(documentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("document: write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("document: commit blob: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, documentID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(documentID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("document: read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(_ context.Context, documentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(s.path(documentID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("document: stat blob: %w", err)
}
