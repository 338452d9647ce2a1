// Package storage keeps uploaded audio on local disk for the lifetime of the
// browsing session that owns it.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/omnilingual-asr/transcriber/internal/models"
)

// ErrNotFound is returned for unknown blob ids.
var ErrNotFound = errors.New("blob not found")

// Store defines the interface for blob storage.
type Store interface {
	Save(name string, r io.Reader) (*models.BlobInfo, error)
	Open(id string) (io.ReadSeekCloser, error)
	Get(id string) (*models.BlobInfo, error)
	List(limit int) ([]*models.BlobInfo, error)
	Delete(id string) error
	GetFilePath(id string) (string, error)
}

// LocalStore implements Store using the local filesystem.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	blobs     map[string]*models.BlobInfo
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &LocalStore{
		uploadDir: uploadDir,
		blobs:     make(map[string]*models.BlobInfo),
	}, nil
}

// Save writes the reader's content to a new blob.
func (s *LocalStore) Save(name string, r io.Reader) (*models.BlobInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}

	size, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.BlobInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		UploadedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[id] = info

	return info, nil
}

// Open opens a blob for reading.
func (s *LocalStore) Open(id string) (io.ReadSeekCloser, error) {
	path, err := s.GetFilePath(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening blob %s: %w", id, err)
	}
	return f, nil
}

// Get retrieves blob metadata by ID.
func (s *LocalStore) Get(id string) (*models.BlobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.blobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return info, nil
}

// List returns the most recent blobs.
func (s *LocalStore) List(limit int) ([]*models.BlobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.BlobInfo, 0, len(s.blobs))
	for _, info := range s.blobs {
		list = append(list, info)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a blob from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.blobs, id)
	return nil
}

// GetFilePath returns the absolute path to a blob.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.blobs[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return filepath.Join(s.uploadDir, id), nil
}

// Len returns the number of stored blobs.
func (s *LocalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
