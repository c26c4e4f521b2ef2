package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	apperrors "licensekit/internal/errors"
	"licensekit/internal/files"
	"licensekit/pkg/contracts/domain"
)

// FileStore keeps the registry as one JSON document. Writes go through a
// temporary file and a rename, so a crash leaves either the old or the new
// document. Only one process may write at a time.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store for the document at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document path
func (s *FileStore) Path() string { return s.path }

// Load implements Store
func (s *FileStore) Load(ctx context.Context) (*domain.RegistryDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() (*domain.RegistryDocument, error) {
	data, ok, err := files.ReadIfExists(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}
	if !ok {
		return domain.NewRegistryDocument(), nil
	}

	doc := domain.NewRegistryDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", s.path, err, apperrors.ErrRegistryCorrupted)
	}
	if err := checkDocument(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Update implements Store
func (s *FileStore) Update(ctx context.Context, fn func(doc *domain.RegistryDocument) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	if err := files.WriteJSONAtomic(s.path, doc, 0644); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	return nil
}

// Close implements Store
func (s *FileStore) Close() error { return nil }
