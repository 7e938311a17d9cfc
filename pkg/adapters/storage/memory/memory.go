package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/maestro/pkg/ports"
)

// InMemoryDefinitionStore implements DefinitionStore using an in-memory map
type InMemoryDefinitionStore struct {
	documents map[string][]byte
	mu        sync.RWMutex
}

// NewInMemoryDefinitionStore creates a new in-memory definition store
func NewInMemoryDefinitionStore() *InMemoryDefinitionStore {
	return &InMemoryDefinitionStore{
		documents: make(map[string][]byte),
	}
}

// Save stores a copy of document under name
func (s *InMemoryDefinitionStore) Save(ctx context.Context, name string, document []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents[name] = append([]byte(nil), document...)
	return nil
}

// Load returns a copy of the document stored under name
func (s *InMemoryDefinitionStore) Load(ctx context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.documents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ports.ErrDefinitionNotFound, name)
	}
	return append([]byte(nil), data...), nil
}

// Delete removes the document stored under name
func (s *InMemoryDefinitionStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[name]; !ok {
		return fmt.Errorf("%w: %s", ports.ErrDefinitionNotFound, name)
	}
	delete(s.documents, name)
	return nil
}

// Exists checks if a document is stored under name
func (s *InMemoryDefinitionStore) Exists(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.documents[name]
	return ok, nil
}

// List returns stored names in sorted order
func (s *InMemoryDefinitionStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.documents))
	for name := range s.documents {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}
