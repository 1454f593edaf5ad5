package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/micheldegeofroy/unidown/pkg/identity"
	"github.com/micheldegeofroy/unidown/pkg/listing"
)

// Memory is an in-memory Repository used by tests and by callers that
// want the merge/unify engines without touching disk.
type Memory struct {
	mu       sync.RWMutex
	listings map[string]*listing.Stored
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{listings: make(map[string]*listing.Stored)}
}

func (m *Memory) Load(id string) (*listing.Stored, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, fmt.Errorf("load %s: %w", id, listing.ErrNotFound)
	}
	return l.Clone(), nil
}

func (m *Memory) Save(l *listing.Stored) error {
	if l.ID == "" {
		return fmt.Errorf("save: %w: empty listing id", listing.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.ID] = l.Clone()
	return nil
}

func (m *Memory) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[id]; !ok {
		return fmt.Errorf("delete %s: %w", id, listing.ErrNotFound)
	}
	delete(m.listings, id)
	return nil
}

func (m *Memory) List() ([]*listing.Stored, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*listing.Stored, 0, len(m.listings))
	for _, l := range m.listings {
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) FindBySourceURL(normalizedURL string) (*listing.Stored, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.listings {
		if identity.Normalize(l.SourceURL) == normalizedURL {
			return l.Clone(), nil
		}
	}
	return nil, fmt.Errorf("find %s: %w", normalizedURL, listing.ErrNotFound)
}
