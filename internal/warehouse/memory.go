package warehouse

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps relations in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]Table
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]Table)}
}

// Replace builds the next relation map aside and swaps it in under the lock.
func (m *MemoryStore) Replace(ctx context.Context, tables ...Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkUnique(tables); err != nil {
		return err
	}

	staged := make(map[string]Table, len(tables))
	for _, t := range tables {
		staged[t.Name()] = t.clone()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]Table, len(m.tables)+len(staged))
	for name, t := range m.tables {
		next[name] = t
	}
	for name, t := range staged {
		next[name] = t
	}
	m.tables = next
	return nil
}

// Fill copies the stored rows into dst.
func (m *MemoryStore) Fill(ctx context.Context, dst Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	src, ok := m.tables[dst.Name()]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s: %w", dst.Name(), ErrRelationNotFound)
	}
	return dst.assign(src)
}

// Names lists the stored relations.
func (m *MemoryStore) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	return names
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
