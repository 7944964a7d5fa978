package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[uuid.UUID]Record)}
}

// SaveHypotheses implements [Store].
func (m *MemStore) SaveHypotheses(_ context.Context, s Session, hyps []Hypothesis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[s.ID]; ok {
		return fmt.Errorf("store: session %s already saved", s.ID)
	}
	m.records[s.ID] = Record{Session: s, Hypotheses: slices.Clone(hyps)}
	return nil
}

// ListSession implements [Store].
func (m *MemStore) ListSession(_ context.Context, id uuid.UUID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	r.Hypotheses = slices.Clone(r.Hypotheses)
	return r, nil
}

// Recent implements [Store].
func (m *MemStore) Recent(_ context.Context, limit int) ([]Session, error) {
	m.mu.RLock()
	out := make([]Session, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Session)
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Session) int {
		return cmp.Or(b.StartedAt.Compare(a.StartedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping implements [Store]. It always succeeds.
func (m *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store].
func (m *MemStore) Close() {}
