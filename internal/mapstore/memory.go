package mapstore

import (
	"context"
	"sync"
)

// Memory is an in-process Store used by tests and by deployments that want
// allocator seeding within a single run without a Redis backend.
type Memory struct {
	mu      sync.RWMutex
	records map[Kind]map[string]Record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[Kind]map[string]Record)}
}

func (m *Memory) Connect(context.Context) error { return nil }
func (m *Memory) Ping(context.Context) error    { return nil }
func (m *Memory) Close() error                  { return nil }

func (m *Memory) Put(_ context.Context, kind Kind, idpID string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[kind] == nil {
		m.records[kind] = make(map[string]Record)
	}
	m.records[kind][idpID] = rec
	return nil
}

func (m *Memory) Get(_ context.Context, kind Kind, idpID string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[kind][idpID]
	return rec, ok, nil
}

func (m *Memory) List(_ context.Context, kind Kind) (map[string]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Record, len(m.records[kind]))
	for id, rec := range m.records[kind] {
		out[id] = rec
	}
	return out, nil
}
