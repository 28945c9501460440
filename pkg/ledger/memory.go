package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStorer is an in-process Storer, used for dry runs and tests.
type MemoryStorer struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
	runs    map[string][]Run
}

// NewMemoryStorer creates an empty in-memory ledger.
func NewMemoryStorer() *MemoryStorer {
	return &MemoryStorer{
		records: make(map[string]*Record),
		runs:    make(map[string][]Run),
	}
}

func (m *MemoryStorer) Put(_ context.Context, record *Record) (bool, error) {
	if record == nil {
		return false, fmt.Errorf("cannot store nil record")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[record.Hash]; ok {
		return false, nil
	}
	m.records[record.Hash] = record
	m.order = append(m.order, record.Hash)
	return true, nil
}

func (m *MemoryStorer) Get(_ context.Context, hash string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[hash]
	if !ok {
		return nil, ErrNotFound{Hash: hash}
	}
	return r, nil
}

func (m *MemoryStorer) Has(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.records[hash]
	return ok, nil
}

func (m *MemoryStorer) Head(_ context.Context) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return nil, ErrNotFound{}
	}
	return m.records[m.order[len(m.order)-1]], nil
}

func (m *MemoryStorer) List(_ context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, 0, len(m.order))
	for _, h := range m.order {
		out = append(out, m.records[h])
	}
	return out, nil
}

func (m *MemoryStorer) Ancestry(ctx context.Context, hash string) ([]*Record, error) {
	return ancestry(ctx, m, hash)
}

func (m *MemoryStorer) AddRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[run.Hash]; !ok {
		return ErrNotFound{Hash: run.Hash}
	}
	m.runs[run.Hash] = append(m.runs[run.Hash], run)
	return nil
}

func (m *MemoryStorer) Runs(_ context.Context, hash string) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.records[hash]; !ok {
		return nil, ErrNotFound{Hash: hash}
	}
	return append([]Run(nil), m.runs[hash]...), nil
}

func (m *MemoryStorer) Close() error {
	return nil
}
