package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryRegistry is the single-instance registry used when Redis is
// disabled.
type MemoryRegistry struct {
	mu      sync.RWMutex
	records map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	rec     Record
	expires time.Time
}

func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &MemoryRegistry{
		records: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryRegistry) Publish(ctx context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec.UpdatedAt = now.UTC()
	stored := *rec
	stored.Stats = rec.Stats.Clone()
	m.records[rec.ID] = memoryEntry{rec: stored, expires: now.Add(m.ttl)}
	return nil
}

func (m *MemoryRegistry) Heartbeat(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.records[id]
	if !ok || !now.Before(e.expires) {
		delete(m.records, id)
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	e.rec.UpdatedAt = now.UTC()
	e.expires = now.Add(m.ttl)
	m.records[id] = e
	return nil
}

func (m *MemoryRegistry) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.records, id)
	return nil
}

func (m *MemoryRegistry) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.records[id]
	if !ok || !m.now().Before(e.expires) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec := e.rec
	rec.Stats = e.rec.Stats.Clone()
	return &rec, nil
}

func (m *MemoryRegistry) List(ctx context.Context) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]*Record, 0, len(m.records))
	for id, e := range m.records {
		if !now.Before(e.expires) {
			delete(m.records, id)
			continue
		}
		rec := e.rec
		rec.Stats = e.rec.Stats.Clone()
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRegistry) Close() error {
	return nil
}
