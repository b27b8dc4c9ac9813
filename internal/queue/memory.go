package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store with the same claim semantics as the
// Postgres implementation. It backs worker tests and local development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	seq     []string // insertion order, tiebreak for never-attempted rows
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// ClaimNext implements Store. The whole select-and-mark runs under one
// mutex hold, mirroring the single-statement claim in Postgres.
func (m *MemoryStore) ClaimNext(_ context.Context, maxRetries int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var eligible []*Entry
	for _, url := range m.seq {
		e := m.entries[url]
		if e.Status == StatusTodo || (e.Status == StatusError && e.Tries < maxRetries) {
			eligible = append(eligible, e)
		}
	}
	if len(eligible) == 0 {
		return "", ErrEmpty
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		a, b := eligible[i].UpdatedAt, eligible[j].UpdatedAt
		switch {
		case a == nil && b == nil:
			return false // keep insertion order
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})

	e := eligible[0]
	now := time.Now()
	e.Status = StatusWorking
	e.Tries++
	e.UpdatedAt = &now
	return e.URL, nil
}

// MarkDone implements Store.
func (m *MemoryStore) MarkDone(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[url]; ok {
		now := time.Now()
		e.Status = StatusDone
		e.LastError = ""
		e.UpdatedAt = &now
	}
	return nil
}

// MarkError implements Store.
func (m *MemoryStore) MarkError(_ context.Context, url string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[url]; ok {
		now := time.Now()
		e.Status = StatusError
		e.LastError = reason
		e.UpdatedAt = &now
	}
	return nil
}

// Seed implements Store.
func (m *MemoryStore) Seed(_ context.Context, urls []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var inserted int64
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, ok := m.entries[url]; ok {
			continue
		}
		m.entries[url] = &Entry{URL: url, Status: StatusTodo}
		m.seq = append(m.seq, url)
		inserted++
	}
	return inserted, nil
}

// ReapExpired implements Store.
func (m *MemoryStore) ReapExpired(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reaped int64
	for _, e := range m.entries {
		if e.Status == StatusWorking && e.UpdatedAt != nil && e.UpdatedAt.Before(olderThan) {
			e.Status = StatusTodo
			reaped++
		}
	}
	return reaped, nil
}

// CountByStatus implements Store.
func (m *MemoryStore) CountByStatus(_ context.Context) (map[Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[Status]int64)
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts, nil
}

// Ping implements Store.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Get returns a copy of the entry for a URL, for test assertions.
func (m *MemoryStore) Get(url string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[url]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
