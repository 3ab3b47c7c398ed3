package store

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/labelcache/internal/model"
)

// MemoryStore is an in-process Store for tests, scenarios and local runs.
// It is safe for concurrent use; TryInsert holds the lock across the
// check and the write so it has the same atomicity as the durable adapters.
type MemoryStore struct {
	mu      sync.Mutex
	records map[model.Fingerprint]model.ClassificationRecord
	inserts int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[model.Fingerprint]model.ClassificationRecord)}
}

// Lookup returns the record for fp.
func (m *MemoryStore) Lookup(_ context.Context, fp model.Fingerprint) (model.ClassificationRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[fp]
	return rec, ok, nil
}

// TryInsert stores rec unless a record for its fingerprint exists.
func (m *MemoryStore) TryInsert(_ context.Context, rec model.ClassificationRecord) (InsertResult, error) {
	if err := checkRecord("store.try_insert", rec); err != nil {
		return InsertResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.Fingerprint]; ok {
		return InsertResult{Outcome: AlreadyExists, Record: existing}, nil
	}
	m.records[rec.Fingerprint] = rec
	m.inserts++
	return InsertResult{Outcome: InsertedNew, Record: rec}, nil
}

// Records returns all stored records ordered by fingerprint.
func (m *MemoryStore) Records() []model.ClassificationRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ClassificationRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out
}

// Inserts returns how many TryInsert calls created a record.
func (m *MemoryStore) Inserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
