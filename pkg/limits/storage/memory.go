package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements QuotaStore using in-memory storage.
// This is the default store and provides fast access with no persistence.
// All data is lost when the process exits.
type MemoryStore struct {
	// records maps caller ID to its quota. Stored values are private copies.
	records map[string]QuotaRecord

	mu     sync.RWMutex
	closed bool
}

// NewMemoryStore creates a new in-memory quota store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]QuotaRecord),
	}
}

// Save persists a caller's quota.
func (m *MemoryStore) Save(ctx context.Context, record *QuotaRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}

	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now()
	}
	m.records[record.CallerID] = *record
	return nil
}

// Load retrieves a caller's quota.
func (m *MemoryStore) Load(ctx context.Context, callerID string) (*QuotaRecord, error) {
	if callerID == "" {
		return nil, fmt.Errorf("caller id cannot be empty")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[callerID]
	if !exists {
		return nil, nil
	}
	return &record, nil
}

// Delete removes a caller's quota.
func (m *MemoryStore) Delete(ctx context.Context, callerID string) error {
	if callerID == "" {
		return fmt.Errorf("caller id cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, callerID)
	return nil
}

// List returns every stored quota ordered by caller ID.
func (m *MemoryStore) List(ctx context.Context) ([]*QuotaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*QuotaRecord, 0, len(m.records))
	for _, r := range m.records {
		record := r
		records = append(records, &record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CallerID < records[j].CallerID
	})
	return records, nil
}

// Close marks the store closed. Further saves fail.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
