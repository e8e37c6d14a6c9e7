package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-memory record store for tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	maxSize int
}

type memoryRecord struct {
	kind string
	body []byte
}

// NewMemory returns an empty in-memory store with the default size limit.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]memoryRecord),
		maxSize: DefaultMaxRecordSize,
	}
}

// SetMaxRecordSize overrides the size limit, for tests exercising paging.
func (m *Memory) SetMaxRecordSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxSize = n
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// MaxRecordSize returns the maximum serialized record size.
func (m *Memory) MaxRecordSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxSize
}

// Create inserts a new record, failing with ErrAlreadyExists if the key is
// taken.
func (m *Memory) Create(ctx context.Context, key, kind string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	body, err := marshalBody(v, m.maxSize)
	if err != nil {
		return err
	}
	if _, ok := m.records[key]; ok {
		return fmt.Errorf("create record %s: %w", key, ErrAlreadyExists)
	}
	m.records[key] = memoryRecord{kind: kind, body: body}
	return nil
}

// Get reads a record into v, checking the kind tag.
func (m *Memory) Get(ctx context.Context, key, kind string, v any) error {
	m.mu.RLock()
	rec, ok := m.records[key]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("get record %s: %w", key, ErrNotFound)
	}
	if rec.kind != kind {
		return fmt.Errorf("get record %s: have %s, want %s: %w", key, rec.kind, kind, ErrKindMismatch)
	}
	return unmarshalBody(rec.body, v)
}

// Put overwrites an existing record of the same kind.
func (m *Memory) Put(ctx context.Context, key, kind string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	body, err := marshalBody(v, m.maxSize)
	if err != nil {
		return err
	}
	rec, ok := m.records[key]
	if !ok {
		return fmt.Errorf("put record %s: %w", key, ErrNotFound)
	}
	if rec.kind != kind {
		return fmt.Errorf("put record %s: have %s, want %s: %w", key, rec.kind, kind, ErrKindMismatch)
	}
	m.records[key] = memoryRecord{kind: kind, body: body}
	return nil
}

// Delete removes a record. Deleting a missing key fails with ErrNotFound.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[key]; !ok {
		return fmt.Errorf("delete record %s: %w", key, ErrNotFound)
	}
	delete(m.records, key)
	return nil
}

// List returns all records under the prefix in ascending key order.
func (m *Memory) List(ctx context.Context, prefix string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []Item
	for key, rec := range m.records {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		body := make([]byte, len(rec.body))
		copy(body, rec.body)
		items = append(items, Item{Key: key, Kind: rec.kind, Body: body})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}
