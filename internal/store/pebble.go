package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Pebble is a KV record store backend.
//
// Pebble has no conditional write, so Create's read-then-set is guarded by
// a mutex. That is sufficient here: a store instance has a single writing
// process, and cross-process exclusion comes from pebble's directory lock.
type Pebble struct {
	mu      sync.Mutex
	db      *pebble.DB
	maxSize int
}

// OpenPebble creates or opens a pebble-backed record store in dir.
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	return &Pebble{db: db, maxSize: DefaultMaxRecordSize}, nil
}

// Close closes the underlying database.
func (p *Pebble) Close() error {
	return p.db.Close()
}

// MaxRecordSize returns the maximum serialized record size.
func (p *Pebble) MaxRecordSize() int {
	return p.maxSize
}

// Create inserts a new record, failing with ErrAlreadyExists if the key is
// taken.
func (p *Pebble) Create(ctx context.Context, key, kind string, v any) error {
	data, err := marshalEnvelope(kind, v, p.maxSize)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	_, closer, err := p.db.Get([]byte(key))
	if err == nil {
		closer.Close()
		return fmt.Errorf("create record %s: %w", key, ErrAlreadyExists)
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("create record %s: %w", key, err)
	}

	if err := p.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("create record %s: %w", key, err)
	}
	return nil
}

// Get reads a record into v, checking the kind tag.
func (p *Pebble) Get(ctx context.Context, key, kind string, v any) error {
	data, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("get record %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get record %s: %w", key, err)
	}
	defer closer.Close()

	env, err := unmarshalEnvelope(data)
	if err != nil {
		return fmt.Errorf("get record %s: %w", key, err)
	}
	if env.Kind != kind {
		return fmt.Errorf("get record %s: have %s, want %s: %w", key, env.Kind, kind, ErrKindMismatch)
	}
	return unmarshalBody(env.Body, v)
}

// Put overwrites an existing record of the same kind.
func (p *Pebble) Put(ctx context.Context, key, kind string, v any) error {
	data, err := marshalEnvelope(kind, v, p.maxSize)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	existing, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("put record %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("put record %s: %w", key, err)
	}
	env, err := unmarshalEnvelope(existing)
	closer.Close()
	if err != nil {
		return fmt.Errorf("put record %s: %w", key, err)
	}
	if env.Kind != kind {
		return fmt.Errorf("put record %s: have %s, want %s: %w", key, env.Kind, kind, ErrKindMismatch)
	}

	if err := p.db.Set([]byte(key), data, pebble.Sync); err != nil {
		return fmt.Errorf("put record %s: %w", key, err)
	}
	return nil
}

// Delete removes a record. Deleting a missing key fails with ErrNotFound.
func (p *Pebble) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, closer, err := p.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("delete record %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	closer.Close()

	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	return nil
}

// List returns all records under the prefix in ascending key order.
func (p *Pebble) List(ctx context.Context, prefix string) ([]Item, error) {
	opts := &pebble.IterOptions{LowerBound: []byte(prefix)}
	if upper := keyUpperBound(prefix); upper != "" {
		opts.UpperBound = []byte(upper)
	}

	iter, err := p.db.NewIter(opts)
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", prefix, err)
	}
	defer iter.Close()

	var items []Item
	for iter.First(); iter.Valid(); iter.Next() {
		env, err := unmarshalEnvelope(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("list records %s: key %s: %w", prefix, iter.Key(), err)
		}
		body := make([]byte, len(env.Body))
		copy(body, env.Body)
		items = append(items, Item{
			Key:  string(iter.Key()),
			Kind: env.Kind,
			Body: body,
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("list records %s: %w", prefix, err)
	}
	return items, nil
}
