// Package store provides the keyed record store the clearing engine runs
// against: typed records addressed by string key, with create-once
// semantics and a fixed maximum record size.
//
// Three backends implement the same interface: sqlite (durable, the
// default), pebble (durable KV), and memory (tests). Create-once is
// load-bearing for the engine: commitments, allocations and slashing
// records rely on a second creation failing rather than overwriting, so
// every backend must surface ErrAlreadyExists from Create.
package store

import (
	"context"
	"errors"
)

// DefaultMaxRecordSize bounds a serialized record. A full bid page (150
// bids) must fit; anything larger is a caller bug.
const DefaultMaxRecordSize = 32 * 1024

var (
	// ErrAlreadyExists is returned by Create when the key is taken.
	ErrAlreadyExists = errors.New("store: record already exists")

	// ErrNotFound is returned by Get and Put when the key is absent.
	ErrNotFound = errors.New("store: record not found")

	// ErrKindMismatch is returned when a record exists under the key but
	// with a different kind tag.
	ErrKindMismatch = errors.New("store: record kind mismatch")

	// ErrRecordTooLarge is returned when a serialized record exceeds the
	// store's maximum record size.
	ErrRecordTooLarge = errors.New("store: record exceeds maximum size")
)

// Item is one stored record as returned by List.
type Item struct {
	Key  string
	Kind string
	Body []byte
}

// Store is the keyed record store interface.
//
// Create fails with ErrAlreadyExists if the key is taken; Put and Delete
// fail with ErrNotFound if it is not. Create and Put enforce MaxRecordSize.
// Get and Put check the kind tag and fail with ErrKindMismatch on
// disagreement. List returns all records under a key prefix in ascending
// key order.
type Store interface {
	Create(ctx context.Context, key, kind string, v any) error
	Get(ctx context.Context, key, kind string, v any) error
	Put(ctx context.Context, key, kind string, v any) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Item, error)
	MaxRecordSize() int
	Close() error
}

// keyUpperBound returns the smallest key greater than every key with the
// given prefix, for range scans. Returns "" when no upper bound exists
// (prefix is all 0xff bytes).
func keyUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}
