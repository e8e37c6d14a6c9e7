package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (records table + kind index)
const currentSchemaVersion = 1

// SQLite is the durable record store backend.
// Uses WAL mode for concurrent read access during writes.
type SQLite struct {
	db      *sql.DB
	maxSize int
}

// OpenSQLite creates or opens a sqlite-backed record store at the given
// path. Applies required pragmas and migrations automatically; safe to call
// multiple times against the same file.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect record store: %w", err)
	}

	// SQLite only supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent callers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db, maxSize: DefaultMaxRecordSize}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// MaxRecordSize returns the maximum serialized record size.
func (s *SQLite) MaxRecordSize() int {
	return s.maxSize
}

// Create inserts a new record. ON CONFLICT DO NOTHING keeps the insert
// race-free; zero rows affected means the key was taken, which is surfaced
// as ErrAlreadyExists because create-once uniqueness is part of the
// engine's safety model.
func (s *SQLite) Create(ctx context.Context, key, kind string, v any) error {
	body, err := marshalBody(v, s.maxSize)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO records (key, kind, body)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, kind, body)
	if err != nil {
		return fmt.Errorf("create record %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create record %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("create record %s: %w", key, ErrAlreadyExists)
	}
	return nil
}

// Get reads a record into v, checking the kind tag.
func (s *SQLite) Get(ctx context.Context, key, kind string, v any) error {
	var gotKind string
	var body []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT kind, body FROM records WHERE key = ?", key,
	).Scan(&gotKind, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get record %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get record %s: %w", key, err)
	}
	if gotKind != kind {
		return fmt.Errorf("get record %s: have %s, want %s: %w", key, gotKind, kind, ErrKindMismatch)
	}
	return unmarshalBody(body, v)
}

// Put overwrites an existing record. The record must already exist with the
// same kind; updates never create.
func (s *SQLite) Put(ctx context.Context, key, kind string, v any) error {
	body, err := marshalBody(v, s.maxSize)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE records
		SET body = ?, updated_at = unixepoch()
		WHERE key = ? AND kind = ?
	`, body, key, kind)
	if err != nil {
		return fmt.Errorf("put record %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put record %s: %w", key, err)
	}
	if n == 0 {
		// Distinguish missing from kind mismatch for the caller.
		var gotKind string
		err := s.db.QueryRowContext(ctx,
			"SELECT kind FROM records WHERE key = ?", key,
		).Scan(&gotKind)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("put record %s: %w", key, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("put record %s: %w", key, err)
		}
		return fmt.Errorf("put record %s: have %s, want %s: %w", key, gotKind, kind, ErrKindMismatch)
	}
	return nil
}

// Delete removes a record. Deleting a missing key fails with ErrNotFound.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("delete record %s: %w", key, ErrNotFound)
	}
	return nil
}

// List returns all records under the prefix in ascending key order.
func (s *SQLite) List(ctx context.Context, prefix string) ([]Item, error) {
	query := "SELECT key, kind, body FROM records WHERE key >= ? ORDER BY key"
	args := []any{prefix}
	if upper := keyUpperBound(prefix); upper != "" {
		query = "SELECT key, kind, body FROM records WHERE key >= ? AND key < ? ORDER BY key"
		args = append(args, upper)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list records %s: %w", prefix, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Key, &it.Kind, &it.Body); err != nil {
			return nil, fmt.Errorf("list records %s: %w", prefix, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records %s: %w", prefix, err)
	}
	return items, nil
}
