// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// kvSchema holds every key in a single table. size caches ValueSize(value).
const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	size  INTEGER NOT NULL
);
`

// SQLiteBackend stores keys in a single-file SQLite database.
type SQLiteBackend struct {
	db         *sql.DB
	mu         sync.Mutex // serializes quota check + write
	quotaBytes int
}

// NewSQLiteBackend opens (creating if needed) the database at path.
// quotaBytes of 0 disables the quota.
func NewSQLiteBackend(path string, quotaBytes int) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBackend{db: db, quotaBytes: quotaBytes}, nil
}

// Get implements Backend.
func (b *SQLiteBackend) Get(key string) (string, bool, error) {
	var value string
	err := b.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set implements Backend.
func (b *SQLiteBackend) Set(key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := ValueSize(value)
	if b.quotaBytes > 0 {
		var others int
		err := b.db.QueryRow("SELECT COALESCE(SUM(size), 0) FROM kv WHERE key != ?", key).Scan(&others)
		if err != nil {
			return err
		}
		if others+n > b.quotaBytes {
			return ErrQuotaExceeded
		}
	}

	_, err := b.db.Exec(`
		INSERT INTO kv (key, value, size) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, size = excluded.size
	`, key, value, n)
	return err
}

// Remove implements Backend.
func (b *SQLiteBackend) Remove(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// Keys implements Backend.
func (b *SQLiteBackend) Keys(prefix string) ([]string, error) {
	// substr avoids LIKE so '%' and '_' in prefixes are literal.
	rows, err := b.db.Query(
		"SELECT key FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key",
		len([]rune(prefix)), prefix,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
