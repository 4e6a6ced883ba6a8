// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/azchat/internal/util"
)

// =============================================================================
// BACKEND INTERFACE
// =============================================================================

// Backend is a flat string key/value store the session store is layered on.
//
// Implementations must be safe for concurrent use. A backend configured with
// a quota rejects a Set that would push its occupied size past the quota with
// ErrQuotaExceeded, leaving the previous value in place.
type Backend interface {
	// Get returns the value stored under key. ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error

	// Keys returns every key starting with prefix, sorted.
	Keys(prefix string) ([]string, error)

	// Close releases resources held by the backend.
	Close() error
}

// ValueSize is the number of bytes a value occupies for quota purposes:
// two bytes per UTF-16 code unit.
func ValueSize(value string) int {
	return util.UTF16Len(value) * 2
}

// quota tracks per-key sizes against an optional byte limit.
// Callers hold their own lock.
type quota struct {
	limit int // 0 = unlimited
	sizes map[string]int
	total int
}

func newQuota(limit int) *quota {
	return &quota{limit: limit, sizes: make(map[string]int)}
}

// fits reports whether replacing key's value with one of size n stays within the limit.
func (q *quota) fits(key string, n int) bool {
	if q.limit <= 0 {
		return true
	}
	return q.total-q.sizes[key]+n <= q.limit
}

func (q *quota) set(key string, n int) {
	q.total += n - q.sizes[key]
	q.sizes[key] = n
}

func (q *quota) remove(key string) {
	q.total -= q.sizes[key]
	delete(q.sizes, key)
}

// =============================================================================
// MEMORY BACKEND
// =============================================================================

// MemoryBackend keeps every key in process memory.
// It is used by tests and by ephemeral sessions that should not touch disk.
type MemoryBackend struct {
	mu    sync.RWMutex
	data  map[string]string
	quota *quota
}

// NewMemoryBackend creates an empty in-memory backend.
// quotaBytes of 0 disables the quota.
func NewMemoryBackend(quotaBytes int) *MemoryBackend {
	return &MemoryBackend{
		data:  make(map[string]string),
		quota: newQuota(quotaBytes),
	}
}

// Get implements Backend.
func (m *MemoryBackend) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements Backend.
func (m *MemoryBackend) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := ValueSize(value)
	if !m.quota.fits(key, n) {
		return ErrQuotaExceeded
	}
	m.data[key] = value
	m.quota.set(key, n)
	return nil
}

// Remove implements Backend.
func (m *MemoryBackend) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	m.quota.remove(key)
	return nil
}

// Keys implements Backend.
func (m *MemoryBackend) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }
