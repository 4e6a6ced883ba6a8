// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/azchat/internal/util"
)

// fileExt is appended to every key file so stray files in the directory are ignored.
const fileExt = ".kv"

// FileBackend stores one file per key inside a directory.
//
// Key names are query-escaped to produce portable file names. Writes go
// through util.AtomicWriteFile, so a crash never leaves a half-written record.
type FileBackend struct {
	dir   string
	mu    sync.RWMutex
	quota *quota
}

// NewFileBackend opens (creating if needed) a file backend rooted at dir.
// quotaBytes of 0 disables the quota.
func NewFileBackend(dir string, quotaBytes int) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	fb := &FileBackend{dir: dir, quota: newQuota(quotaBytes)}
	if err := fb.Rescan(); err != nil {
		return nil, err
	}
	return fb, nil
}

// Dir returns the directory the backend writes to.
func (fb *FileBackend) Dir() string {
	return fb.dir
}

// Rescan recomputes quota accounting from the files on disk.
// It is needed after another process has modified the directory.
func (fb *FileBackend) Rescan() error {
	entries, err := os.ReadDir(fb.dir)
	if err != nil {
		return fmt.Errorf("read storage directory: %w", err)
	}
	q := newQuota(fb.quota.limit)
	for _, e := range entries {
		key, ok := keyFromFile(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fb.dir, e.Name()))
		if err != nil {
			continue
		}
		q.set(key, ValueSize(string(data)))
	}

	fb.mu.Lock()
	fb.quota = q
	fb.mu.Unlock()
	return nil
}

// Get implements Backend.
func (fb *FileBackend) Get(key string) (string, bool, error) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	data, err := os.ReadFile(fb.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}

// Set implements Backend.
func (fb *FileBackend) Set(key, value string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	n := ValueSize(value)
	if !fb.quota.fits(key, n) {
		return ErrQuotaExceeded
	}
	if err := util.AtomicWriteFile(fb.path(key), []byte(value), 0600); err != nil {
		return err
	}
	fb.quota.set(key, n)
	return nil
}

// Remove implements Backend.
func (fb *FileBackend) Remove(key string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if err := os.Remove(fb.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	fb.quota.remove(key)
	return nil
}

// Keys implements Backend.
func (fb *FileBackend) Keys(prefix string) ([]string, error) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	entries, err := os.ReadDir(fb.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if key, ok := keyFromFile(e.Name()); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements Backend.
func (fb *FileBackend) Close() error { return nil }

func (fb *FileBackend) path(key string) string {
	return filepath.Join(fb.dir, url.QueryEscape(key)+fileExt)
}

func keyFromFile(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	key, err := url.QueryUnescape(strings.TrimSuffix(name, fileExt))
	if err != nil {
		return "", false
	}
	return key, true
}
