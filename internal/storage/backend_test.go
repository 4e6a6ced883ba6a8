// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backendFactories builds each backend implementation over fresh state.
func backendFactories(t *testing.T) map[string]func(quota int) Backend {
	return map[string]func(quota int) Backend{
		"memory": func(quota int) Backend {
			return NewMemoryBackend(quota)
		},
		"file": func(quota int) Backend {
			fb, err := NewFileBackend(t.TempDir(), quota)
			require.NoError(t, err)
			return fb
		},
		"sqlite": func(quota int) Backend {
			b, err := NewSQLiteBackend(filepath.Join(t.TempDir(), "azchat.db"), quota)
			require.NoError(t, err)
			t.Cleanup(func() { b.Close() })
			return b
		},
	}
}

func TestBackends_Contract(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			b := factory(0)

			_, ok, err := b.Get("azchat:missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, b.Set("azchat:session:a", `{"id":"a"}`))
			require.NoError(t, b.Set("azchat:session:b", `{"id":"b"}`))
			require.NoError(t, b.Set("azchat:current-session", "a"))
			require.NoError(t, b.Set("other:key", "x"))

			v, ok, err := b.Get("azchat:current-session")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "a", v)

			keys, err := b.Keys("azchat:session:")
			require.NoError(t, err)
			assert.Equal(t, []string{"azchat:session:a", "azchat:session:b"}, keys)

			require.NoError(t, b.Set("azchat:session:a", `{"id":"a","v":2}`))
			v, _, _ = b.Get("azchat:session:a")
			assert.Equal(t, `{"id":"a","v":2}`, v)

			require.NoError(t, b.Remove("azchat:session:a"))
			require.NoError(t, b.Remove("azchat:session:a"), "removing twice is not an error")
			_, ok, _ = b.Get("azchat:session:a")
			assert.False(t, ok)

			all, err := b.Keys("")
			require.NoError(t, err)
			assert.Len(t, all, 3)
		})
	}
}

func TestBackends_Quota(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			b := factory(100) // 50 UTF-16 units

			require.NoError(t, b.Set("k1", strings.Repeat("a", 30)))
			err := b.Set("k2", strings.Repeat("a", 30))
			assert.True(t, errors.Is(err, ErrQuotaExceeded), "got %v", err)

			_, ok, _ := b.Get("k2")
			assert.False(t, ok, "rejected write must not be stored")

			// Replacing a value only counts the difference.
			require.NoError(t, b.Set("k1", strings.Repeat("a", 50)))

			require.NoError(t, b.Remove("k1"))
			require.NoError(t, b.Set("k2", strings.Repeat("a", 40)))
		})
	}
}

func TestFileBackend_EscapesKeys(t *testing.T) {
	dir := t.TempDir()
	fb, err := NewFileBackend(dir, 0)
	require.NoError(t, err)

	key := "azchat:session:session-1/../x"
	require.NoError(t, fb.Set(key, "v"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
	assert.NotContains(t, entries[0].Name(), ":")

	keys, err := fb.Keys("")
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

func TestFileBackend_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("hi"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-x.kv-123"), []byte("hi"), 0600))

	fb, err := NewFileBackend(dir, 0)
	require.NoError(t, err)
	keys, err := fb.Keys("")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFileBackend_RescanPicksUpExternalWrites(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFileBackend(dir, 100)
	require.NoError(t, err)
	b, err := NewFileBackend(dir, 100)
	require.NoError(t, err)

	require.NoError(t, b.Set("k", strings.Repeat("a", 40)))
	require.NoError(t, a.Rescan())

	err = a.Set("other", strings.Repeat("a", 20))
	assert.True(t, errors.Is(err, ErrQuotaExceeded), "got %v", err)
}

func TestStore_OverEachBackend(t *testing.T) {
	for name, factory := range backendFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := New(factory(0), quietOptions())
			for i := 0; i < 3; i++ {
				require.NoError(t, store.SaveSession(testSession(fmt.Sprintf("s%d", i), int64(i), 2)))
			}
			require.NoError(t, store.DeleteSession("s1"))

			index := store.ListSessions()
			require.Len(t, index, 2)
			sess, ok := store.GetSession("s2")
			require.True(t, ok)
			assert.Len(t, sess.Messages, 2)

			require.NoError(t, store.ClearAll())
			assert.Empty(t, store.ListSessions())
		})
	}
}
