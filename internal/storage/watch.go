// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce coalesces bursts of file events into one notification.
const DefaultWatchDebounce = 150 * time.Millisecond

// Watch calls fn whenever the stored data changes on disk, for example when
// another azchat process saves a session. Bursts of events are debounced.
// Watch blocks until ctx is cancelled. Only FileBackend supports watching;
// other backends return ErrWatchUnsupported.
func (s *Store) Watch(ctx context.Context, fn func()) error {
	fb, ok := s.backend.(*FileBackend)
	if !ok {
		return ErrWatchUnsupported
	}
	return fb.Watch(ctx, DefaultWatchDebounce, fn)
}

// Watch notifies fn after changes to key files in the backend directory.
// Quota accounting is refreshed from disk before each notification.
func (fb *FileBackend) Watch(ctx context.Context, debounce time.Duration, fn func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(fb.dir); err != nil {
		return err
	}

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileExt) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)

		case <-timer.C:
			if err := fb.Rescan(); err != nil {
				continue
			}
			fn()

		case _, ok := <-watcher.Errors:
			// Overflow and similar errors are transient; keep watching.
			if !ok {
				return nil
			}
		}
	}
}
