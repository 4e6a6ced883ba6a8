// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides session persistence for azchat.
//
// Sessions are kept in a flat key/value Backend under a fixed prefix:
// a session index record, one full record per session, and a pointer to the
// last active session. After every save the store enforces retention by
// evicting the least recently updated sessions once the session cap or the
// byte budget is exceeded.
//
// # Key Types
//
//   - Store: Session persistence, retention, export and import
//   - Backend: Key/value interface with FileBackend, SQLiteBackend and MemoryBackend
//   - Usage: Occupied bytes and session count against the limits
//
// # Usage
//
// Create a store and save a session:
//
//	backend, err := storage.NewFileBackend(dir, 0)
//	store := storage.New(backend, storage.DefaultOptions())
//	err = store.SaveSession(sess)
//
// List and load sessions:
//
//	metas := store.ListSessions()
//	sess, ok := store.GetSession(metas[0].ID)
//
// Back up everything:
//
//	data, err := store.ExportAll()
//	n, err := other.ImportAll(data)
//
// # Storage Location
//
// The file backend defaults to ~/.azchat/data/, one file per key.
package storage
