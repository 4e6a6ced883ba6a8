// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for sessions and messages.
//
// This package defines the core domain types shared by storage, the
// completion client and the session manager.
//
// # Key Types
//
//   - Session: Titled conversation with messages, timestamps and a model
//   - SessionMeta: Index entry for a session, without message bodies
//   - Message: Single turn with role, content, timestamp and optional images
//   - Descriptor: Static catalog entry for a selectable model
//   - Role: Message role enumeration (user, assistant, system)
//
// # Usage
//
// Create a session and add a turn:
//
//	sess := model.NewSession(model.DefaultModel)
//	sess.Append(model.NewUserMessage("Hello!", nil))
//	fmt.Println(sess.Title) // "Hello!"
//
// Look up catalog entries:
//
//	d, ok := model.Lookup("gpt-4.1-mini")
//	fmt.Printf("%s: %d tokens\n", d.DisplayName, d.MaxTokens)
package model
