// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the in-memory view of the conversation the user is
// working in and drives the send/reply cycle.
//
// The Manager sits between the terminal front end and two collaborators:
// the storage.Store that keeps durable copies and a cloud.Completer that
// produces replies. Its state (summaries, current session, loading flag,
// last error) is exposed as an immutable State snapshot.
//
// # Usage
//
//	mgr := session.NewManager(store, client, monitor, nil)
//	mgr.Init()
//	if mgr.State().Current == nil {
//		mgr.CreateSession(model.DefaultModel)
//	}
//	if err := mgr.SendMessage(ctx, "Hello", nil); err != nil {
//		fmt.Println(session.Describe(err))
//	}
//
// # Sends and session switches
//
// The manager never holds its lock across a network call. Each send is
// tagged with the id of the session it started in; the reply is appended to
// the stored copy of that session even when the user has switched away in
// the meantime, and the in-memory view only changes when that session is
// still current. A reply for a session deleted mid-flight is dropped.
package session
