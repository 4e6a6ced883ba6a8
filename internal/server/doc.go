// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the completion client over a local HTTP API so the
// Azure credentials only need to live in one process.
//
// # Endpoints
//
//   - POST /api/chat   - {messages, model, stream} -> {content, usage} or SSE
//   - GET  /api/models - model catalog
//   - GET  /health     - {status, online, configured, version}
//
// Errors are always {"error": "..."}. Missing or malformed messages and
// unknown models answer 400; upstream and configuration failures answer 500.
//
// # Streaming
//
// With "stream": true the reply is relayed as server-sent events, one
// data: {"content": "..."} record per fragment and a final data: [DONE].
// A failure after the stream has started is reported as a single
// data: {"error": "..."} record before the connection closes.
//
// # Usage
//
//	client := cloud.NewClient(key, endpoint, version)
//	srv := server.New(client, monitor, server.Options{Addr: "127.0.0.1:8787"})
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
