// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the chat completion client for azchat.
//
// Client talks to an Azure OpenAI style endpoint where every model is served
// by its own deployment route. ProxyClient sends the same requests through a
// running azchat server. Both support blocking and streaming completions.
//
// # Key Types
//
//   - Client: Direct client for the remote deployment endpoint
//   - ProxyClient: Client for the local /api/chat route
//   - Completer, StreamCompleter: Interfaces consumed by the session manager
//   - UpstreamError, TransportError: Remote and connection failures
//
// # Usage
//
//	client := cloud.NewClient(apiKey, endpoint, cloud.DefaultAPIVersion)
//	resp, err := client.Complete(ctx, cloud.Request{
//	    Model:    "gpt-4.1",
//	    Messages: []cloud.Turn{{Role: model.RoleUser, Content: "Hello"}},
//	})
//
// Streaming:
//
//	err := client.CompleteStreaming(ctx, req,
//	    func(s string) { fmt.Print(s) },
//	    func() { fmt.Println() })
//
// # Stream Format
//
// Replies arrive as text/event-stream lines of the form "data: {json}". The
// literal "data: [DONE]" ends the stream. Lines that fail to parse are logged
// and skipped.
package cloud
