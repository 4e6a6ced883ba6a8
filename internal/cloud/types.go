// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"fmt"

	"github.com/jeranaias/azchat/internal/model"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Completer performs blocking chat completions.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// StreamCompleter additionally streams replies fragment by fragment.
//
// CompleteStreaming blocks until the stream ends. onChunk receives fragments
// in arrival order; onComplete runs exactly once when the stream finishes
// normally and never when an error is returned.
type StreamCompleter interface {
	Completer
	CompleteStreaming(ctx context.Context, req Request, onChunk func(string), onComplete func()) error
}

// =============================================================================
// REQUEST / RESPONSE
// =============================================================================

// Turn is one role/content pair sent to the endpoint.
type Turn struct {
	Role    model.Role `json:"role"`
	Content string     `json:"content"`
}

// Request is a completion request in the client's canonical shape.
type Request struct {
	Messages []Turn `json:"messages"`
	Model    string `json:"model"`

	// Temperature and MaxTokens override the model defaults when set.
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}

// Usage is token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Response is a completed reply.
type Response struct {
	ID           string `json:"id,omitempty"`
	Model        string `json:"model,omitempty"`
	Content      string `json:"content"`
	FinishReason string `json:"finishReason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
}

// TurnsFrom converts session messages into request turns.
func TurnsFrom(msgs []model.Message) []Turn {
	turns := make([]Turn, len(msgs))
	for i, m := range msgs {
		turns[i] = Turn{Role: m.Role, Content: m.Content}
	}
	return turns
}

// Validate checks the request shape and resolves the model descriptor.
// It never touches the network.
func (r Request) Validate() (model.Descriptor, error) {
	d, ok := model.Lookup(r.Model)
	if !ok {
		return model.Descriptor{}, fmt.Errorf("%w: %q", ErrInvalidModel, r.Model)
	}
	if len(r.Messages) == 0 {
		return d, fmt.Errorf("%w: messages are required", ErrInvalidInput)
	}
	for i, t := range r.Messages {
		if !t.Role.Valid() {
			return d, fmt.Errorf("%w: message %d has invalid role %q", ErrInvalidInput, i, t.Role)
		}
	}
	return d, nil
}

// =============================================================================
// WIRE FORMAT
// =============================================================================

// chatRequest is the JSON body sent to the remote endpoint.
type chatRequest struct {
	Messages    []Turn  `json:"messages"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Stream      bool    `json:"stream"`
}

// chatResponse is the non-streaming remote response.
type chatResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// toResponse translates the wire response into the canonical shape.
func (r *chatResponse) toResponse() *Response {
	resp := &Response{ID: r.ID, Model: r.Model}
	if len(r.Choices) > 0 {
		resp.Content = r.Choices[0].Message.Content
		resp.FinishReason = r.Choices[0].FinishReason
	}
	if r.Usage != nil {
		resp.Usage = &Usage{
			PromptTokens:     r.Usage.PromptTokens,
			CompletionTokens: r.Usage.CompletionTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
	}
	return resp
}
