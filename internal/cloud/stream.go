// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

const (
	// MaxLineSize bounds a single buffered event-stream line (1MB).
	MaxLineSize = 1024 * 1024

	// readChunkSize is how much is read from the body per call.
	readChunkSize = 4096

	// doneSentinel marks the end of an event stream.
	doneSentinel = "[DONE]"
)

// ErrStreamTruncated is wrapped in a TransportError when the body ends
// before the completion sentinel arrives.
var ErrStreamTruncated = errors.New("stream ended before [DONE]")

// =============================================================================
// STREAM RECORDS
// =============================================================================

// streamRecord covers both the remote delta format and the local proxy's
// {"content": ...} / {"error": ...} records.
type streamRecord struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Content string          `json:"content"`
	Error   json.RawMessage `json:"error"`
}

// text returns the incremental content carried by the record.
func (r *streamRecord) text() string {
	if len(r.Choices) > 0 && r.Choices[0].Delta.Content != "" {
		return r.Choices[0].Delta.Content
	}
	return r.Content
}

// errorText returns the error message for error records, or "".
func (r *streamRecord) errorText() string {
	raw := bytes.TrimSpace(r.Error)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// =============================================================================
// LINE BUFFER
// =============================================================================

// lineBuffer splits a byte stream into newline-terminated lines. Bytes after
// the last newline are held until a later Feed completes the line.
type lineBuffer struct {
	pending []byte
}

// Feed appends chunk and returns every line it completed, without the
// trailing "\n" or "\r\n".
func (b *lineBuffer) Feed(chunk []byte) ([][]byte, error) {
	b.pending = append(b.pending, chunk...)
	var lines [][]byte
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(b.pending[:i], []byte("\r"))
		lines = append(lines, append([]byte(nil), line...))
		b.pending = b.pending[i+1:]
	}
	if len(b.pending) > MaxLineSize {
		return lines, fmt.Errorf("event-stream line exceeds %d bytes", MaxLineSize)
	}
	return lines, nil
}

// Pending returns the unterminated tail.
func (b *lineBuffer) Pending() []byte {
	return b.pending
}

// =============================================================================
// EVENT STREAM READER
// =============================================================================

// eventStream consumes a text/event-stream body.
type eventStream struct {
	body       io.Reader
	onChunk    func(string)
	onComplete func()
	log        *log.Logger
	parseLog   *rate.Sometimes
}

// run reads until the sentinel, an error record, or a read failure.
// onComplete is called exactly once, and only on a clean finish.
func (s *eventStream) run(ctx context.Context) error {
	var lines lineBuffer
	buf := make([]byte, readChunkSize)

	for {
		n, readErr := s.body.Read(buf)
		if n > 0 {
			complete, err := lines.Feed(buf[:n])
			for _, line := range complete {
				done, lineErr := s.handleLine(line)
				if lineErr != nil {
					return lineErr
				}
				if done {
					if s.onComplete != nil {
						s.onComplete()
					}
					return nil
				}
			}
			if err != nil {
				return &TransportError{Op: "stream", Err: err}
			}
		}

		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return &TransportError{Op: "stream", Err: ctxErr}
			}
			if errors.Is(readErr, io.EOF) {
				return &TransportError{Op: "stream", Err: ErrStreamTruncated}
			}
			return &TransportError{Op: "stream", Err: readErr}
		}
	}
}

// handleLine processes one complete line. It reports done on the sentinel.
func (s *eventStream) handleLine(line []byte) (bool, error) {
	payload, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		// Comments, event names, ids and blank separators.
		return false, nil
	}
	payload = bytes.TrimPrefix(payload, []byte(" "))

	if string(bytes.TrimSpace(payload)) == doneSentinel {
		return true, nil
	}

	var rec streamRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.parseLog.Do(func() {
			s.log.Warn("skipping unparseable stream record", "err", err, "bytes", len(payload))
		})
		return false, nil
	}
	if msg := rec.errorText(); msg != "" {
		return false, &UpstreamError{StatusCode: 502, Body: msg}
	}
	if text := rec.text(); text != "" && s.onChunk != nil {
		s.onChunk(text)
	}
	return false, nil
}

// =============================================================================
// STREAMING COMPLETION
// =============================================================================

// CompleteStreaming sends req with streaming enabled and forwards content
// fragments to onChunk as they arrive. It blocks until the stream ends.
//
// onComplete is invoked exactly once after the [DONE] sentinel. If the
// connection fails, or the body ends without the sentinel, a *TransportError
// is returned and onComplete is not invoked.
func (c *Client) CompleteStreaming(ctx context.Context, req Request, onChunk func(string), onComplete func()) error {
	httpReq, err := c.newRequest(ctx, req, true)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &TransportError{Op: "request", Err: err}
	}
	defer resp.Body.Close()
	c.logResponse(httpReq, resp, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := readResponse(resp)
		if readErr != nil {
			return &TransportError{Op: "read", Err: readErr}
		}
		return &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	stream := &eventStream{
		body:       resp.Body,
		onChunk:    onChunk,
		onComplete: onComplete,
		log:        c.log,
		parseLog:   &c.parseLog,
	}
	return stream.run(ctx)
}
