// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question command.
//
// Examples:
//   azchat ask "What is a goroutine?"
//   azchat ask --stream "Summarise RFC 9110"
//   azchat ask --session <id> "And in HTTP/3?"
//   azchat ask --image diagram.png "What does this show?"
//   echo "Review this" | azchat ask

package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/azchat/internal/session"
)

// MaxImageBytes bounds a single attached image.
const MaxImageBytes = 4 << 20

type askOptions struct {
	stream    bool
	noStream  bool
	sessionID string
	images    []string
	raw       bool
}

func newAskCommand(a *app) *cobra.Command {
	var opts askOptions

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question",
		Long: `Ask a single question and print the reply.

The question is taken from the arguments, or from stdin when no arguments
are given. A new session is created unless --session names an existing one,
so every question stays available in "azchat sessions".`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), a, opts, args)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.stream, "stream", "s", false, "Stream the reply as it is generated")
	f.BoolVar(&opts.noStream, "no-stream", false, "Wait for the whole reply")
	f.StringVar(&opts.sessionID, "session", "", "Continue an existing session")
	f.StringArrayVarP(&opts.images, "image", "i", nil, "Attach an image file (repeatable)")
	f.BoolVar(&opts.raw, "raw", false, "Print the reply without markdown rendering")
	cmd.MarkFlagsMutuallyExclusive("stream", "no-stream")
	return cmd
}

func runAsk(ctx context.Context, a *app, opts askOptions, args []string) error {
	question, err := readQuestion(a.stdin, args)
	if err != nil {
		return err
	}

	images, err := loadImages(opts.images)
	if err != nil {
		return err
	}

	mgr, err := a.manager()
	if err != nil {
		return err
	}

	if opts.sessionID != "" {
		if !mgr.LoadSession(opts.sessionID) {
			return ErrNotFound("session", opts.sessionID)
		}
	} else {
		mgr.CreateSession(a.cfg.DefaultModel)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	a.startProbe(ctx)

	stream := a.cfg.UI.Stream
	if opts.stream {
		stream = true
	}
	if opts.noStream {
		stream = false
	}

	render := newMarkdownRenderer(a.cfg.UI.RenderMarkdown && !opts.raw, a.stdout)
	return sendAndPrint(ctx, a.stdout, mgr, render, question, images, stream)
}

// sendAndPrint sends one message and writes the reply to w. Streamed
// fragments are printed as they arrive; with markdown rendering enabled the
// reply is printed once, rendered, after it completes. A terminal shows a
// spinner until the first output.
func sendAndPrint(ctx context.Context, w io.Writer, mgr *session.Manager, render *markdownRenderer, content string, images []string, stream bool) error {
	think := startThinking(w, "Thinking")
	defer think.Stop()

	var err error
	if stream && !render.Enabled() {
		err = mgr.SendMessageStreaming(ctx, content, images, func(chunk string) {
			think.Stop()
			fmt.Fprint(w, chunk)
		})
		if err == nil {
			fmt.Fprintln(w)
		}
	} else if stream {
		err = mgr.SendMessageStreaming(ctx, content, images, nil)
	} else {
		err = mgr.SendMessage(ctx, content, images)
	}
	think.Stop()
	if err != nil {
		return err
	}

	if stream && !render.Enabled() {
		return nil
	}
	st := mgr.State()
	if st.Current == nil {
		return nil
	}
	if last := st.Current.LastMessage(); last != nil {
		out := render.Render(last.Content)
		fmt.Fprint(w, out)
		if !strings.HasSuffix(out, "\n") {
			fmt.Fprintln(w)
		}
	}
	return nil
}

// readQuestion joins args, or reads stdin when there are none.
func readQuestion(stdin io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		q := strings.TrimSpace(strings.Join(args, " "))
		if q != "" {
			return q, nil
		}
	}
	if stdin == nil || (stdin == os.Stdin && IsStdinTTY()) {
		return "", &ValidationError{Field: "question", Reason: "no question given", Example: `azchat ask "What is a goroutine?"`}
	}
	data, err := io.ReadAll(io.LimitReader(stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read question from stdin: %w", err)
	}
	q := strings.TrimSpace(string(data))
	if q == "" {
		return "", &ValidationError{Field: "question", Reason: "no question given", Example: `azchat ask "What is a goroutine?"`}
	}
	return q, nil
}

// loadImages reads each path and encodes it as a data URI.
func loadImages(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	uris := make([]string, 0, len(paths))
	for _, p := range paths {
		uri, err := imageDataURI(p)
		if err != nil {
			return nil, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

func imageDataURI(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("attach image: %w", err)
	}
	if info.Size() > MaxImageBytes {
		return "", &ValidationError{Field: "image", Value: path, Reason: fmt.Sprintf("larger than %d bytes", MaxImageBytes)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("attach image: %w", err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", &ValidationError{Field: "image", Value: path, Reason: "not an image (" + mimeType + ")"}
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
