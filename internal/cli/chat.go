// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat REPL.
//
// Examples:
//   azchat chat                    Resume the last session or start a new one
//   azchat chat --new -m o3        Start a fresh session on o3
//   azchat chat --session <id>     Resume a specific session
//
// Slash commands are listed by /help.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/azchat/internal/export"
	"github.com/jeranaias/azchat/internal/model"
	"github.com/jeranaias/azchat/internal/offline"
	"github.com/jeranaias/azchat/internal/session"
	"github.com/jeranaias/azchat/internal/storage"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads one line of input per prompt.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// historyReader provides line editing and persistent history via liner.
type historyReader struct {
	line        *liner.State
	historyFile string
}

func newHistoryReader(historyFile string) *historyReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlashCommand)

	r := &historyReader{line: line, historyFile: historyFile}
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

// ReadLine prompts and records non-empty input in the history.
func (r *historyReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (r *historyReader) Close() error {
	if r.historyFile != "" {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	return r.line.Close()
}

// plainReader reads lines from a non-terminal stdin, e.g. a pipe in tests.
type plainReader struct {
	r *bufio.Reader
}

func newPlainReader(r io.Reader) *plainReader {
	return &plainReader{r: bufio.NewReader(r)}
}

func (p *plainReader) ReadLine(string) (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *plainReader) Close() error { return nil }

// =============================================================================
// CHAT COMMAND
// =============================================================================

type chatOptions struct {
	newSession bool
	sessionID  string
	raw        bool
}

func newChatCommand(a *app) *cobra.Command {
	var opts chatOptions

	cmd := &cobra.Command{
		Use:     "chat",
		Aliases: []string{"c"},
		Short:   "Start an interactive chat",
		Long: `Start an interactive chat session.

The last active session is resumed unless --new or --session is given.
Type /help inside the chat for the list of commands; Ctrl+C cancels a
reply in progress, Ctrl+D or /quit leaves.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), a, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&opts.newSession, "new", "n", false, "Start a new session")
	f.StringVar(&opts.sessionID, "session", "", "Resume the session with this id")
	f.BoolVar(&opts.raw, "raw", false, "Print replies without markdown rendering")
	return cmd
}

// chatREPL holds the state of one interactive chat.
type chatREPL struct {
	app    *app
	mgr    *session.Manager
	store  *storage.Store
	in     lineReader
	out    io.Writer
	render *markdownRenderer
	stream bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

func runChat(ctx context.Context, a *app, opts chatOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	mgr, err := a.manager()
	if err != nil {
		return err
	}

	switch {
	case opts.sessionID != "":
		if !mgr.LoadSession(opts.sessionID) {
			return ErrNotFound("session", opts.sessionID)
		}
	case opts.newSession || mgr.State().Current == nil:
		mgr.CreateSession(a.cfg.DefaultModel)
	}

	a.startProbe(ctx)
	a.watchStore(ctx, mgr)

	repl := &chatREPL{
		app:    a,
		mgr:    mgr,
		store:  a.store,
		out:    a.stdout,
		render: newMarkdownRenderer(a.cfg.UI.RenderMarkdown && !opts.raw, a.stdout),
		stream: a.cfg.UI.Stream,
	}

	if a.stdin == os.Stdin && IsStdinTTY() {
		history, _ := a.cfg.HistoryPath()
		repl.in = newHistoryReader(history)
	} else {
		repl.in = newPlainReader(a.stdin)
	}
	defer repl.in.Close()

	unsubscribe := a.connectivity().Subscribe(func(s offline.Status) {
		if s.Online {
			fmt.Fprintln(repl.out, "\n"+SuccessStyle.Render("[ONLINE]")+" "+DimStyle.Render("connection restored"))
		} else {
			fmt.Fprintln(repl.out, "\n"+WarningStyle.Render(offline.StatusBadge(s))+" "+DimStyle.Render("messages cannot be sent"))
		}
	})
	defer unsubscribe()

	// First Ctrl+C cancels the reply in progress; at the prompt liner
	// reports it as ErrPromptAborted.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			repl.cancelSend()
		}
	}()

	return repl.loop(ctx)
}

func (r *chatREPL) loop(ctx context.Context) error {
	r.printHeader()

	for {
		input, err := r.in.ReadLine(promptStyle.Render("azchat> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			return nil
		}

		if strings.HasPrefix(input, "/") {
			quit, err := r.handleSlashCommand(input)
			if err != nil {
				DisplayError(r.out, err)
			}
			if quit {
				return nil
			}
			continue
		}

		r.send(ctx, input)
	}
}

// send dispatches one message and prints the reply or the error. The
// manager's last error is cleared once shown.
func (r *chatREPL) send(ctx context.Context, input string) {
	sendCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	fmt.Fprintln(r.out, assistantLabelStyle.Render(r.modelLabel()))
	start := time.Now()
	if err := sendAndPrint(sendCtx, r.out, r.mgr, r.render, input, nil, r.stream); err != nil {
		fmt.Fprintln(r.out)
		DisplayError(r.out, err)
		r.mgr.ClearError()
		return
	}
	fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("(%s)", time.Since(start).Round(100*time.Millisecond))))
}

func (r *chatREPL) cancelSend() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
		fmt.Fprintln(r.out, "\n"+WarningStyle.Render("[Cancelled]"))
	}
}

func (r *chatREPL) modelLabel() string {
	st := r.mgr.State()
	if st.Current == nil {
		return "[Assistant]"
	}
	if d, ok := model.Lookup(st.Current.Model); ok {
		return "[" + d.DisplayName + "]"
	}
	return "[" + st.Current.Model + "]"
}

func (r *chatREPL) printHeader() {
	st := r.mgr.State()
	fmt.Fprintln(r.out, TitleStyle.Render("azchat "+Version))
	if st.Current != nil {
		fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("Session %q on %s, %d message(s). Type /help for commands.",
			st.Current.Title, st.Current.Model, len(st.Current.Messages))))
	}
	if mon := r.app.connectivity(); !mon.IsOnline() {
		fmt.Fprintln(r.out, WarningStyle.Render(offline.StatusBadge(mon.Status())))
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// slashCommands lists the REPL commands with their help text.
var slashCommands = []struct {
	name string
	args string
	help string
}{
	{"/help", "", "Show this help"},
	{"/new", "[model]", "Start a new session"},
	{"/sessions", "[query]", "List sessions, optionally filtered"},
	{"/load", "<id>", "Switch to a session"},
	{"/delete", "[id]", "Delete a session (default: current)"},
	{"/model", "[id]", "Show or change the current session's model"},
	{"/models", "", "List available models"},
	{"/history", "", "Print the current session's messages"},
	{"/export", "<json|yaml|markdown> [dir]", "Export the current session"},
	{"/stream", "on|off", "Toggle streaming replies"},
	{"/status", "", "Show connectivity and storage usage"},
	{"/quit", "", "Leave the chat"},
}

func completeSlashCommand(line string) []string {
	if !strings.HasPrefix(line, "/") || strings.Contains(line, " ") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c.name, line) {
			out = append(out, c.name)
		}
	}
	return out
}

// handleSlashCommand runs one REPL command; quit reports whether the loop
// should end.
func (r *chatREPL) handleSlashCommand(input string) (quit bool, err error) {
	fields := strings.Fields(input)
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/?":
		for _, c := range slashCommands {
			fmt.Fprintf(r.out, "  %s %s\n", LabelStyle.Render(runewidth.FillRight(c.name+" "+c.args, 36)), c.help)
		}

	case "/new":
		modelID := r.app.cfg.DefaultModel
		if len(args) > 0 {
			modelID = args[0]
			if !model.IsValid(modelID) {
				return false, &ValidationError{Field: "model", Value: modelID, Reason: "unknown model", Example: "/new gpt-4.1-mini"}
			}
		}
		id := r.mgr.CreateSession(modelID)
		fmt.Fprintln(r.out, SuccessStyle.Render("New session ")+DimStyle.Render(id))

	case "/sessions", "/ls":
		var list []model.SessionMeta
		if len(args) > 0 {
			list = r.store.Search(strings.Join(args, " "))
		} else {
			list = r.mgr.State().Sessions
		}
		fmt.Fprint(r.out, storage.FormatSessionList(list, r.currentID()))

	case "/load", "/resume":
		if len(args) == 0 {
			return false, &ValidationError{Field: "session id", Reason: "missing", Example: "/load <id>"}
		}
		if !r.mgr.LoadSession(args[0]) {
			return false, ErrNotFound("session", args[0])
		}
		r.printHeader()

	case "/delete":
		id := r.currentID()
		if len(args) > 0 {
			id = args[0]
		}
		if id == "" {
			return false, session.ErrNoActiveSession
		}
		r.mgr.DeleteSession(id)
		fmt.Fprintln(r.out, SuccessStyle.Render("Deleted ")+DimStyle.Render(id))
		if r.currentID() == "" {
			r.mgr.CreateSession(r.app.cfg.DefaultModel)
			fmt.Fprintln(r.out, DimStyle.Render("Started a new session."))
		}

	case "/model":
		if len(args) == 0 {
			fmt.Fprint(r.out, model.FormatModelList(r.currentModel()))
			return false, nil
		}
		if err := r.mgr.UpdateSessionModel(args[0]); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Model set to ")+args[0])

	case "/models":
		fmt.Fprint(r.out, model.FormatModelList(r.currentModel()))

	case "/history":
		st := r.mgr.State()
		if st.Current == nil {
			return false, session.ErrNoActiveSession
		}
		printTranscript(r.out, st.Current, r.render)

	case "/export":
		if len(args) == 0 {
			return false, &ValidationError{Field: "format", Reason: "missing", Example: "/export markdown"}
		}
		st := r.mgr.State()
		if st.Current == nil {
			return false, session.ErrNoActiveSession
		}
		opts := export.DefaultOptions()
		if len(args) > 1 {
			opts.OutputDir = args[1]
		}
		path, err := exportSession(st.Current, args[0], opts)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, SuccessStyle.Render("Exported to ")+path)

	case "/stream":
		switch {
		case len(args) == 0:
			r.stream = !r.stream
		case args[0] == "on":
			r.stream = true
		case args[0] == "off":
			r.stream = false
		default:
			return false, &ValidationError{Field: "stream", Value: args[0], Reason: "must be on or off"}
		}
		fmt.Fprintln(r.out, DimStyle.Render(fmt.Sprintf("Streaming %s", onOff(r.stream))))

	case "/status":
		printStatus(r.out, r.app, r.store)

	default:
		return false, &ValidationError{Field: "command", Value: cmd, Reason: "unknown command", Example: "/help"}
	}
	return false, nil
}

func (r *chatREPL) currentID() string {
	if st := r.mgr.State(); st.Current != nil {
		return st.Current.ID
	}
	return ""
}

func (r *chatREPL) currentModel() string {
	if st := r.mgr.State(); st.Current != nil {
		return st.Current.Model
	}
	return r.app.cfg.DefaultModel
}

// =============================================================================
// HELPERS
// =============================================================================

// printTranscript writes every message of sess with role labels.
func printTranscript(w io.Writer, sess *model.Session, render *markdownRenderer) {
	fmt.Fprintln(w, TitleStyle.Render(sess.Title))
	fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("%s  %s  %d message(s)", sess.ID, sess.Model, len(sess.Messages))))
	for _, msg := range sess.Messages {
		fmt.Fprintln(w)
		ts := msg.Time().Format("2006-01-02 15:04")
		switch msg.Role {
		case model.RoleUser:
			fmt.Fprintln(w, userLabelStyle.Render("[You]")+" "+DimStyle.Render(ts))
			fmt.Fprintln(w, msg.Content)
		default:
			fmt.Fprintln(w, assistantLabelStyle.Render("["+msg.Role.DisplayName()+"]")+" "+DimStyle.Render(ts))
			out := render.Render(msg.Content)
			fmt.Fprint(w, out)
			if !strings.HasSuffix(out, "\n") {
				fmt.Fprintln(w)
			}
		}
		if n := len(msg.Images); n > 0 {
			fmt.Fprintln(w, DimStyle.Render(fmt.Sprintf("(%d image(s) attached)", n)))
		}
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
