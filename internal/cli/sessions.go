// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// sessions.go - Session management commands.
//
// Subcommands:
//   list (default)          List saved sessions, newest first
//   search <query>          Find sessions by title or message text
//   show <id>               Print a session transcript
//   delete <id>...          Delete sessions
//   export <id>             Export one session (json, yaml, markdown)
//   backup [file]           Write every session as one JSON array
//   import <file>           Import sessions from a backup
//   clear --yes             Delete every session
//
// Examples:
//   azchat sessions
//   azchat sessions search kubernetes
//   azchat sessions export <id> --format markdown --output ~/notes
//   azchat sessions backup > sessions.json
//   azchat sessions import sessions.json

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/azchat/internal/export"
	"github.com/jeranaias/azchat/internal/model"
	"github.com/jeranaias/azchat/internal/storage"
	"github.com/jeranaias/azchat/internal/util"
)

func newSessionsCommand(a *app) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session", "s"},
		Short:   "Manage saved chat sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionList(a, "", jsonOut)
		},
	}
	cmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")

	cmd.AddCommand(
		&cobra.Command{
			Use:     "list",
			Aliases: []string{"ls"},
			Short:   "List saved sessions",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessionList(a, "", jsonOut)
			},
		},
		&cobra.Command{
			Use:   "search <query>",
			Short: "Find sessions by title or message text",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessionList(a, strings.Join(args, " "), jsonOut)
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Print a session transcript",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessionShow(a, args[0], jsonOut)
			},
		},
		&cobra.Command{
			Use:     "delete <id>...",
			Aliases: []string{"rm"},
			Short:   "Delete sessions",
			Args:    cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessionDelete(a, args)
			},
		},
		newSessionExportCommand(a),
		newSessionBackupCommand(a),
		&cobra.Command{
			Use:   "import <file>",
			Short: "Import sessions from a backup file (- for stdin)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSessionImport(a, args[0])
			},
		},
		newSessionClearCommand(a),
	)
	return cmd
}

// =============================================================================
// LIST / SHOW / DELETE
// =============================================================================

func runSessionList(a *app, query string, jsonOut bool) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}

	list := store.Search(query)
	if jsonOut {
		return writeJSON(a.stdout, list)
	}

	currentID, _ := store.CurrentSessionID()
	if len(list) == 0 && query != "" {
		fmt.Fprintf(a.stdout, "No sessions match %q.\n", query)
		return nil
	}
	fmt.Fprint(a.stdout, storage.FormatSessionList(list, currentID))
	return nil
}

func runSessionShow(a *app, id string, jsonOut bool) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	sess, ok := store.GetSession(id)
	if !ok {
		return ErrNotFound("session", id)
	}
	if jsonOut {
		return writeJSON(a.stdout, sess)
	}
	printTranscript(a.stdout, sess, newMarkdownRenderer(a.cfg.UI.RenderMarkdown, a.stdout))
	return nil
}

func runSessionDelete(a *app, ids []string) error {
	mgr, err := a.manager()
	if err != nil {
		return err
	}
	store := a.store
	for _, id := range ids {
		if _, ok := store.GetSession(id); !ok {
			return ErrNotFound("session", id)
		}
		mgr.DeleteSession(id)
		fmt.Fprintln(a.stdout, SuccessStyle.Render("Deleted ")+id)
	}
	return nil
}

// =============================================================================
// EXPORT / BACKUP / IMPORT
// =============================================================================

func newSessionExportCommand(a *app) *cobra.Command {
	var (
		format    string
		outputDir string
		toStdout  bool
		open      bool
		noMeta    bool
	)

	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export one session as json, yaml or markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			sess, ok := store.GetSession(args[0])
			if !ok {
				return ErrNotFound("session", args[0])
			}

			opts := export.DefaultOptions()
			opts.OutputDir = outputDir
			opts.OpenAfterExport = open
			opts.IncludeMetadata = !noMeta

			if toStdout {
				exp, err := newExporter(format, opts)
				if err != nil {
					return err
				}
				data, err := exp.Export(sess)
				if err != nil {
					return err
				}
				_, err = a.stdout.Write(data)
				return err
			}

			path, err := exportSession(sess, format, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, SuccessStyle.Render("Exported to ")+path)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&format, "format", "f", "markdown", "Export format: "+strings.Join(export.Formats, ", "))
	f.StringVarP(&outputDir, "output", "o", ".", "Output directory")
	f.BoolVar(&toStdout, "stdout", false, "Write to stdout instead of a file")
	f.BoolVar(&open, "open", false, "Open the file after exporting")
	f.BoolVar(&noMeta, "no-metadata", false, "Omit session metadata (markdown)")
	return cmd
}

func newSessionBackupCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup [file]",
		Short: "Write every session as one JSON array (stdout when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			data, err := store.ExportAll()
			if err != nil {
				return err
			}
			if len(args) == 0 || args[0] == "-" {
				fmt.Fprintln(a.stdout, data)
				return nil
			}
			if err := util.AtomicWriteFile(args[0], []byte(data), 0600); err != nil {
				return fmt.Errorf("write backup: %w", err)
			}
			fmt.Fprintf(a.stdout, "%s %d session(s) to %s\n",
				SuccessStyle.Render("Backed up"), store.Usage().Sessions, args[0])
			return nil
		},
	}
}

func runSessionImport(a *app, path string) error {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(a.stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read import file: %w", err)
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	n, err := store.ImportAll(string(data))
	if n > 0 || err == nil {
		fmt.Fprintf(a.stdout, "%s %d session(s)\n", SuccessStyle.Render("Imported"), n)
	}
	if err != nil {
		return fmt.Errorf("import sessions: %w", err)
	}
	return nil
}

func newSessionClearCommand(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return &ValidationError{Field: "confirmation", Reason: "clear deletes every session", Example: "azchat sessions clear --yes"}
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			n := store.Usage().Sessions
			if err := store.ClearAll(); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s %d session(s)\n", SuccessStyle.Render("Deleted"), n)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}

// =============================================================================
// HELPERS
// =============================================================================

func newExporter(format string, opts *export.Options) (export.Exporter, error) {
	exp, err := export.NewExporter(format, opts)
	if err != nil {
		return nil, ErrUnsupportedFormat(format, export.Formats)
	}
	return exp, nil
}

// exportSession writes sess in format to opts.OutputDir and returns the path.
func exportSession(sess *model.Session, format string, opts *export.Options) (string, error) {
	exp, err := newExporter(format, opts)
	if err != nil {
		return "", err
	}
	return export.ExportToFile(sess, exp, opts)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
