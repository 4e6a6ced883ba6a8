// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Root command and shared wiring for azchat.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/jeranaias/azchat/internal/cloud"
	"github.com/jeranaias/azchat/internal/config"
	"github.com/jeranaias/azchat/internal/logging"
	"github.com/jeranaias/azchat/internal/model"
	"github.com/jeranaias/azchat/internal/offline"
	"github.com/jeranaias/azchat/internal/session"
	"github.com/jeranaias/azchat/internal/storage"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// APPLICATION STATE
// =============================================================================

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	model      string
	offline    bool
	color      string
}

// app carries the resolved configuration and the lazily built services
// for one command invocation.
type app struct {
	flags globalFlags

	cfg    *config.Config
	log    *log.Logger
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader

	store   *storage.Store
	client  cloud.Completer
	monitor *offline.Monitor
}

// NewRootCommand builds the azchat command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "azchat",
		Short: "Chat with Azure OpenAI models from the terminal",
		Long: `azchat is a terminal client for Azure OpenAI chat deployments.

Conversations are kept as sessions in a local store, replies can be
streamed as they are generated, and a small local proxy server lets
other tools use the same credentials.

Quick Start:
  azchat chat                          Start an interactive chat
  azchat ask "Explain TCP slow start"  One-shot question
  azchat sessions list                 List saved sessions
  azchat serve                         Run the local proxy on :8787

Configuration is read from ~/.azchat/config.toml, .env files and the
AZURE_OPENAI_* / AZCHAT_* environment variables.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "Path to config.toml (default ~/.azchat/config.toml)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVarP(&a.flags.model, "model", "m", "", "Model to use for new sessions")
	pf.BoolVar(&a.flags.offline, "offline", false, "Force offline mode (no requests are sent)")
	pf.StringVar(&a.flags.color, "color", "", "Color output: auto, always, never")

	root.AddCommand(
		newChatCommand(a),
		newAskCommand(a),
		newSessionsCommand(a),
		newModelsCommand(a),
		newStatusCommand(a),
		newServeCommand(a),
	)
	return root
}

// Execute runs the root command and exits with the mapped exit code.
func Execute() {
	root := NewRootCommand()
	if err := root.Execute(); err != nil {
		DisplayError(root.ErrOrStderr(), err)
		os.Exit(ExitCode(err))
	}
}

// setup loads the configuration and configures logging and colors.
func (a *app) setup(cmd *cobra.Command) error {
	a.stdout = cmd.OutOrStdout()
	a.stderr = cmd.ErrOrStderr()
	a.stdin = cmd.InOrStdin()

	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.logLevel != "" {
		if _, ok := logging.ParseLevel(a.flags.logLevel); !ok {
			return &ValidationError{Field: "log level", Value: a.flags.logLevel, Reason: "unknown level", Example: "--log-level debug"}
		}
		cfg.LogLevel = a.flags.logLevel
	}
	if a.flags.model != "" {
		if !model.IsValid(a.flags.model) {
			return &ValidationError{Field: "model", Value: a.flags.model, Reason: "unknown model", Example: "--model gpt-4.1"}
		}
		cfg.DefaultModel = a.flags.model
	}
	if a.flags.offline {
		cfg.Network.OfflineMode = true
	}
	if a.flags.color != "" {
		cfg.UI.Color = a.flags.color
	}
	a.cfg = cfg

	a.log = logging.New(cfg.LogLevel, a.stderr)
	logging.SetDefault(a.log)
	configureColors(cfg.UI.Color, a.stdout)
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// =============================================================================
// SERVICE WIRING
// =============================================================================

// openStore builds the session store on the configured backend.
func (a *app) openStore() (*storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	sc := a.cfg.Storage
	var backend storage.Backend
	switch sc.Backend {
	case "memory":
		backend = storage.NewMemoryBackend(sc.QuotaBytes)
	case "sqlite":
		path, err := a.cfg.StoragePath()
		if err != nil {
			return nil, err
		}
		b, err := storage.NewSQLiteBackend(path, sc.QuotaBytes)
		if err != nil {
			return nil, fmt.Errorf("open session database: %w", err)
		}
		backend = b
	default:
		dir, err := a.cfg.StoragePath()
		if err != nil {
			return nil, err
		}
		b, err := storage.NewFileBackend(dir, sc.QuotaBytes)
		if err != nil {
			return nil, fmt.Errorf("open session directory: %w", err)
		}
		backend = b
	}

	a.store = storage.New(backend, storage.Options{
		Prefix:      sc.Prefix,
		MaxSessions: sc.MaxSessions,
		MaxMessages: sc.MaxMessages,
		MaxBytes:    sc.MaxBytes,
		Logger:      a.log,
	})
	return a.store, nil
}

// completer returns the completion client: the local proxy when proxy_url
// is set, otherwise the Azure endpoint directly.
func (a *app) completer() cloud.Completer {
	if a.client != nil {
		return a.client
	}
	if a.cfg.Server.ProxyURL != "" {
		a.client = cloud.NewProxyClient(a.cfg.Server.ProxyURL).WithLogger(a.log)
	} else {
		a.client = a.azureClient()
	}
	return a.client
}

// azureClient builds a client for the configured Azure endpoint.
func (a *app) azureClient() *cloud.Client {
	az := a.cfg.Azure
	return cloud.NewClient(az.APIKey, az.Endpoint, az.APIVersion).
		WithDeployments(a.cfg.Deployments).
		WithLogger(a.log)
}

// targetURL is where completions are sent.
func (a *app) targetURL() string {
	if a.cfg.Server.ProxyURL != "" {
		return a.cfg.Server.ProxyURL
	}
	return a.cfg.Azure.Endpoint
}

// connectivity returns the monitor, honoring forced offline mode.
func (a *app) connectivity() *offline.Monitor {
	if a.monitor == nil {
		a.monitor = offline.NewMonitor(true)
		a.monitor.SetForcedOffline(a.cfg.Network.OfflineMode)
	}
	return a.monitor
}

// startProbe runs the interface probe until ctx ends. Unset and loopback
// targets are never probed.
func (a *app) startProbe(ctx context.Context) {
	if a.targetURL() == "" {
		return
	}
	if u, err := url.Parse(a.targetURL()); err == nil && u.Host != "" && offline.IsLocalhost(u.Hostname()) {
		a.log.Debug("loopback target, connectivity probe disabled", "url", a.targetURL())
		return
	}

	mon := a.connectivity()
	probe := offline.NewInterfaceProbe(time.Duration(a.cfg.Network.ProbeIntervalSecs) * time.Second)
	go func() {
		if err := mon.Run(ctx, probe); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("connectivity probe stopped", "err", err)
		}
	}()
}

// manager builds an initialised session manager over the store.
func (a *app) manager() (*session.Manager, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	mgr := session.NewManager(store, a.completer(), a.connectivity(), a.log)
	mgr.Init()
	return mgr, nil
}

// watchStore refreshes mgr when another process changes the store.
func (a *app) watchStore(ctx context.Context, mgr *session.Manager) {
	if !a.cfg.Storage.Watch || a.store == nil {
		return
	}
	go func() {
		err := a.store.Watch(ctx, mgr.Refresh)
		switch {
		case err == nil, errors.Is(err, storage.ErrWatchUnsupported):
		default:
			a.log.Warn("store watcher stopped", "err", err)
		}
	}()
}
