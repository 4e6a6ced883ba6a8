// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - Run the local completion proxy.
//
// Examples:
//   azchat serve
//   azchat serve --addr 127.0.0.1:9000

package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/azchat/internal/cloud"
	"github.com/jeranaias/azchat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local completion proxy",
		Long: `Run an HTTP server that forwards chat completions to Azure OpenAI.

Endpoints:
  POST /api/chat     Completion (set "stream": true for server-sent events)
  GET  /api/models   Model catalog
  GET  /health       Liveness and connectivity

Other azchat instances can use it by setting server.proxy_url.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return runServe(ctx, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default "+server.DefaultAddr+")")
	return cmd
}

func runServe(ctx context.Context, a *app) error {
	client := a.azureClient()
	if !client.IsConfigured() {
		return cloud.ErrNotConfigured
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(client, a.connectivity(), server.Options{
		Addr:         a.cfg.Server.Addr,
		MaxBodyBytes: a.cfg.Server.MaxBodyBytes,
		Logger:       a.log.WithPrefix("server"),
	})
	a.startProbe(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Fprintf(a.stdout, "%s http://%s %s\n",
		SuccessStyle.Render("Listening on"), srv.Addr(), DimStyle.Render("(Ctrl+C to stop)"))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
