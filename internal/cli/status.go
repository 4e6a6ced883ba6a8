// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Configuration, connectivity and storage overview.
//
// Usage: azchat status [--json]

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/azchat/internal/offline"
	"github.com/jeranaias/azchat/internal/storage"
)

// StatusReport is the --json form of the status command.
type StatusReport struct {
	Version      string         `json:"version"`
	Endpoint     string         `json:"endpoint"`
	APIVersion   string         `json:"apiVersion"`
	Configured   bool           `json:"configured"`
	KeyID        string         `json:"keyId"`
	ProxyURL     string         `json:"proxyUrl,omitempty"`
	DefaultModel string         `json:"defaultModel"`
	Connectivity offline.Status `json:"connectivity"`
	Backend      string         `json:"backend"`
	StoragePath  string         `json:"storagePath,omitempty"`
	Storage      storage.Usage  `json:"storage"`
	Current      string         `json:"currentSession,omitempty"`
}

func newStatusCommand(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration, connectivity and storage status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(a.stdout, a.statusReport(store))
			}
			printStatus(a.stdout, a, store)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	return cmd
}

func (a *app) statusReport(store *storage.Store) StatusReport {
	client := a.azureClient()
	r := StatusReport{
		Version:      Version,
		Endpoint:     a.cfg.Azure.Endpoint,
		APIVersion:   a.cfg.Azure.APIVersion,
		Configured:   client.IsConfigured(),
		KeyID:        client.KeyFingerprint(),
		ProxyURL:     a.cfg.Server.ProxyURL,
		DefaultModel: a.cfg.DefaultModel,
		Connectivity: a.connectivity().Status(),
		Backend:      a.cfg.Storage.Backend,
		Storage:      store.Usage(),
	}
	if a.cfg.Storage.Backend != "memory" {
		r.StoragePath, _ = a.cfg.StoragePath()
	}
	r.Current, _ = store.CurrentSessionID()
	return r
}

// printStatus writes the human-readable status overview to w.
func printStatus(w io.Writer, a *app, store *storage.Store) {
	r := a.statusReport(store)

	fmt.Fprintln(w, TitleStyle.Render("azchat "+r.Version))
	fmt.Fprintln(w)

	fmt.Fprintln(w, SectionStyle.Render("Azure OpenAI"))
	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = "(not set)"
	}
	cred := "ok"
	if !r.Configured {
		cred = "fail"
	}
	fmt.Fprintln(w, RenderField("Endpoint", endpoint))
	fmt.Fprintln(w, RenderField("API version", r.APIVersion))
	fmt.Fprintln(w, RenderField("API key", RenderStatus(cred)+" "+DimStyle.Render("id "+r.KeyID)))
	fmt.Fprintln(w, RenderField("Default model", r.DefaultModel))
	if r.ProxyURL != "" {
		fmt.Fprintln(w, RenderField("Proxy", r.ProxyURL))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, SectionStyle.Render("Connectivity"))
	conn := "ok"
	if !r.Connectivity.Online {
		conn = "warn"
	}
	fmt.Fprintln(w, RenderField("Network", RenderStatus(conn)+" "+r.Connectivity.String()))
	fmt.Fprintln(w)

	fmt.Fprintln(w, SectionStyle.Render("Storage"))
	fmt.Fprintln(w, RenderField("Backend", r.Backend))
	if r.StoragePath != "" {
		fmt.Fprintln(w, RenderField("Path", r.StoragePath))
	}
	u := r.Storage
	fmt.Fprintln(w, RenderField("Sessions", fmt.Sprintf("%d / %d", u.Sessions, u.MaxSessions)))
	usage := "ok"
	if u.MaxBytes > 0 && u.Bytes*10 >= u.MaxBytes*9 {
		usage = "warn"
	}
	fmt.Fprintln(w, RenderField("Size", RenderStatus(usage)+" "+fmt.Sprintf("%s / %s", formatBytes(u.Bytes), formatBytes(u.MaxBytes))))
	if r.Current != "" {
		fmt.Fprintln(w, RenderField("Current session", r.Current))
	}

	if !r.Configured && r.ProxyURL == "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, WarningStyle.Render("Set AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_API_KEY, or add an [azure] section to config.toml."))
	}
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
