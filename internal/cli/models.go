// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - List the model catalog.

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeranaias/azchat/internal/model"
)

func newModelsCommand(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:     "models",
		Aliases: []string{"model"},
		Short:   "List available models",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOut {
				return writeJSON(a.stdout, struct {
					Models  []model.Descriptor `json:"models"`
					Default string             `json:"default"`
				}{model.Catalog(), a.cfg.DefaultModel})
			}
			fmt.Fprint(a.stdout, model.FormatModelList(a.cfg.DefaultModel))
			fmt.Fprintln(a.stdout)
			fmt.Fprintln(a.stdout, DimStyle.Render("* default for new sessions; change with --model or default_model"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	return cmd
}
