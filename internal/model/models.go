// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultModel is selected for new sessions when nothing else is configured.
const DefaultModel = "gpt-4.1"

// =============================================================================
// MODEL DESCRIPTOR
// =============================================================================

// Descriptor is a static catalog entry for a selectable model.
type Descriptor struct {
	// ID is the identifier used by sessions and the local API
	ID string `json:"id"`

	// DisplayName is the human-readable name
	DisplayName string `json:"name"`

	// Description is a brief explanation of the model's strengths
	Description string `json:"description"`

	// MaxTokens is the default completion token limit
	MaxTokens int `json:"maxTokens"`

	// DefaultTemperature is used when a request sets none
	DefaultTemperature float64 `json:"temperature"`

	// Deployment is the default remote deployment name serving the model
	Deployment string `json:"deployment"`

	// order keeps the catalog listing stable
	order int
}

// =============================================================================
// MODEL CATALOG
// =============================================================================

// Models is the catalog of models the client can talk to, keyed by ID.
var Models = map[string]Descriptor{
	"o3": {
		ID:                 "o3",
		DisplayName:        "O3",
		Description:        "Most capable model for complex tasks",
		MaxTokens:          8192,
		DefaultTemperature: 0.7,
		Deployment:         "o3-deployment",
		order:              0,
	},
	"o4-mini": {
		ID:                 "o4-mini",
		DisplayName:        "O4 Mini",
		Description:        "Balanced performance and cost",
		MaxTokens:          4096,
		DefaultTemperature: 0.7,
		Deployment:         "o4-mini-deployment",
		order:              1,
	},
	"gpt-4.1": {
		ID:                 "gpt-4.1",
		DisplayName:        "GPT-4.1",
		Description:        "Advanced reasoning capabilities",
		MaxTokens:          8192,
		DefaultTemperature: 0.7,
		Deployment:         "gpt-4-1-deployment",
		order:              2,
	},
	"gpt-4.1-mini": {
		ID:                 "gpt-4.1-mini",
		DisplayName:        "GPT-4.1 Mini",
		Description:        "Efficient version of GPT-4.1",
		MaxTokens:          4096,
		DefaultTemperature: 0.7,
		Deployment:         "gpt-4-1-mini-deployment",
		order:              3,
	},
	"gpt-4.1-nano": {
		ID:                 "gpt-4.1-nano",
		DisplayName:        "GPT-4.1 Nano",
		Description:        "Fast responses for simple tasks",
		MaxTokens:          2048,
		DefaultTemperature: 0.7,
		Deployment:         "gpt-4-1-nano-deployment",
		order:              4,
	},
}

// Lookup returns the descriptor for id.
func Lookup(id string) (Descriptor, bool) {
	d, ok := Models[id]
	return d, ok
}

// IsValid reports whether id names a catalog model.
func IsValid(id string) bool {
	_, ok := Models[id]
	return ok
}

// Catalog returns every descriptor in display order.
func Catalog() []Descriptor {
	out := make([]Descriptor, 0, len(Models))
	for _, d := range Models {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].order < out[j].order })
	return out
}

// IDs returns every catalog model ID in display order.
func IDs() []string {
	catalog := Catalog()
	ids := make([]string, len(catalog))
	for i, d := range catalog {
		ids[i] = d.ID
	}
	return ids
}

// FormatModelList renders the catalog as an aligned text table.
func FormatModelList(current string) string {
	var sb strings.Builder
	sb.WriteString("Available models:\n\n")
	for _, d := range Catalog() {
		marker := "  "
		if d.ID == current {
			marker = "* "
		}
		sb.WriteString(fmt.Sprintf("%s%-14s %-13s %5d tok  %s\n", marker, d.ID, d.DisplayName, d.MaxTokens, d.Description))
	}
	return sb.String()
}
