// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes single chat sessions to files.
//
// Bulk backup and restore of every session lives in storage (ExportAll and
// ImportAll); this package renders one session for reading or sharing.
//
// # Supported Formats
//
//   - json: the stored record, pretty-printed
//   - yaml: the same fields with RFC 3339 timestamps
//   - markdown: human-readable transcript with a YAML front matter block
//
// # Usage
//
//	exporter, err := export.NewExporter("markdown", nil)
//	if err != nil {
//		return err
//	}
//	path, err := export.ExportToFile(sess, exporter, nil)
package export
