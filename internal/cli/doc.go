// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the azchat command line.
//
// Commands:
//
//	chat       Interactive chat (REPL with slash commands)
//	ask        One-shot question, from arguments or stdin
//	sessions   List, search, show, export, back up, import and clear sessions
//	models     Model catalog
//	status     Configuration, connectivity and storage overview
//	serve      Local completion proxy
//
// Every command shares one app value that resolves configuration once and
// builds the store, completion client and connectivity monitor on demand.
// Errors are printed by DisplayError and mapped to exit codes by ExitCode.
package cli
