// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the leveled logger shared by azchat's packages.
//
// Every package accepts a *log.Logger and falls back to log.Default() when
// none is given, so the CLI only needs to configure one logger at startup:
//
//	logger := logging.New(cfg.LogLevel, os.Stderr)
//	logging.SetDefault(logger)
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultLevel is used when the configured level is empty or unknown.
const DefaultLevel = log.WarnLevel

// Levels lists the accepted level names in increasing severity.
var Levels = []string{"debug", "info", "warn", "error", "fatal"}

// ParseLevel converts a level name into a log.Level. Empty and unknown
// names map to DefaultLevel; ok reports whether the name was recognized.
func ParseLevel(name string) (level log.Level, ok bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return DefaultLevel, false
	}
	if name == "warning" {
		name = "warn"
	}
	level, err := log.ParseLevel(name)
	if err != nil {
		return DefaultLevel, false
	}
	return level, true
}

// New creates a logger writing to w at the named level. A nil writer
// writes to stderr. Timestamps are only shown at debug level.
func New(level string, w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, _ := ParseLevel(level)
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: lvl == log.DebugLevel,
		TimeFormat:      time.TimeOnly,
	})
}

// Discard returns a logger that drops everything. Tests use it to keep
// output quiet.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// SetDefault installs l as the process-wide default logger.
func SetDefault(l *log.Logger) {
	if l != nil {
		log.SetDefault(l)
	}
}

// Component returns a child of the default logger tagged with name.
func Component(name string) *log.Logger {
	return log.Default().WithPrefix(name)
}
