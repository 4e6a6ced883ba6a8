// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for azchat.
//
// Values are resolved in this order, later sources winning:
//   - built-in defaults
//   - ~/.azchat/config.toml (or the file given with --config)
//   - .env.local and .env in the working directory
//   - process environment (AZURE_OPENAI_*, AZCHAT_*)
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/jeranaias/azchat/internal/cloud"
	"github.com/jeranaias/azchat/internal/logging"
	"github.com/jeranaias/azchat/internal/model"
	"github.com/jeranaias/azchat/internal/offline"
	"github.com/jeranaias/azchat/internal/storage"
	"github.com/jeranaias/azchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete azchat configuration.
type Config struct {
	// General settings
	Version      string `toml:"version" json:"version"`
	DefaultModel string `toml:"default_model" json:"default_model"`
	LogLevel     string `toml:"log_level" json:"log_level"`

	// Azure OpenAI endpoint
	Azure AzureConfig `toml:"azure" json:"azure"`

	// Deployments maps model ids to deployment names, overriding the catalog.
	Deployments map[string]string `toml:"deployments" json:"deployments,omitempty"`

	Storage StorageConfig `toml:"storage" json:"storage"`
	Server  ServerConfig  `toml:"server" json:"server"`
	Network NetworkConfig `toml:"network" json:"network"`
	UI      UIConfig      `toml:"ui" json:"ui"`
}

// AzureConfig holds the remote endpoint credentials.
type AzureConfig struct {
	APIKey     string `toml:"api_key" json:"api_key"`
	Endpoint   string `toml:"endpoint" json:"endpoint"`
	APIVersion string `toml:"api_version" json:"api_version"`
}

// StorageConfig selects and sizes the session store.
type StorageConfig struct {
	// Backend is "file", "sqlite" or "memory".
	Backend string `toml:"backend" json:"backend"`

	// Path is the directory (file backend) or database file (sqlite).
	// Empty means a default under the config directory.
	Path string `toml:"path" json:"path"`

	Prefix      string `toml:"prefix" json:"prefix"`
	MaxSessions int    `toml:"max_sessions" json:"max_sessions"`
	MaxMessages int    `toml:"max_messages" json:"max_messages"`
	MaxBytes    int    `toml:"max_bytes" json:"max_bytes"`

	// QuotaBytes caps what the backend accepts; 0 means unlimited.
	QuotaBytes int `toml:"quota_bytes" json:"quota_bytes"`

	// Watch reloads the session list when another process changes it (file backend).
	Watch bool `toml:"watch" json:"watch"`
}

// ServerConfig configures the local HTTP surface.
type ServerConfig struct {
	Addr         string `toml:"addr" json:"addr"`
	MaxBodyBytes int64  `toml:"max_body_bytes" json:"max_body_bytes"`

	// ProxyURL, when set, makes chat and ask send completions through a
	// running azchat server instead of calling Azure directly.
	ProxyURL string `toml:"proxy_url" json:"proxy_url"`
}

// NetworkConfig configures connectivity tracking.
type NetworkConfig struct {
	// OfflineMode forces the connectivity monitor to report offline.
	OfflineMode       bool `toml:"offline_mode" json:"offline_mode"`
	ProbeIntervalSecs int  `toml:"probe_interval_secs" json:"probe_interval_secs"`
}

// UIConfig holds terminal presentation settings.
type UIConfig struct {
	Stream         bool   `toml:"stream" json:"stream"`
	RenderMarkdown bool   `toml:"render_markdown" json:"render_markdown"`
	Color          string `toml:"color" json:"color"` // auto, always, never
	HistoryFile    string `toml:"history_file" json:"history_file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version:      "1.0.0",
		DefaultModel: model.DefaultModel,
		LogLevel:     "warn",

		Azure: AzureConfig{
			APIVersion: cloud.DefaultAPIVersion,
		},

		Storage: StorageConfig{
			Backend:     "file",
			Prefix:      storage.DefaultPrefix,
			MaxSessions: storage.DefaultMaxSessions,
			MaxMessages: storage.DefaultMaxMessages,
			MaxBytes:    storage.DefaultMaxBytes,
			Watch:       true,
		},

		Server: ServerConfig{
			Addr:         "127.0.0.1:8787",
			MaxBodyBytes: 20 << 20, // room for data-URI images
		},

		Network: NetworkConfig{
			ProbeIntervalSecs: 5,
		},

		UI: UIConfig{
			Stream:         true,
			RenderMarkdown: true,
			Color:          "auto",
		},
	}
}

// SetDefaults fills in any missing values with defaults.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.DefaultModel == "" {
		c.DefaultModel = d.DefaultModel
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Azure.APIVersion == "" {
		c.Azure.APIVersion = d.Azure.APIVersion
	}
	c.Azure.Endpoint = strings.TrimRight(strings.TrimSpace(c.Azure.Endpoint), "/")

	if c.Storage.Backend == "" {
		c.Storage.Backend = d.Storage.Backend
	}
	if c.Storage.Prefix == "" {
		c.Storage.Prefix = d.Storage.Prefix
	}
	if c.Storage.MaxSessions == 0 {
		c.Storage.MaxSessions = d.Storage.MaxSessions
	}
	if c.Storage.MaxMessages == 0 {
		c.Storage.MaxMessages = d.Storage.MaxMessages
	}
	if c.Storage.MaxBytes == 0 {
		c.Storage.MaxBytes = d.Storage.MaxBytes
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = d.Server.MaxBodyBytes
	}

	if c.Network.ProbeIntervalSecs == 0 {
		c.Network.ProbeIntervalSecs = d.Network.ProbeIntervalSecs
	}

	if c.UI.Color == "" {
		c.UI.Color = d.UI.Color
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the azchat configuration directory path.
// AZCHAT_HOME overrides the default ~/.azchat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("AZCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".azchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// StoragePath returns the configured storage location, defaulting to
// sessions/ (file) or azchat.db (sqlite) inside the config directory.
func (c *Config) StoragePath() (string, error) {
	if c.Storage.Path != "" {
		return c.Storage.Path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	if c.Storage.Backend == "sqlite" {
		return filepath.Join(dir, "azchat.db"), nil
	}
	return filepath.Join(dir, "sessions"), nil
}

// HistoryPath returns the REPL history file location.
func (c *Config) HistoryPath() (string, error) {
	if c.UI.HistoryFile != "" {
		return c.UI.HistoryFile, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history"), nil
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files should be 0600 since they may hold the API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load resolves the configuration. An empty path means the default config
// file, which may be absent. An explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := ConfigPathTOML()
		if err != nil {
			return nil, err
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	} else if explicit {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if err := LoadDotEnv("."); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes path into cfg. Unknown keys are rejected so typos do not
// silently fall back to defaults.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems
		log.Warn("config: could not ensure secure permissions", "path", path, "err", err)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotEnv loads .env.local and then .env from dir into the process
// environment. Variables already set are never overwritten and missing
// files are ignored.
func LoadDotEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to path with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# azchat configuration file\n")
	buf.WriteString("# Generated by azchat - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration. Missing Azure credentials are not
// an error here; they surface as cloud.ErrNotConfigured on first use.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if !model.IsValid(c.DefaultModel) {
		add("default_model", "unknown model '%s', must be one of: %s", c.DefaultModel, strings.Join(model.IDs(), ", "))
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok && c.LogLevel != "" {
		add("log_level", "invalid level '%s', must be one of: %s", c.LogLevel, strings.Join(logging.Levels, ", "))
	}

	// Azure
	if c.Azure.Endpoint != "" {
		if err := offline.ValidateEndpointURL(c.Azure.Endpoint); err != nil {
			add("azure.endpoint", "%v", err)
		}
	}
	if c.Azure.APIVersion != "" {
		if _, err := time.Parse("2006-01-02", strings.TrimSuffix(c.Azure.APIVersion, "-preview")); err != nil {
			add("azure.api_version", "expected YYYY-MM-DD[-preview], got '%s'", c.Azure.APIVersion)
		}
	}

	ids := make([]string, 0, len(c.Deployments))
	for id := range c.Deployments {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if !model.IsValid(id) {
			add("deployments."+id, "unknown model")
		} else if strings.TrimSpace(c.Deployments[id]) == "" {
			add("deployments."+id, "deployment name is empty")
		}
	}

	// Storage
	switch c.Storage.Backend {
	case "file", "sqlite", "memory":
	default:
		add("storage.backend", "invalid backend '%s', must be one of: file, sqlite, memory", c.Storage.Backend)
	}
	if strings.Contains(c.Storage.Prefix, ":") {
		add("storage.prefix", "must not contain ':'")
	}
	if c.Storage.MaxSessions < 1 {
		add("storage.max_sessions", "must be at least 1")
	}
	if c.Storage.MaxMessages < 1 {
		add("storage.max_messages", "must be at least 1")
	}
	if c.Storage.MaxBytes < 1024 {
		add("storage.max_bytes", "must be at least 1024")
	}
	if c.Storage.QuotaBytes < 0 {
		add("storage.quota_bytes", "must not be negative")
	}

	// Server
	if _, port, err := net.SplitHostPort(c.Server.Addr); err != nil {
		add("server.addr", "invalid address '%s': %v", c.Server.Addr, err)
	} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
		add("server.addr", "invalid port '%s'", port)
	}
	if c.Server.MaxBodyBytes < 1024 {
		add("server.max_body_bytes", "must be at least 1024")
	}
	if c.Server.ProxyURL != "" {
		if err := offline.ValidateEndpointURL(c.Server.ProxyURL); err != nil {
			add("server.proxy_url", "%v", err)
		}
	}

	// Network
	if c.Network.ProbeIntervalSecs < 1 {
		add("network.probe_interval_secs", "must be at least 1")
	}

	// UI
	switch c.UI.Color {
	case "auto", "always", "never":
	default:
		add("ui.color", "invalid value '%s', must be one of: auto, always, never", c.UI.Color)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - AZURE_OPENAI_API_KEY: overrides azure.api_key
//   - AZURE_OPENAI_ENDPOINT: overrides azure.endpoint
//   - AZURE_OPENAI_API_VERSION: overrides azure.api_version
//   - AZCHAT_MODEL: overrides default_model
//   - AZCHAT_LOG_LEVEL: overrides log_level
//   - AZCHAT_OFFLINE: "1" or "true" forces offline mode
//   - AZCHAT_STORAGE_BACKEND, AZCHAT_STORAGE_PATH: override storage.backend/path
//   - AZCHAT_ADDR: overrides server.addr
//   - AZCHAT_PROXY_URL: overrides server.proxy_url
//   - AZCHAT_STREAM: "0" or "false" disables streaming output
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("AZURE_OPENAI_API_KEY"); v != "" {
		c.Azure.APIKey = v
	}
	if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" {
		c.Azure.Endpoint = v
	}
	if v := os.Getenv("AZURE_OPENAI_API_VERSION"); v != "" {
		c.Azure.APIVersion = v
	}

	if v := os.Getenv("AZCHAT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("AZCHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("AZCHAT_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("AZCHAT_STORAGE_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("AZCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AZCHAT_PROXY_URL"); v != "" {
		c.Server.ProxyURL = v
	}

	var errs []error
	if v := os.Getenv("AZCHAT_OFFLINE"); v != "" {
		b, err := parseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AZCHAT_OFFLINE: %w", err))
		}
		c.Network.OfflineMode = b
	}
	if v := os.Getenv("AZCHAT_STREAM"); v != "" {
		b, err := parseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("AZCHAT_STREAM: %w", err))
		}
		c.UI.Stream = b
	}
	return errors.Join(errs...)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Deployments != nil {
		clone.Deployments = make(map[string]string, len(c.Deployments))
		for k, v := range c.Deployments {
			clone.Deployments[k] = v
		}
	}
	return &clone
}

// String returns the config as indented JSON with the API key redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Azure.APIKey != "" {
		safe.Azure.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
