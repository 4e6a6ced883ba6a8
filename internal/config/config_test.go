// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envVars = []string{
	"AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_API_VERSION",
	"AZCHAT_MODEL", "AZCHAT_LOG_LEVEL", "AZCHAT_OFFLINE", "AZCHAT_STORAGE_BACKEND",
	"AZCHAT_STORAGE_PATH", "AZCHAT_ADDR", "AZCHAT_PROXY_URL", "AZCHAT_STREAM",
}

// isolate points the config directory at a temp dir and blanks every
// variable the loader reads.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AZCHAT_HOME", dir)
	for _, v := range envVars {
		t.Setenv(v, "")
	}
	return dir
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
}

// =============================================================================
// DEFAULT TESTS
// =============================================================================

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "gpt-4.1", cfg.DefaultModel)
	assert.Equal(t, "2023-05-15", cfg.Azure.APIVersion)
	assert.Equal(t, 50, cfg.Storage.MaxSessions)
	assert.Equal(t, 100, cfg.Storage.MaxMessages)
	assert.Equal(t, 5*1024*1024, cfg.Storage.MaxBytes)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)
	assert.Empty(t, cfg.Azure.APIKey)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

// =============================================================================
// TOML TESTS
// =============================================================================

func TestLoad_TOML(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeConfig(t, path, `
default_model = "o3"
log_level = "debug"

[azure]
api_key = "file-key"
endpoint = "https://myresource.openai.azure.com/"
api_version = "2024-02-01"

[deployments]
o3 = "my-o3"

[storage]
backend = "sqlite"
max_sessions = 10

[network]
offline_mode = true
`)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "o3", cfg.DefaultModel)
	assert.Equal(t, "file-key", cfg.Azure.APIKey)
	assert.Equal(t, "https://myresource.openai.azure.com", cfg.Azure.Endpoint, "trailing slash trimmed")
	assert.Equal(t, "my-o3", cfg.Deployments["o3"])
	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, 10, cfg.Storage.MaxSessions)
	assert.Equal(t, 100, cfg.Storage.MaxMessages, "unset values keep defaults")
	assert.True(t, cfg.Network.OfflineMode)

	sp, err := cfg.StoragePath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "azchat.db"), sp)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, filepath.Join(dir, "config.toml"), "[azure]\napi_kee = \"typo\"\n")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "azure.api_kee")
}

func TestLoad_FixesPermissions(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = \"info\"\n"), 0644))

	_, err := Load(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if info.Mode().Perm() != 0600 && runtime.GOOS != "windows" {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "saved.toml")

	cfg := Default()
	cfg.Azure.APIKey = "secret"
	cfg.Deployments = map[string]string{"gpt-4.1": "prod-gpt41"}
	require.NoError(t, SaveTOML(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", loaded.Azure.APIKey)
	assert.Equal(t, "prod-gpt41", loaded.Deployments["gpt-4.1"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# azchat configuration file"))
}

// =============================================================================
// ENVIRONMENT TESTS
// =============================================================================

func TestEnvOverrides(t *testing.T) {
	dir := isolate(t)
	writeConfig(t, filepath.Join(dir, "config.toml"), "[azure]\napi_key = \"file-key\"\n")

	t.Setenv("AZURE_OPENAI_API_KEY", "env-key")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://env.openai.azure.com")
	t.Setenv("AZCHAT_MODEL", "gpt-4.1-mini")
	t.Setenv("AZCHAT_OFFLINE", "true")
	t.Setenv("AZCHAT_STREAM", "0")
	t.Setenv("AZCHAT_STORAGE_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Azure.APIKey, "environment wins over file")
	assert.Equal(t, "https://env.openai.azure.com", cfg.Azure.Endpoint)
	assert.Equal(t, "gpt-4.1-mini", cfg.DefaultModel)
	assert.True(t, cfg.Network.OfflineMode)
	assert.False(t, cfg.UI.Stream)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestEnvOverrides_BadBool(t *testing.T) {
	isolate(t)
	t.Setenv("AZCHAT_OFFLINE", "maybe")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AZCHAT_OFFLINE")
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	writeConfig(t, filepath.Join(dir, ".env"), "AZURE_OPENAI_API_KEY=from-dotenv\nAZCHAT_ADDR=127.0.0.1:9999\n")
	writeConfig(t, filepath.Join(dir, ".env.local"), "AZURE_OPENAI_API_KEY=from-local\n")

	// godotenv never overrides variables that are already set, so unset the
	// blanks isolate installed.
	os.Unsetenv("AZURE_OPENAI_API_KEY")
	os.Unsetenv("AZCHAT_ADDR")

	require.NoError(t, LoadDotEnv(dir))
	assert.Equal(t, "from-local", os.Getenv("AZURE_OPENAI_API_KEY"), ".env.local takes precedence")
	assert.Equal(t, "127.0.0.1:9999", os.Getenv("AZCHAT_ADDR"))

	// Missing files are fine.
	require.NoError(t, LoadDotEnv(t.TempDir()))
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown model", func(c *Config) { c.DefaultModel = "davinci" }, "default_model"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"file scheme", func(c *Config) { c.Azure.Endpoint = "file:///etc/passwd" }, "azure.endpoint"},
		{"plain http remote", func(c *Config) { c.Azure.Endpoint = "http://example.com" }, "azure.endpoint"},
		{"bad api version", func(c *Config) { c.Azure.APIVersion = "latest" }, "azure.api_version"},
		{"deployment for unknown model", func(c *Config) { c.Deployments = map[string]string{"gpt-2": "x"} }, "deployments.gpt-2"},
		{"empty deployment", func(c *Config) { c.Deployments = map[string]string{"o3": " "} }, "deployments.o3"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "redis" }, "storage.backend"},
		{"prefix with colon", func(c *Config) { c.Storage.Prefix = "a:b" }, "storage.prefix"},
		{"zero sessions", func(c *Config) { c.Storage.MaxSessions = -1 }, "storage.max_sessions"},
		{"bad addr", func(c *Config) { c.Server.Addr = "localhost" }, "server.addr"},
		{"bad port", func(c *Config) { c.Server.Addr = "127.0.0.1:99999" }, "server.addr"},
		{"bad proxy", func(c *Config) { c.Server.ProxyURL = "ftp://127.0.0.1" }, "server.proxy_url"},
		{"bad color", func(c *Config) { c.UI.Color = "rainbow" }, "ui.color"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs), "err = %v", err)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestValidate_AcceptsPreviewVersionAndLocalProxy(t *testing.T) {
	cfg := Default()
	cfg.Azure.APIVersion = "2024-08-01-preview"
	cfg.Server.ProxyURL = "http://127.0.0.1:8787"
	assert.NoError(t, cfg.Validate())
}

func TestValidateErrors_Error(t *testing.T) {
	errs := ValidateErrors{{Field: "a", Message: "bad"}, {Field: "b", Message: "worse"}}
	assert.Equal(t, "a: bad; b: worse", errs.Error())
}

// =============================================================================
// HELPER TESTS
// =============================================================================

func TestString_RedactsKey(t *testing.T) {
	cfg := Default()
	cfg.Azure.APIKey = "super-secret"

	s := cfg.String()
	assert.NotContains(t, s, "super-secret")
	assert.Contains(t, s, "[REDACTED]")
	assert.Equal(t, "super-secret", cfg.Azure.APIKey, "original untouched")
}

func TestClone_DeepCopiesDeployments(t *testing.T) {
	cfg := Default()
	cfg.Deployments = map[string]string{"o3": "a"}

	clone := cfg.Clone()
	clone.Deployments["o3"] = "b"
	assert.Equal(t, "a", cfg.Deployments["o3"])
}
