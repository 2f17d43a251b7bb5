// config_test.go: configuration defaults, validation and file loading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.Equal(t, ModeDynamic, config.Mode)
	assert.Equal(t, FreshnessModTime, config.Freshness)
	assert.Equal(t, DefaultEntrySymbol, config.EntrySymbol)
	assert.True(t, config.Loader.ShadowCopy)
	assert.False(t, config.Audit.Enabled)

	// dynamic mode needs an artifact
	require.Error(t, config.Validate())
	config.ArtifactPath = "game.so"
	require.NoError(t, config.Validate())
}

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		config := DefaultConfig()
		config.ArtifactPath = "game.so"
		return config
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "lazy" }},
		{"missing artifact", func(c *Config) { c.ArtifactPath = "" }},
		{"empty symbol", func(c *Config) { c.EntrySymbol = "" }},
		{"unexported symbol", func(c *Config) { c.EntrySymbol = "heimdallEntry" }},
		{"symbol with dot", func(c *Config) { c.EntrySymbol = "pkg.Entry" }},
		{"unknown freshness", func(c *Config) { c.Freshness = "inotify" }},
		{"negative poll interval", func(c *Config) { c.Argus.PollInterval = -time.Second }},
		{"audit without file", func(c *Config) { c.Audit.Enabled = true; c.Audit.OutputFile = "" }},
		{"shadow copy disabled", func(c *Config) { c.Loader.ShadowCopy = false }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(&config)
			err := config.Validate()
			require.Error(t, err)
			assert.Equal(t, ErrCodeConfigValidation, string(ErrorCodeOf(err)))
		})
	}

	t.Run("static mode ignores dynamic fields", func(t *testing.T) {
		config := Config{Mode: ModeStatic}
		assert.NoError(t, config.Validate())
	})
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfigFile(t, "heimdall.yaml", `
artifact_path: ./build/game.so
entry_symbol: GameEntry
freshness: argus
loader:
  shadow_copy: true
  shadow_dir: /tmp/heimdall
argus:
  poll_interval: 200ms
  cache_ttl: 100ms
audit:
  enabled: true
  output_file: reloads.jsonl
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "./build/game.so", config.ArtifactPath)
	assert.Equal(t, "GameEntry", config.EntrySymbol)
	assert.Equal(t, ModeDynamic, config.Mode)
	assert.Equal(t, FreshnessArgus, config.Freshness)
	assert.True(t, config.Loader.ShadowCopy)
	assert.Equal(t, "/tmp/heimdall", config.Loader.ShadowDir)
	assert.Equal(t, 200*time.Millisecond, config.Argus.PollInterval)
	assert.Equal(t, 100*time.Millisecond, config.Argus.CacheTTL)
	assert.True(t, config.Audit.Enabled)
	assert.Equal(t, "reloads.jsonl", config.Audit.OutputFile)
	assert.Equal(t, 5*time.Second, config.Audit.FlushInterval, "unset fields keep their defaults")
}

func TestLoadConfig_RejectsInPlaceReload(t *testing.T) {
	path := writeConfigFile(t, "heimdall.yaml", `
artifact_path: ./build/game.so
loader:
  shadow_copy: false
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Equal(t, ErrCodeConfigValidation, string(ErrorCodeOf(err)))
	assert.ErrorContains(t, err, "shadow_copy")
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeConfigFile(t, "heimdall.json", `{
  "artifact_path": "game.so",
  "freshness": "hash",
  "loader": {"shadow_copy": true}
}`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "game.so", config.ArtifactPath)
	assert.Equal(t, FreshnessHash, config.Freshness)
	assert.Equal(t, DefaultEntrySymbol, config.EntrySymbol)
	assert.True(t, config.Loader.ShadowCopy)
}

func TestLoadConfig_StaticMode(t *testing.T) {
	path := writeConfigFile(t, "heimdall.yml", "mode: static\n")
	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ModeStatic, config.Mode)
}

func TestLoadConfig_EnvironmentExpansion(t *testing.T) {
	t.Setenv("HEIMDALL_TEST_BUILD_DIR", "/srv/build")
	path := writeConfigFile(t, "heimdall.yaml", "artifact_path: ${HEIMDALL_TEST_BUILD_DIR}/game.so\n")

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/build/game.so", config.ArtifactPath)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
		assert.Equal(t, ErrCodeConfigNotFound, string(ErrorCodeOf(err)))
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfigFile(t, "bad.yaml", "artifact_path: [unclosed\n")
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Equal(t, ErrCodeConfigParse, string(ErrorCodeOf(err)))
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeConfigFile(t, "bad.yaml", "artifact_path: game.so\nargus:\n  poll_interval: soon\n")
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Equal(t, ErrCodeConfigParse, string(ErrorCodeOf(err)))
		var structured *errors.Error
		require.True(t, stderrors.As(err, &structured))
		require.NotNil(t, structured.Cause)
		assert.Contains(t, structured.Cause.Error(), "argus.poll_interval")
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeConfigFile(t, "bad.yaml", "artifact_path: game.so\nfreshness: psychic\n")
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.Equal(t, ErrCodeConfigValidation, string(ErrorCodeOf(err)))
	})
}
