// config.go: watcher configuration, defaults, validation and file loading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// Mode selects between a compile-time bound plugin and hot-reload.
type Mode string

const (
	// ModeStatic binds the watcher to a table compiled into the host.
	ModeStatic Mode = "static"
	// ModeDynamic performs the full poll/load/swap cycle.
	ModeDynamic Mode = "dynamic"
)

// AuditOptions configures the JSONL audit trail of reload events.
type AuditOptions struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	OutputFile    string        `json:"output_file" yaml:"output_file"`
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

// Config is the complete watcher configuration.
//
// Example YAML:
//
//	artifact_path: ./build/game.so
//	entry_symbol: HeimdallEntry
//	mode: dynamic
//	freshness: argus
//	loader:
//	  shadow_copy: true
//	argus:
//	  poll_interval: 500ms
//	audit:
//	  enabled: true
//	  output_file: heimdall-audit.jsonl
type Config struct {
	// ArtifactPath is the compiled plugin the watcher polls.
	ArtifactPath string `json:"artifact_path" yaml:"artifact_path"`

	// EntrySymbol is the exported entry point resolved in every artifact.
	EntrySymbol string `json:"entry_symbol" yaml:"entry_symbol"`

	// Mode selects static binding or hot-reload.
	Mode Mode `json:"mode" yaml:"mode"`

	// Freshness selects the change detector.
	Freshness FreshnessMode `json:"freshness" yaml:"freshness"`

	// Loader configures how artifacts are mapped.
	Loader LoaderOptions `json:"loader" yaml:"loader"`

	// Argus configures the event-driven freshness probe.
	Argus ArgusProbeOptions `json:"argus" yaml:"argus"`

	// Audit configures the reload audit trail.
	Audit AuditOptions `json:"audit" yaml:"audit"`
}

// DefaultConfig returns defaults for a development loop: dynamic mode,
// modification-time freshness and shadow copies next to the artifact.
func DefaultConfig() Config {
	return Config{
		EntrySymbol: DefaultEntrySymbol,
		Mode:        ModeDynamic,
		Freshness:   FreshnessModTime,
		Loader: LoaderOptions{
			ShadowCopy: true,
		},
		Argus: DefaultArgusProbeOptions(),
		Audit: AuditOptions{
			Enabled:       false,
			OutputFile:    "heimdall-audit.jsonl",
			BufferSize:    256,
			FlushInterval: 5 * time.Second,
		},
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeStatic, ModeDynamic:
	default:
		return NewConfigValidationError(fmt.Sprintf("unknown mode %q", c.Mode), nil)
	}

	if c.Mode == ModeStatic {
		return nil
	}

	if c.ArtifactPath == "" {
		return NewConfigValidationError("artifact_path is required in dynamic mode", nil)
	}
	if !isExportedIdentifier(c.EntrySymbol) {
		return NewConfigValidationError(fmt.Sprintf("entry_symbol %q is not an exported identifier", c.EntrySymbol), nil)
	}
	// plugin.Open caches by path, so reloading in place would keep serving the first build
	if !c.Loader.ShadowCopy {
		return NewConfigValidationError("loader.shadow_copy must be enabled in dynamic mode", nil)
	}

	switch c.Freshness {
	case FreshnessModTime, FreshnessHash, FreshnessArgus:
	default:
		return NewConfigValidationError(fmt.Sprintf("unknown freshness mode %q", c.Freshness), nil)
	}

	if c.Argus.PollInterval < 0 || c.Argus.CacheTTL < 0 {
		return NewConfigValidationError("argus intervals must not be negative", nil)
	}
	if c.Audit.Enabled && c.Audit.OutputFile == "" {
		return NewConfigValidationError("audit.output_file is required when audit is enabled", nil)
	}
	return nil
}

func isExportedIdentifier(name string) bool {
	for i, r := range name {
		if i == 0 && !unicode.IsUpper(r) {
			return false
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return name != ""
}

// LoadConfig reads a configuration file, starting from DefaultConfig, then
// applies HEIMDALL_ environment overrides and validates the result.
//
// The format is detected from the file extension. YAML is parsed with
// gopkg.in/yaml.v3; JSON, TOML, HCL, INI and properties files go through
// Argus' parsers.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	cleanPath := filepath.Clean(path)
	configBytes, err := os.ReadFile(cleanPath) // #nosec G304 -- path comes from the host
	if err != nil {
		if os.IsNotExist(err) {
			return config, NewConfigNotFoundError(path)
		}
		return config, NewConfigParseError(path, err)
	}

	format := argus.DetectFormat(cleanPath)
	if err := parseConfigWithHybridStrategy(configBytes, format, &config); err != nil {
		return config, NewConfigParseError(path, err)
	}

	if err := ApplyEnvOverrides(&config, DefaultEnvConfigOptions()); err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// parseConfigWithHybridStrategy uses yaml.v3 for YAML and Argus for the
// other formats.
func parseConfigWithHybridStrategy(configBytes []byte, format argus.ConfigFormat, config *Config) error {
	var file configFile
	file.fill(*config)

	switch format {
	case argus.FormatYAML:
		if err := yaml.Unmarshal(configBytes, &file); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		configMap, err := argus.ParseConfig(configBytes, format)
		if err != nil {
			return err
		}
		if err := bindConfigMap(configMap, &file); err != nil {
			return err
		}
	}
	return file.apply(config)
}

// bindConfigMap converts the map produced by Argus back into the file model
// through JSON.
func bindConfigMap(configMap map[string]interface{}, file *configFile) error {
	if configMap == nil {
		return fmt.Errorf("configuration map is nil")
	}
	jsonBytes, err := json.Marshal(configMap)
	if err != nil {
		return fmt.Errorf("failed to marshal config map to JSON: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, file); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// configFile is the on-disk shape of Config; durations are written as
// strings such as "500ms".
type configFile struct {
	ArtifactPath string `json:"artifact_path" yaml:"artifact_path"`
	EntrySymbol  string `json:"entry_symbol" yaml:"entry_symbol"`
	Mode         string `json:"mode" yaml:"mode"`
	Freshness    string `json:"freshness" yaml:"freshness"`
	Loader       struct {
		ShadowCopy *bool  `json:"shadow_copy" yaml:"shadow_copy"`
		ShadowDir  string `json:"shadow_dir" yaml:"shadow_dir"`
	} `json:"loader" yaml:"loader"`
	Argus struct {
		PollInterval string `json:"poll_interval" yaml:"poll_interval"`
		CacheTTL     string `json:"cache_ttl" yaml:"cache_ttl"`
	} `json:"argus" yaml:"argus"`
	Audit struct {
		Enabled       *bool  `json:"enabled" yaml:"enabled"`
		OutputFile    string `json:"output_file" yaml:"output_file"`
		BufferSize    int    `json:"buffer_size" yaml:"buffer_size"`
		FlushInterval string `json:"flush_interval" yaml:"flush_interval"`
	} `json:"audit" yaml:"audit"`
}

func (f *configFile) fill(c Config) {
	f.ArtifactPath = c.ArtifactPath
	f.EntrySymbol = c.EntrySymbol
	f.Mode = string(c.Mode)
	f.Freshness = string(c.Freshness)
	f.Loader.ShadowDir = c.Loader.ShadowDir
	f.Audit.OutputFile = c.Audit.OutputFile
	f.Audit.BufferSize = c.Audit.BufferSize
}

func (f *configFile) apply(c *Config) error {
	c.ArtifactPath = f.ArtifactPath
	c.EntrySymbol = f.EntrySymbol
	c.Mode = Mode(f.Mode)
	c.Freshness = FreshnessMode(f.Freshness)
	c.Loader.ShadowDir = f.Loader.ShadowDir
	if f.Loader.ShadowCopy != nil {
		c.Loader.ShadowCopy = *f.Loader.ShadowCopy
	}

	var err error
	if c.Argus.PollInterval, err = parseDurationField("argus.poll_interval", f.Argus.PollInterval, c.Argus.PollInterval); err != nil {
		return err
	}
	if c.Argus.CacheTTL, err = parseDurationField("argus.cache_ttl", f.Argus.CacheTTL, c.Argus.CacheTTL); err != nil {
		return err
	}

	if f.Audit.Enabled != nil {
		c.Audit.Enabled = *f.Audit.Enabled
	}
	c.Audit.OutputFile = f.Audit.OutputFile
	c.Audit.BufferSize = f.Audit.BufferSize
	if c.Audit.FlushInterval, err = parseDurationField("audit.flush_interval", f.Audit.FlushInterval, c.Audit.FlushInterval); err != nil {
		return err
	}
	return nil
}

func parseDurationField(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", field, err)
	}
	return d, nil
}
