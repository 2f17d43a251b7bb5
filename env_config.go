// env_config.go: environment variable expansion and overrides for Config
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// EnvConfigOptions configures environment variable processing behavior.
type EnvConfigOptions struct {
	// Prefix for override variables (e.g., "HEIMDALL_")
	Prefix string `json:"prefix" yaml:"prefix"`

	// Whether to fail when a ${VAR} without default is not set
	FailOnMissing bool `json:"fail_on_missing" yaml:"fail_on_missing"`

	// Whether to reject values with control characters or null bytes
	ValidateValues bool `json:"validate_values" yaml:"validate_values"`

	// Whether PREFIX_* variables override file values
	AllowOverrides bool `json:"allow_overrides" yaml:"allow_overrides"`
}

// DefaultEnvConfigOptions returns the defaults used by LoadConfig.
func DefaultEnvConfigOptions() EnvConfigOptions {
	return EnvConfigOptions{
		Prefix:         "HEIMDALL_",
		FailOnMissing:  false,
		ValidateValues: true,
		AllowOverrides: true,
	}
}

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnvironmentVariables expands ${VAR} and ${VAR:-default} placeholders.
//
// Resolution order for each variable: the prefixed variable, the plain
// variable, the inline default, then the empty string (or an error when
// FailOnMissing is set).
//
// Example:
//
//	path, err := ExpandEnvironmentVariables("${BUILD_DIR:-./build}/game.so", options)
func ExpandEnvironmentVariables(input string, options EnvConfigOptions) (string, error) {
	if input == "" {
		return input, nil
	}

	var firstErr error
	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		submatches := variablePattern.FindStringSubmatch(match)
		expanded, err := expandSingleEnvironmentVariable(submatches[1], submatches[2] != "", submatches[3], options)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return expanded
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func expandSingleEnvironmentVariable(varName string, hasDefault bool, inlineDefault string, options EnvConfigOptions) (string, error) {
	if options.Prefix != "" {
		if value, ok := os.LookupEnv(options.Prefix + varName); ok {
			return validateAndSanitizeValue(value, options)
		}
	}
	if value, ok := os.LookupEnv(varName); ok {
		return validateAndSanitizeValue(value, options)
	}
	if hasDefault {
		return validateAndSanitizeValue(inlineDefault, options)
	}
	if options.FailOnMissing {
		return "", NewConfigValidationError(fmt.Sprintf("required environment variable not found: %s", varName), nil)
	}
	return "", nil
}

func validateAndSanitizeValue(value string, options EnvConfigOptions) (string, error) {
	if !options.ValidateValues {
		return value, nil
	}
	if strings.Contains(value, "\x00") {
		return "", NewConfigValidationError("environment variable value contains null byte", nil)
	}
	const maxLength = 4096
	if len(value) > maxLength {
		return "", NewConfigValidationError(fmt.Sprintf("environment variable value too long: %d bytes (max %d)", len(value), maxLength), nil)
	}
	for i, r := range value {
		if r < 32 && r != '\t' {
			return "", NewConfigValidationError(fmt.Sprintf("environment variable contains control character at position %d", i), nil)
		}
	}
	return value, nil
}

// ApplyEnvOverrides expands placeholders in the string fields of config and
// then applies PREFIX_MODE, PREFIX_ARTIFACT_PATH, PREFIX_ENTRY_SYMBOL,
// PREFIX_FRESHNESS and PREFIX_SHADOW_COPY when overrides are allowed.
func ApplyEnvOverrides(config *Config, options EnvConfigOptions) error {
	if config == nil {
		return NewConfigValidationError("configuration is nil", nil)
	}

	fields := []*string{&config.ArtifactPath, &config.EntrySymbol, &config.Loader.ShadowDir, &config.Audit.OutputFile}
	for _, field := range fields {
		expanded, err := ExpandEnvironmentVariables(*field, options)
		if err != nil {
			return err
		}
		*field = expanded
	}

	if !options.AllowOverrides {
		return nil
	}

	lookup := func(name string) (string, bool, error) {
		value, ok := os.LookupEnv(options.Prefix + name)
		if !ok {
			return "", false, nil
		}
		value, err := validateAndSanitizeValue(value, options)
		return value, err == nil, err
	}

	if value, ok, err := lookup("ARTIFACT_PATH"); err != nil {
		return err
	} else if ok {
		config.ArtifactPath = value
	}
	if value, ok, err := lookup("ENTRY_SYMBOL"); err != nil {
		return err
	} else if ok {
		config.EntrySymbol = value
	}
	if value, ok, err := lookup("MODE"); err != nil {
		return err
	} else if ok {
		config.Mode = Mode(strings.ToLower(value))
	}
	if value, ok, err := lookup("FRESHNESS"); err != nil {
		return err
	} else if ok {
		config.Freshness = FreshnessMode(strings.ToLower(value))
	}
	if value, ok, err := lookup("SHADOW_COPY"); err != nil {
		return err
	} else if ok {
		enabled, parseErr := strconv.ParseBool(value)
		if parseErr != nil {
			return NewConfigValidationError(fmt.Sprintf("%sSHADOW_COPY must be a boolean", options.Prefix), parseErr)
		}
		config.Loader.ShadowCopy = enabled
	}
	return nil
}
