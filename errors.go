// errors.go: structured error definitions for the heimdall reload engine
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	stderrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for the heimdall reload engine
const (
	// Load path errors (2000-2099)
	ErrCodeArtifactMissing   = "HEIMDALL_2001"
	ErrCodeFormatInvalid     = "HEIMDALL_2002"
	ErrCodeSymbolMissing     = "HEIMDALL_2003"
	ErrCodeInitFailed        = "HEIMDALL_2004"
	ErrCodeEntryPointInvalid = "HEIMDALL_2005"
	ErrCodeTickFailed        = "HEIMDALL_2006"
	ErrCodeNotLoaded         = "HEIMDALL_2007"
	ErrCodeWatcherClosed     = "HEIMDALL_2008"
	ErrCodeShadowCopyFailed  = "HEIMDALL_2009"
	ErrCodeModuleClose       = "HEIMDALL_2010"

	// Configuration errors (2100-2199)
	ErrCodeConfigNotFound   = "CONFIG_2101"
	ErrCodeConfigParse      = "CONFIG_2102"
	ErrCodeConfigValidation = "CONFIG_2103"
)

// Load path error constructors

func NewArtifactMissingError(path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeArtifactMissing, "Plugin artifact missing").
		WithUserMessage("The plugin artifact does not exist at the configured path").
		WithContext("path", path).
		WithSeverity("warning").
		AsRetryable()
}

func NewFormatInvalidError(path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeFormatInvalid, "Plugin artifact format invalid").
		WithUserMessage("The artifact is not a loadable module for this platform").
		WithContext("path", path).
		WithSeverity("error").
		AsRetryable()
}

func NewSymbolMissingError(path, symbol string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeSymbolMissing, "Plugin entry point missing").
		WithUserMessage("The artifact was built without the required registration entry point").
		WithContext("path", path).
		WithContext("symbol", symbol).
		WithSeverity("critical")
}

func NewEntryPointInvalidError(path, symbol, reason string) *errors.Error {
	return errors.New(ErrCodeEntryPointInvalid, "Plugin entry point invalid").
		WithUserMessage("The entry point does not return a compatible operation table").
		WithContext("path", path).
		WithContext("symbol", symbol).
		WithContext("reason", reason).
		WithSeverity("error")
}

func NewInitFailedError(name string, generation uint64, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeInitFailed, "Plugin initialization failed").
		WithUserMessage("The new plugin version rejected the shared state").
		WithContext("plugin_name", name).
		WithContext("generation", generation).
		WithSeverity("error").
		AsRetryable()
}

func NewTickFailedError(name string, generation uint64, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeTickFailed, "Plugin tick failed").
		WithUserMessage("The active plugin failed while updating the shared state").
		WithContext("plugin_name", name).
		WithContext("generation", generation).
		WithSeverity("error")
}

func NewNotLoadedError(path string) *errors.Error {
	return errors.New(ErrCodeNotLoaded, "No plugin loaded").
		WithUserMessage("No plugin instance has been loaded yet").
		WithContext("path", path).
		WithSeverity("warning").
		AsRetryable()
}

func NewWatcherClosedError(path string) *errors.Error {
	return errors.New(ErrCodeWatcherClosed, "Watcher closed").
		WithUserMessage("The watcher has been closed and no longer serves calls").
		WithContext("path", path).
		WithSeverity("error")
}

func NewShadowCopyError(path, shadow string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeShadowCopyFailed, "Shadow copy failed").
		WithUserMessage("Failed to copy the artifact before loading it").
		WithContext("path", path).
		WithContext("shadow_path", shadow).
		WithSeverity("error").
		AsRetryable()
}

func NewModuleCloseError(path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeModuleClose, "Module close failed").
		WithUserMessage("Failed to release a retired plugin module").
		WithContext("path", path).
		WithSeverity("warning")
}

// Configuration error constructors

func NewConfigNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeConfigNotFound, "Configuration file not found").
		WithUserMessage("The specified configuration file does not exist").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeConfigParse, "Configuration parse error").
		WithUserMessage("Failed to parse the configuration file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigValidationError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeConfigValidation, "Configuration validation error: "+message).
		WithUserMessage("The configuration is invalid").
		WithSeverity("error")
}

// wrapOrNew wraps cause when present so callers never end up with a
// structured error around a nil cause.
func wrapOrNew(cause error, code errors.ErrorCode, message string) *errors.Error {
	if cause == nil {
		return errors.New(code, message)
	}
	return errors.Wrap(cause, code, message)
}

// ErrorCodeOf returns the heimdall error code carried by err, or "" when err
// is not a structured error.
func ErrorCodeOf(err error) errors.ErrorCode {
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return structured.ErrorCode()
	}
	return ""
}

func hasCode(err error, code errors.ErrorCode) bool {
	return err != nil && ErrorCodeOf(err) == code
}

// IsArtifactMissing reports whether err means the artifact was not on disk.
func IsArtifactMissing(err error) bool { return hasCode(err, ErrCodeArtifactMissing) }

// IsFormatInvalid reports whether err means the artifact could not be mapped,
// including entry points returning an incompatible table.
func IsFormatInvalid(err error) bool {
	return hasCode(err, ErrCodeFormatInvalid) || hasCode(err, ErrCodeEntryPointInvalid)
}

// IsSymbolMissing reports whether err is an ABI contract violation.
func IsSymbolMissing(err error) bool { return hasCode(err, ErrCodeSymbolMissing) }

// IsInitFailed reports whether err was raised by a plugin's Init.
func IsInitFailed(err error) bool { return hasCode(err, ErrCodeInitFailed) }
