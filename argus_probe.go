// argus_probe.go: event-driven freshness probe powered by Argus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/argus"
)

// ArgusProbeOptions configures the Argus watcher behind an ArgusProbe.
type ArgusProbeOptions struct {
	// PollInterval for file watching (Argus handles the optimization)
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`

	// CacheTTL for Argus stat caching, should be <= PollInterval
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`

	// ErrorHandler receives Argus watching errors. Defaults to logging them.
	ErrorHandler func(err error, path string) `json:"-" yaml:"-"`
}

// DefaultArgusProbeOptions returns defaults tuned for a development loop
// where rebuilds should be picked up within a second.
func DefaultArgusProbeOptions() ArgusProbeOptions {
	return ArgusProbeOptions{
		PollInterval: 500 * time.Millisecond,
		CacheTTL:     250 * time.Millisecond,
	}
}

// argusMarker is the cached probe result.
type argusMarker struct {
	marker  Marker
	missing bool
}

// ArgusProbe serves markers pushed by an Argus watcher instead of touching the
// filesystem on every poll. The watcher's Watch loop stays synchronous: it
// only reads the cached marker, while Argus polls the artifact in the
// background.
//
// Example usage:
//
//	probe, err := heimdall.NewArgusProbe("plugin.so", heimdall.DefaultArgusProbeOptions(), logger)
//	if err != nil {
//	    return err
//	}
//	if err := probe.Start(); err != nil {
//	    return err
//	}
//	defer probe.Stop()
type ArgusProbe struct {
	path    string
	watcher *argus.Watcher
	logger  Logger

	current atomic.Pointer[argusMarker]
	events  atomic.Int64

	mu       sync.Mutex
	started  atomic.Bool
	stopOnce sync.Once
	stopped  atomic.Bool
}

// NewArgusProbe creates a probe for path. The initial marker is taken from the
// filesystem so the first poll can load the artifact before any event fires.
func NewArgusProbe(path string, options ArgusProbeOptions, logger any) (*ArgusProbe, error) {
	internalLogger := NewLogger(logger)
	if path == "" {
		return nil, NewConfigValidationError("argus probe requires an artifact path", nil)
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultArgusProbeOptions().PollInterval
	}
	if options.CacheTTL <= 0 || options.CacheTTL > options.PollInterval {
		options.CacheTTL = options.PollInterval / 2
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, NewConfigValidationError(fmt.Sprintf("invalid artifact path %q", path), err)
	}

	argusConfig := argus.Config{
		PollInterval:         options.PollInterval,
		CacheTTL:             options.CacheTTL,
		MaxWatchedFiles:      1,
		OptimizationStrategy: argus.OptimizationSingleEvent, // one artifact = low latency priority
		ErrorHandler: func(err error, file string) {
			if options.ErrorHandler != nil {
				options.ErrorHandler(err, file)
				return
			}
			internalLogger.Error("Artifact watching error", "error", err, "file", file)
		},
	}

	p := &ArgusProbe{
		path:    absPath,
		watcher: argus.New(argusConfig),
		logger:  internalLogger,
	}
	p.refresh()
	return p, nil
}

// Start begins watching the artifact.
func (p *ArgusProbe) Start() error {
	if p.stopped.Load() {
		return fmt.Errorf("argus probe has been stopped and cannot be restarted")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("argus probe is already running")
	}
	if err := p.watcher.Watch(p.path, p.handleChange); err != nil {
		p.started.Store(false)
		return fmt.Errorf("failed to watch artifact %s: %w", p.path, err)
	}
	if err := p.watcher.Start(); err != nil {
		p.started.Store(false)
		return fmt.Errorf("failed to start Argus watcher: %w", err)
	}
	p.logger.Debug("Argus probe started", "path", p.path)
	return nil
}

// Stop ends watching. Safe to call more than once.
func (p *ArgusProbe) Stop() error {
	var stopErr error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.stopped.Store(true)
		if p.started.Load() && p.watcher.IsRunning() {
			stopErr = p.watcher.Stop()
		}
	})
	return stopErr
}

// Marker implements FreshnessProbe. Paths other than the watched one fall
// back to a direct stat.
func (p *ArgusProbe) Marker(path string) (Marker, error) {
	if abs, err := filepath.Abs(path); err != nil || abs != p.path {
		return ModTimeProbe{}.Marker(path)
	}
	cached := p.current.Load()
	if cached == nil || cached.missing {
		return Marker{}, NewArtifactMissingError(path, os.ErrNotExist)
	}
	return cached.marker, nil
}

// Events returns how many change events have been received.
func (p *ArgusProbe) Events() int64 {
	return p.events.Load()
}

func (p *ArgusProbe) handleChange(event argus.ChangeEvent) {
	p.events.Add(1)
	p.logger.Debug("Artifact change detected",
		"path", event.Path,
		"mod_time", event.ModTime,
		"size", event.Size,
		"is_create", event.IsCreate,
		"is_delete", event.IsDelete,
		"is_modify", event.IsModify)

	if event.IsDelete {
		p.current.Store(&argusMarker{missing: true})
		return
	}
	p.current.Store(&argusMarker{marker: Marker{ModTime: event.ModTime, Size: event.Size}})
}

func (p *ArgusProbe) refresh() {
	marker, err := ModTimeProbe{}.Marker(p.path)
	if err != nil {
		p.current.Store(&argusMarker{missing: true})
		return
	}
	p.current.Store(&argusMarker{marker: marker})
}
