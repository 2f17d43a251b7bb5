// watcher.go: poll-driven load-and-swap state machine
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// WatcherState is the state of the load/swap machine.
type WatcherState int32

const (
	// StateUnloaded means no instance has been installed yet.
	StateUnloaded WatcherState = iota
	// StateLoading means a new artifact is being opened and initialized.
	StateLoading
	// StateLoaded means the current instance matches the recorded marker.
	StateLoaded
	// StateFailed means the last load attempt failed; the previous instance,
	// if any, is still current and the next poll retries.
	StateFailed
	// StateClosed means Close has run.
	StateClosed
)

func (s WatcherState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ResultStatus is the outcome of one Watch call.
type ResultStatus int

const (
	// WatchUnchanged means the current instance was kept untouched.
	WatchUnchanged ResultStatus = iota
	// WatchReloaded means a new generation was installed.
	WatchReloaded
	// WatchFailed means a load attempt failed; see WatchResult.Err.
	WatchFailed
)

func (s ResultStatus) String() string {
	switch s {
	case WatchUnchanged:
		return "unchanged"
	case WatchReloaded:
		return "reloaded"
	case WatchFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage names the step of a load attempt.
type Stage int

const (
	// StageNone is reported when nothing failed.
	StageNone Stage = iota
	// StageProbe means the freshness check itself failed.
	StageProbe
	// StageOpen means the artifact could not be copied or mapped.
	StageOpen
	// StageResolve means the entry symbol was not found in the module.
	StageResolve
	// StageEntry means the entry symbol had the wrong type, panicked, or
	// returned an invalid table.
	StageEntry
	// StageInit means the new table's Init failed or panicked.
	StageInit
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageProbe:
		return "probe"
	case StageOpen:
		return "open"
	case StageResolve:
		return "resolve"
	case StageEntry:
		return "entry"
	case StageInit:
		return "init"
	default:
		return "unknown"
	}
}

// MarshalText renders the stage name in JSON.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// WatchResult describes the outcome of one Watch call.
type WatchResult struct {
	Status     ResultStatus
	Stage      Stage
	Err        error
	Generation uint64
}

// WatcherStats is a snapshot of the watcher counters.
type WatcherStats struct {
	Polls      int64     `json:"polls"`
	Unchanged  int64     `json:"unchanged"`
	Reloads    int64     `json:"reloads"`
	Failures   int64     `json:"failures"`
	Ticks      int64     `json:"ticks"`
	TickErrors int64     `json:"tick_errors"`
	Generation uint64    `json:"generation"`
	LastReload time.Time `json:"last_reload"`
}

type watcherMetrics struct {
	polls      atomic.Int64
	unchanged  atomic.Int64
	reloads    atomic.Int64
	failures   atomic.Int64
	ticks      atomic.Int64
	tickErrors atomic.Int64
	lastReload atomic.Int64
}

// Watcher owns one watch target and the currently active plugin instance.
//
// The host drives it from a single goroutine: Watch once per iteration, then
// Tick. Neither blocks beyond a freshness check and, during a reload, the cost
// of mapping the new module. The SharedState pointer handed to the watcher is
// passed, never copied, to every call of every generation; the watcher does
// no locking around it, so hosts running Tick from several goroutines must
// serialize those calls themselves.
//
// Current, State, Generation and Stats may be called from any goroutine.
//
// Example usage:
//
//	state := &game.State{}
//	w, err := heimdall.NewWatcher(state, cfg, heimdall.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	for running {
//	    if res := w.Watch(); res.Status == heimdall.WatchFailed {
//	        logger.Warn("reload failed", "error", res.Err)
//	    }
//	    if err := w.Tick(); err != nil {
//	        return err
//	    }
//	}
type Watcher[S any] struct {
	state  *S
	static bool
	target *WatchTarget
	loader Loader
	symbol string
	logger Logger

	current    atomic.Pointer[Instance[S]]
	machine    atomic.Int32
	generation atomic.Uint64
	closed     atomic.Bool

	handlers   []EventHandler
	handlersMu sync.RWMutex

	// resources owned by the watcher and released by Close
	closers []func() error

	// last failed load; only touched by Watch
	lastFailure *loadFailure

	metrics watcherMetrics
}

// loadFailure remembers why one version of the artifact failed to load.
type loadFailure struct {
	marker Marker
	stage  Stage
	err    error
}

// Option customizes a watcher.
type Option func(*watcherOptions)

type watcherOptions struct {
	loader   Loader
	probe    FreshnessProbe
	logger   Logger
	symbol   string
	handlers []EventHandler
}

// WithLoader replaces the Go plugin loader.
func WithLoader(loader Loader) Option {
	return func(o *watcherOptions) { o.loader = loader }
}

// WithProbe replaces the freshness probe selected by Config.Freshness.
func WithProbe(probe FreshnessProbe) Option {
	return func(o *watcherOptions) { o.probe = probe }
}

// WithLogger sets the logger; see NewLogger for accepted types.
func WithLogger(logger any) Option {
	return func(o *watcherOptions) { o.logger = NewLogger(logger) }
}

// WithEntrySymbol overrides Config.EntrySymbol.
func WithEntrySymbol(symbol string) Option {
	return func(o *watcherOptions) { o.symbol = symbol }
}

// WithEventHandler registers handler before the first event can fire.
func WithEventHandler(handler EventHandler) Option {
	return func(o *watcherOptions) { o.handlers = append(o.handlers, handler) }
}

func collectOptions(opts []Option) watcherOptions {
	o := watcherOptions{logger: NewNoOpLogger()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// NewWatcher creates a hot-reload watcher for config.ArtifactPath. The watcher
// starts unloaded; the first Watch performs the initial load.
func NewWatcher[S any](state *S, config Config, opts ...Option) (*Watcher[S], error) {
	if state == nil {
		return nil, NewConfigValidationError("shared state must not be nil", nil)
	}
	config.Mode = ModeDynamic
	if config.EntrySymbol == "" {
		config.EntrySymbol = DefaultEntrySymbol
	}
	if config.Freshness == "" {
		config.Freshness = FreshnessModTime
	}

	o := collectOptions(opts)
	if o.symbol != "" {
		config.EntrySymbol = o.symbol
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger.With("artifact", config.ArtifactPath)
	w := &Watcher[S]{
		state:    state,
		symbol:   config.EntrySymbol,
		logger:   logger,
		loader:   o.loader,
		handlers: o.handlers,
	}

	if w.loader == nil {
		w.loader = NewGoPluginLoader(config.Loader, logger)
	}

	probe := o.probe
	if probe == nil {
		var err error
		if probe, err = w.probeFor(config); err != nil {
			_ = w.releaseResources()
			return nil, err
		}
	}
	w.target = NewWatchTarget(config.ArtifactPath, probe)

	if config.Audit.Enabled {
		trail, err := NewAuditTrail(config.Audit)
		if err != nil {
			_ = w.releaseResources()
			return nil, err
		}
		w.handlers = append(w.handlers, trail.Record)
		w.closers = append(w.closers, trail.Close)
	}

	w.machine.Store(int32(StateUnloaded))
	return w, nil
}

func (w *Watcher[S]) probeFor(config Config) (FreshnessProbe, error) {
	switch config.Freshness {
	case FreshnessHash:
		return HashProbe{}, nil
	case FreshnessArgus:
		probe, err := NewArgusProbe(config.ArtifactPath, config.Argus, w.logger)
		if err != nil {
			return nil, err
		}
		if err := probe.Start(); err != nil {
			return nil, NewConfigValidationError("failed to start argus probe", err)
		}
		w.closers = append(w.closers, probe.Stop)
		return probe, nil
	default:
		return ModTimeProbe{}, nil
	}
}

// Watch checks the artifact and, when it changed, loads the new version and
// swaps it in. It never panics and never tears down a working instance
// because of a failed or missing artifact.
func (w *Watcher[S]) Watch() WatchResult {
	w.metrics.polls.Add(1)

	if w.closed.Load() {
		return WatchResult{Status: WatchFailed, Err: NewWatcherClosedError(w.path())}
	}
	if w.static {
		return w.unchanged()
	}

	marker, changed, err := w.target.Check()
	if err != nil {
		if IsArtifactMissing(err) {
			w.logger.Debug("Artifact missing, keeping current instance")
			w.emit(WatchEvent{Type: EventArtifactMissing, Error: err})
			return w.unchanged()
		}
		return w.fail(StageProbe, err, w.generation.Load()+1)
	}
	if !changed {
		return w.unchanged()
	}
	return w.reload(marker)
}

func (w *Watcher[S]) unchanged() WatchResult {
	w.metrics.unchanged.Add(1)
	return WatchResult{Status: WatchUnchanged, Generation: w.generation.Load()}
}

// reload runs steps open, resolve, entry and init for marker and, on success,
// publishes the new instance before retiring the old one.
func (w *Watcher[S]) reload(marker Marker) WatchResult {
	previous := w.current.Load()
	generation := w.generation.Load() + 1
	w.machine.Store(int32(StateLoading))

	w.logger.Info("Artifact changed, loading", "generation", generation, "marker", marker.String())

	next, stage, err := w.load(marker, generation)
	if err != nil {
		return w.failLoad(marker, stage, err, generation)
	}
	w.lastFailure = nil

	w.current.Store(next)
	w.generation.Store(generation)

	if previous != nil {
		w.retire(previous)
	}

	w.target.Commit(marker)
	w.machine.Store(int32(StateLoaded))
	w.metrics.reloads.Add(1)
	w.metrics.lastReload.Store(next.loadedAt.UnixNano())

	eventType := EventReloaded
	if previous == nil {
		eventType = EventLoaded
	}
	w.logger.Info("Plugin generation installed",
		"generation", generation,
		"plugin", next.Name(),
		"source", next.Source())
	w.emit(WatchEvent{Type: eventType, Plugin: next.Name(), Generation: generation})

	return WatchResult{Status: WatchReloaded, Generation: generation}
}

// load builds a fully initialized instance or releases everything it opened.
func (w *Watcher[S]) load(marker Marker, generation uint64) (*Instance[S], Stage, error) {
	path := w.path()

	module, err := w.loader.Open(path)
	if err != nil {
		return nil, StageOpen, err
	}

	sym, err := w.loader.Resolve(module, w.symbol)
	if err != nil {
		w.discard(module)
		return nil, StageResolve, err
	}

	entry, ok := asEntry[S](sym)
	if !ok {
		w.discard(module)
		return nil, StageEntry, NewEntryPointInvalidError(path, w.symbol, fmt.Sprintf("symbol has type %T", sym))
	}

	var table *Table[S]
	if err := callRecovered("entry", func() error {
		table = entry(w.state)
		return nil
	}); err != nil {
		w.discard(module)
		return nil, StageEntry, NewEntryPointInvalidError(path, w.symbol, err.Error())
	}
	if err := table.validate(); err != nil {
		w.discard(module)
		return nil, StageEntry, NewEntryPointInvalidError(path, w.symbol, err.Error())
	}

	if table.Init != nil {
		if err := callRecovered("init", func() error { return table.Init(w.state) }); err != nil {
			w.discard(module)
			return nil, StageInit, NewInitFailedError(table.displayName(), generation, err)
		}
	}

	return &Instance[S]{
		module:     module,
		table:      table,
		generation: generation,
		marker:     marker,
		loadedAt:   timecache.CachedTime(),
	}, StageNone, nil
}

// failLoad reports a failed load of marker. A build that already failed is
// reported again with its original stage, since the runtime refuses to map it
// a second time, and only the first failure is logged loudly and emitted.
func (w *Watcher[S]) failLoad(marker Marker, stage Stage, err error, generation uint64) WatchResult {
	last := w.lastFailure
	if last == nil || !last.marker.Equal(marker) {
		w.lastFailure = &loadFailure{marker: marker, stage: stage, err: err}
		return w.fail(stage, err, generation)
	}

	if stage == StageOpen && last.stage > StageOpen && IsFormatInvalid(err) {
		stage, err = last.stage, last.err
	}
	if stage != last.stage {
		w.lastFailure = &loadFailure{marker: marker, stage: stage, err: err}
		return w.fail(stage, err, generation)
	}

	w.metrics.failures.Add(1)
	w.machine.Store(int32(StateFailed))
	w.logger.Debug("Plugin reload still failing for this build",
		"generation", generation,
		"stage", stage.String(),
		"error", err)
	return WatchResult{Status: WatchFailed, Stage: stage, Err: err, Generation: w.generation.Load()}
}

func (w *Watcher[S]) fail(stage Stage, err error, generation uint64) WatchResult {
	w.metrics.failures.Add(1)
	w.machine.Store(int32(StateFailed))

	fields := []any{"generation", generation, "stage", stage.String(), "error", err}
	if stderrors.Unwrap(err) != nil {
		fields = append(fields, "cause", errors.RootCause(err))
	}

	if IsSymbolMissing(err) {
		w.logger.Error("Artifact does not export the entry point; rebuild it with the registration function",
			append(fields, "symbol", w.symbol)...)
	} else {
		w.logger.Warn("Plugin reload failed, keeping previous instance", fields...)
	}

	w.emit(WatchEvent{Type: EventReloadFailed, Generation: generation, Stage: stage, Error: err})
	return WatchResult{Status: WatchFailed, Stage: stage, Err: err, Generation: w.generation.Load()}
}

// retire tears down an instance that is no longer current and closes its
// module. Teardown always completes before Close.
func (w *Watcher[S]) retire(old *Instance[S]) {
	if old.table.Teardown != nil {
		if err := callRecovered("teardown", func() error {
			old.table.Teardown(w.state)
			return nil
		}); err != nil {
			w.logger.Error("Plugin teardown failed", "generation", old.generation, "error", err)
		}
	}
	if old.module != nil {
		w.discard(old.module)
	}
}

func (w *Watcher[S]) discard(module Module) {
	if err := w.loader.Close(module); err != nil {
		w.logger.Warn("Failed to close module", "error", NewModuleCloseError(module.Path(), err))
	}
}

// Tick runs the current instance's Tick against the shared state.
func (w *Watcher[S]) Tick() error {
	if w.closed.Load() {
		return NewWatcherClosedError(w.path())
	}
	inst := w.current.Load()
	if inst == nil {
		return NewNotLoadedError(w.path())
	}

	w.metrics.ticks.Add(1)
	if err := callRecovered("tick", func() error { return inst.table.Tick(w.state) }); err != nil {
		w.metrics.tickErrors.Add(1)
		return NewTickFailedError(inst.Name(), inst.generation, err)
	}
	return nil
}

// Close tears down the current instance, closes its module and releases the
// watcher's probe and audit trail. Calling Close again is a no-op.
func (w *Watcher[S]) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	generation := w.generation.Load()
	if inst := w.current.Swap(nil); inst != nil {
		w.retire(inst)
	}
	w.machine.Store(int32(StateClosed))
	w.logger.Info("Watcher closed", "generation", generation)
	w.emit(WatchEvent{Type: EventClosed, Generation: generation})

	return w.releaseResources()
}

func (w *Watcher[S]) releaseResources() error {
	var firstErr error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.closers = nil
	return firstErr
}

// OnEvent registers an event handler.
func (w *Watcher[S]) OnEvent(handler EventHandler) {
	if handler == nil {
		return
	}
	w.handlersMu.Lock()
	w.handlers = append(w.handlers, handler)
	w.handlersMu.Unlock()
}

func (w *Watcher[S]) emit(event WatchEvent) {
	event.Timestamp = timecache.CachedTime()
	event.Path = w.path()
	event.Live = w.current.Load() != nil
	if event.Plugin == "" {
		if inst := w.current.Load(); inst != nil {
			event.Plugin = inst.Name()
		}
	}

	w.handlersMu.RLock()
	handlers := make([]EventHandler, len(w.handlers))
	copy(handlers, w.handlers)
	w.handlersMu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer withStackRecover(w.logger)()
			handler(event)
		}()
	}
}

// Current returns the active instance, or nil when none is installed.
func (w *Watcher[S]) Current() *Instance[S] {
	return w.current.Load()
}

// State returns the state of the load/swap machine.
func (w *Watcher[S]) State() WatcherState {
	return WatcherState(w.machine.Load())
}

// Generation returns the generation of the current instance (0 if none).
func (w *Watcher[S]) Generation() uint64 {
	return w.generation.Load()
}

// Static reports whether the watcher is bound to a compiled-in table.
func (w *Watcher[S]) Static() bool {
	return w.static
}

// Stats returns a snapshot of the watcher counters.
func (w *Watcher[S]) Stats() WatcherStats {
	stats := WatcherStats{
		Polls:      w.metrics.polls.Load(),
		Unchanged:  w.metrics.unchanged.Load(),
		Reloads:    w.metrics.reloads.Load(),
		Failures:   w.metrics.failures.Load(),
		Ticks:      w.metrics.ticks.Load(),
		TickErrors: w.metrics.tickErrors.Load(),
		Generation: w.generation.Load(),
	}
	if ns := w.metrics.lastReload.Load(); ns != 0 {
		stats.LastReload = time.Unix(0, ns)
	}
	return stats
}

func (w *Watcher[S]) path() string {
	if w.target == nil {
		return ""
	}
	return w.target.Path()
}
