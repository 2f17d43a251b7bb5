// static.go: compile-time bound watchers and mode selection
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import "github.com/agilira/go-timecache"

// NewStaticWatcher binds a watcher to a table compiled into the host. Init
// runs once here; Watch always reports WatchUnchanged without touching a
// loader or the filesystem. Hosts use it for release builds, where the same
// table the plugin artifact would export is linked in directly.
func NewStaticWatcher[S any](state *S, table *Table[S], opts ...Option) (*Watcher[S], error) {
	if state == nil {
		return nil, NewConfigValidationError("shared state must not be nil", nil)
	}
	if err := table.validate(); err != nil {
		return nil, NewEntryPointInvalidError("", "static", err.Error())
	}

	o := collectOptions(opts)
	w := &Watcher[S]{
		state:    state,
		static:   true,
		logger:   o.logger.With("plugin", table.displayName(), "mode", string(ModeStatic)),
		handlers: o.handlers,
	}

	if table.Init != nil {
		if err := callRecovered("init", func() error { return table.Init(state) }); err != nil {
			return nil, NewInitFailedError(table.displayName(), 1, err)
		}
	}

	w.current.Store(&Instance[S]{
		table:      table,
		generation: 1,
		loadedAt:   timecache.CachedTime(),
	})
	w.generation.Store(1)
	w.machine.Store(int32(StateLoaded))
	w.metrics.reloads.Add(1)

	w.logger.Info("Static plugin bound")
	w.emit(WatchEvent{Type: EventLoaded, Plugin: table.displayName(), Generation: 1})
	return w, nil
}

// Open creates the watcher selected by config.Mode. In static mode the
// compiled-in table is bound; in dynamic mode the artifact is loaded right
// away and an error is returned if that first load fails.
//
// Example usage:
//
//	w, err := heimdall.Open(state, cfg, game.Table(), heimdall.WithLogger(logger))
func Open[S any](state *S, config Config, static *Table[S], opts ...Option) (*Watcher[S], error) {
	if config.Mode == ModeStatic {
		if static == nil {
			return nil, NewConfigValidationError("static mode requires a compiled-in table", nil)
		}
		return NewStaticWatcher(state, static, opts...)
	}

	w, err := NewWatcher(state, config, opts...)
	if err != nil {
		return nil, err
	}
	if res := w.Watch(); res.Status == WatchFailed {
		_ = w.Close()
		return nil, res.Err
	}
	if w.Current() == nil {
		_ = w.Close()
		return nil, NewArtifactMissingError(config.ArtifactPath, nil)
	}
	return w, nil
}
