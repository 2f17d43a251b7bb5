// testing_helpers_test.go: in-memory loader, probe and plugin tables for tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// counterState is the shared state used across test plugins.
type counterState struct {
	Counter    int
	SeenAtInit []int
}

// recorder keeps an ordered journal of plugin and loader calls.
type recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recorder) add(entry string) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

func (r *recorder) count(entry string) int {
	n := 0
	for _, e := range r.list() {
		if e == entry {
			n++
		}
	}
	return n
}

// counterTable returns a table whose Tick increments the counter and whose
// Init/Teardown are journaled under name.
func counterTable(name string, rec *recorder) *Table[counterState] {
	return &Table[counterState]{
		Version: TableVersion,
		Name:    name,
		Init: func(s *counterState) error {
			rec.add("init:" + name)
			s.SeenAtInit = append(s.SeenAtInit, s.Counter)
			return nil
		},
		Tick: func(s *counterState) error {
			s.Counter++
			return nil
		},
		Teardown: func(s *counterState) {
			rec.add("teardown:" + name)
		},
	}
}

// entryFor wraps a table in the exported entry point shape.
func entryFor(table *Table[counterState]) func(*counterState) *Table[counterState] {
	return func(*counterState) *Table[counterState] { return table }
}

// fakeArtifact is what the fake loader finds at a path.
type fakeArtifact struct {
	name       string
	symbol     any
	openErr    error
	resolveErr error
}

type fakeModule struct {
	path     string
	artifact *fakeArtifact
	closed   bool
}

func (m *fakeModule) Path() string   { return m.path }
func (m *fakeModule) Source() string { return m.path + "#" + m.artifact.name }

// fakeLoader serves artifacts from memory and journals closes.
type fakeLoader struct {
	mu        sync.Mutex
	artifacts map[string]*fakeArtifact
	rec       *recorder

	opens    int
	resolves int
	closes   int
	live     map[*fakeModule]struct{}
}

func newFakeLoader(rec *recorder) *fakeLoader {
	return &fakeLoader{
		artifacts: make(map[string]*fakeArtifact),
		rec:       rec,
		live:      make(map[*fakeModule]struct{}),
	}
}

func (l *fakeLoader) put(path string, artifact *fakeArtifact) {
	l.mu.Lock()
	l.artifacts[path] = artifact
	l.mu.Unlock()
}

func (l *fakeLoader) Open(path string) (Module, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opens++
	artifact, ok := l.artifacts[path]
	if !ok {
		return nil, NewArtifactMissingError(path, os.ErrNotExist)
	}
	if artifact.openErr != nil {
		return nil, artifact.openErr
	}
	m := &fakeModule{path: path, artifact: artifact}
	l.live[m] = struct{}{}
	return m, nil
}

func (l *fakeLoader) Resolve(module Module, symbol string) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resolves++
	m := module.(*fakeModule)
	if m.artifact.resolveErr != nil {
		return nil, m.artifact.resolveErr
	}
	if symbol != DefaultEntrySymbol {
		return nil, NewSymbolMissingError(m.path, symbol, fmt.Errorf("symbol %s not found", symbol))
	}
	return m.artifact.symbol, nil
}

func (l *fakeLoader) Close(module Module) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := module.(*fakeModule)
	if m.closed {
		return fmt.Errorf("module %s closed twice", m.artifact.name)
	}
	m.closed = true
	l.closes++
	delete(l.live, m)
	if l.rec != nil {
		l.rec.add("close:" + m.artifact.name)
	}
	return nil
}

func (l *fakeLoader) ioCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opens + l.resolves + l.closes
}

func (l *fakeLoader) liveModules() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.live)
}

// fakeProbe reports a settable marker.
type fakeProbe struct {
	mu      sync.Mutex
	marker  Marker
	missing bool
	err     error
	calls   int
}

func newFakeProbe(marker Marker) *fakeProbe {
	return &fakeProbe{marker: marker}
}

func (p *fakeProbe) set(marker Marker) {
	p.mu.Lock()
	p.marker = marker
	p.missing = false
	p.mu.Unlock()
}

func (p *fakeProbe) setMissing() {
	p.mu.Lock()
	p.missing = true
	p.mu.Unlock()
}

func (p *fakeProbe) Marker(path string) (Marker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return Marker{}, p.err
	}
	if p.missing {
		return Marker{}, NewArtifactMissingError(path, os.ErrNotExist)
	}
	return p.marker, nil
}

// markerAt builds a modification-time marker offset from a fixed epoch.
func markerAt(seconds int) Marker {
	return Marker{ModTime: time.Unix(1_700_000_000+int64(seconds), 0), Size: 1024}
}

const testArtifact = "plugin.so"

// watcherFixture bundles a dynamic watcher with its fakes.
type watcherFixture struct {
	state   *counterState
	rec     *recorder
	loader  *fakeLoader
	probe   *fakeProbe
	logger  *TestLogger
	watcher *Watcher[counterState]
}

func newWatcherFixture(t *testing.T, opts ...Option) *watcherFixture {
	t.Helper()
	f := &watcherFixture{
		state:  &counterState{},
		rec:    &recorder{},
		probe:  newFakeProbe(markerAt(0)),
		logger: NewTestLogger(),
	}
	f.loader = newFakeLoader(f.rec)

	config := DefaultConfig()
	config.ArtifactPath = testArtifact

	all := append([]Option{WithLoader(f.loader), WithProbe(f.probe), WithLogger(f.logger)}, opts...)
	w, err := NewWatcher(f.state, config, all...)
	require.NoError(t, err)
	f.watcher = w
	t.Cleanup(func() { _ = w.Close() })
	return f
}

// install puts a counter artifact named name at the test path.
func (f *watcherFixture) install(name string) *Table[counterState] {
	table := counterTable(name, f.rec)
	f.loader.put(testArtifact, &fakeArtifact{name: name, symbol: entryFor(table)})
	return table
}

// publish installs name and moves the probe marker to seconds.
func (f *watcherFixture) publish(name string, seconds int) *Table[counterState] {
	table := f.install(name)
	f.probe.set(markerAt(seconds))
	return table
}

// eventLog collects watcher events.
type eventLog struct {
	mu     sync.Mutex
	events []WatchEvent
}

func (e *eventLog) handle(event WatchEvent) {
	e.mu.Lock()
	e.events = append(e.events, event)
	e.mu.Unlock()
}

func (e *eventLog) types() []EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]EventType, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Type)
	}
	return out
}

func (e *eventLog) last() WatchEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[len(e.events)-1]
}
