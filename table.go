// table.go: the Watchable contract between a host and its plugin artifacts
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import "fmt"

// TableVersion is the layout version of Table. Artifacts built against a
// different layout are rejected before any of their code touches the state.
const TableVersion uint32 = 1

// DefaultEntrySymbol is the exported name every artifact must provide.
const DefaultEntrySymbol = "HeimdallEntry"

// Table is the fixed-shape operation table a plugin hands to the host.
//
// The table is returned as one value by the artifact's entry point and is the
// only channel through which the host reaches plugin code. Every function
// receives the host's SharedState pointer. Implementations must not retain
// that pointer, or anything reachable from plugin code such as closures and
// method values, beyond the duration of the call: once a newer generation
// is installed the retired module is never called again, and references
// into it are a caller bug the engine cannot detect.
//
// Example plugin (built with -buildmode=plugin):
//
//	func HeimdallEntry(state *game.State) *heimdall.Table[game.State] {
//	    return &heimdall.Table[game.State]{
//	        Version: heimdall.TableVersion,
//	        Name:    "counter",
//	        Tick:    func(s *game.State) error { s.Counter++; return nil },
//	    }
//	}
type Table[S any] struct {
	// Version must equal TableVersion.
	Version uint32

	// Name identifies the plugin in logs and errors.
	Name string

	// Init prepares the state for this generation. A non-nil error (or a
	// panic) keeps the previous generation in place. Optional.
	Init func(state *S) error

	// Tick is the per-iteration update. Required.
	Tick func(state *S) error

	// Teardown runs on the retiring generation after its successor has been
	// installed. Optional.
	Teardown func(state *S)
}

// EntryFunc is the signature of the artifact's exported entry point.
type EntryFunc[S any] func(state *S) *Table[S]

// validate checks the table shape before any of its functions run.
func (t *Table[S]) validate() error {
	if t == nil {
		return fmt.Errorf("entry point returned a nil table")
	}
	if t.Version != TableVersion {
		return fmt.Errorf("table version %d, host expects %d", t.Version, TableVersion)
	}
	if t.Tick == nil {
		return fmt.Errorf("table has no Tick operation")
	}
	return nil
}

func (t *Table[S]) displayName() string {
	if t == nil || t.Name == "" {
		return "unnamed"
	}
	return t.Name
}

// asEntry converts a resolved symbol into an entry function. Both an exported
// function and an exported variable holding one are accepted.
func asEntry[S any](sym any) (EntryFunc[S], bool) {
	switch fn := sym.(type) {
	case func(*S) *Table[S]:
		return fn, fn != nil
	case EntryFunc[S]:
		return fn, fn != nil
	case *func(*S) *Table[S]:
		if fn == nil || *fn == nil {
			return nil, false
		}
		return *fn, true
	case *EntryFunc[S]:
		if fn == nil || *fn == nil {
			return nil, false
		}
		return *fn, true
	default:
		return nil, false
	}
}
