// instance.go: one loaded generation of a plugin
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import "time"

// Instance is a loaded plugin generation: the module it came from and the
// operation table bound at load time. Instances are immutable once the
// watcher publishes them.
type Instance[S any] struct {
	module     Module
	table      *Table[S]
	generation uint64
	marker     Marker
	loadedAt   time.Time
}

// Name returns the plugin's self-reported name.
func (i *Instance[S]) Name() string { return i.table.displayName() }

// Generation returns the 1-based load counter of this instance.
func (i *Instance[S]) Generation() uint64 { return i.generation }

// Marker returns the artifact marker the instance was loaded from. It is the
// zero Marker for statically bound instances.
func (i *Instance[S]) Marker() Marker { return i.marker }

// LoadedAt returns when the instance was installed.
func (i *Instance[S]) LoadedAt() time.Time { return i.loadedAt }

// Static reports whether the instance is compiled into the host.
func (i *Instance[S]) Static() bool { return i.module == nil }

// Source returns the file the module was mapped from, or "" when static.
func (i *Instance[S]) Source() string {
	if i.module == nil {
		return ""
	}
	return i.module.Source()
}
