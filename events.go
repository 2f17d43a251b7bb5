// events.go: watcher lifecycle events
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import "time"

// EventType names a watcher lifecycle event.
type EventType string

const (
	// EventLoaded is emitted when the first instance is installed.
	EventLoaded EventType = "loaded"
	// EventReloaded is emitted when a newer generation replaced the current one.
	EventReloaded EventType = "reloaded"
	// EventReloadFailed is emitted when a load attempt failed.
	EventReloadFailed EventType = "reload_failed"
	// EventArtifactMissing is emitted when a poll found no artifact on disk.
	EventArtifactMissing EventType = "artifact_missing"
	// EventClosed is emitted once when the watcher is closed.
	EventClosed EventType = "closed"
)

// WatchEvent describes one watcher lifecycle event.
type WatchEvent struct {
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Path       string    `json:"path"`
	Plugin     string    `json:"plugin,omitempty"`
	Generation uint64    `json:"generation"`
	Stage      Stage     `json:"stage,omitempty"`
	Error      error     `json:"-"`

	// Live reports whether an instance is current after the event.
	Live bool `json:"live"`
}

// EventHandler receives watcher events. Handlers run synchronously on the
// goroutine that called Watch or Close; panics are recovered and logged.
type EventHandler func(event WatchEvent)
