// freshness.go: artifact freshness markers and the watch target
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"
)

// FreshnessMode selects how artifact changes are detected.
type FreshnessMode string

const (
	// FreshnessModTime compares modification time and size (default).
	FreshnessModTime FreshnessMode = "mtime"
	// FreshnessHash compares a SHA-256 of the artifact contents.
	FreshnessHash FreshnessMode = "hash"
	// FreshnessArgus receives change events from an Argus watcher.
	FreshnessArgus FreshnessMode = "argus"
)

// Marker identifies one observed version of an artifact.
type Marker struct {
	ModTime time.Time `json:"mod_time"`
	Size    int64     `json:"size"`
	Hash    string    `json:"hash,omitempty"`
}

// Equal reports whether two markers describe the same artifact version. When
// both carry a hash only the hashes are compared.
func (m Marker) Equal(other Marker) bool {
	if m.Hash != "" && other.Hash != "" {
		return m.Hash == other.Hash
	}
	return m.ModTime.Equal(other.ModTime) && m.Size == other.Size && m.Hash == other.Hash
}

func (m Marker) String() string {
	if m.Hash != "" {
		return "sha256:" + m.Hash
	}
	return fmt.Sprintf("%s/%d", m.ModTime.UTC().Format(time.RFC3339Nano), m.Size)
}

// FreshnessProbe reports the current marker of an artifact. A missing
// artifact must be reported with an error satisfying IsArtifactMissing.
type FreshnessProbe interface {
	Marker(path string) (Marker, error)
}

// ModTimeProbe uses the filesystem modification time and size.
type ModTimeProbe struct{}

// Marker implements FreshnessProbe.
func (ModTimeProbe) Marker(path string) (Marker, error) {
	info, err := statArtifact(path)
	if err != nil {
		return Marker{}, err
	}
	return Marker{ModTime: info.ModTime(), Size: info.Size()}, nil
}

// HashProbe hashes the artifact contents, for filesystems whose timestamps
// cannot be trusted.
type HashProbe struct{}

// Marker implements FreshnessProbe.
func (HashProbe) Marker(path string) (Marker, error) {
	info, err := statArtifact(path)
	if err != nil {
		return Marker{}, err
	}
	f, err := os.Open(path) // #nosec G304 -- path comes from host configuration
	if err != nil {
		if os.IsNotExist(err) {
			return Marker{}, NewArtifactMissingError(path, err)
		}
		return Marker{}, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return Marker{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return Marker{ModTime: info.ModTime(), Size: info.Size(), Hash: hex.EncodeToString(h.Sum(nil))}, nil
}

func statArtifact(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewArtifactMissingError(path, err)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, NewFormatInvalidError(path, fmt.Errorf("%s is a directory", path))
	}
	return info, nil
}

// WatchTarget is one pluggable artifact: its path plus the marker recorded at
// the last successful load.
//
// The recorded marker only advances through Commit, which the watcher calls
// after a load has been fully installed. A failed load therefore leaves the
// target reporting a change, and the next poll retries.
type WatchTarget struct {
	path    string
	probe   FreshnessProbe
	last    Marker
	hasLast bool
}

// NewWatchTarget creates a target for path. A nil probe means ModTimeProbe.
func NewWatchTarget(path string, probe FreshnessProbe) *WatchTarget {
	if probe == nil {
		probe = ModTimeProbe{}
	}
	return &WatchTarget{path: path, probe: probe}
}

// Path returns the artifact path.
func (t *WatchTarget) Path() string { return t.path }

// Check probes the artifact. changed is true when the artifact exists and its
// marker differs from the recorded one (or nothing has been recorded yet).
func (t *WatchTarget) Check() (marker Marker, changed bool, err error) {
	marker, err = t.probe.Marker(t.path)
	if err != nil {
		return Marker{}, false, err
	}
	if !t.hasLast {
		return marker, true, nil
	}
	return marker, !marker.Equal(t.last), nil
}

// Commit records marker as the currently loaded version.
func (t *WatchTarget) Commit(marker Marker) {
	t.last = marker
	t.hasLast = true
}

// LastMarker returns the recorded marker and whether one exists.
func (t *WatchTarget) LastMarker() (Marker, bool) {
	return t.last, t.hasLast
}
