// counter.go: state shared between the host and the counter test plugin
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package pluginfixture holds the state type used by the counter plugin that
// the loader integration tests build with -buildmode=plugin. The host and the
// plugin must both import it so the entry point types match.
package pluginfixture

// Counter is the host-owned state handed to every plugin generation.
type Counter struct {
	Value    int
	Installs []string
}
