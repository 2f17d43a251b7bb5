// main.go: counter plugin built by the loader integration tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package main

import (
	heimdall "github.com/agilira/go-heimdall"
	"github.com/agilira/go-heimdall/internal/pluginfixture"
)

// HeimdallEntry registers the counter table for this release.
func HeimdallEntry(state *pluginfixture.Counter) *heimdall.Table[pluginfixture.Counter] {
	return &heimdall.Table[pluginfixture.Counter]{
		Version: heimdall.TableVersion,
		Name:    "counter-" + release,
		Init: func(s *pluginfixture.Counter) error {
			s.Installs = append(s.Installs, release)
			return nil
		},
		Tick: func(s *pluginfixture.Counter) error {
			s.Value += step
			return nil
		},
	}
}

func main() {}
