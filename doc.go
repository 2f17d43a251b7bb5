// Package heimdall swaps newly compiled plugin code into a running Go process
// while a block of host-owned state survives every swap.
//
// A developer edits plugin code, rebuilds it with -buildmode=plugin, and the
// running host picks up the change on its next loop iteration without a
// restart.
//
// Key Features:
//   - Poll-driven Watcher: one synchronous Watch call per host iteration
//   - Atomic load-and-swap: a new generation is published only after its Init
//     succeeded; the old one is torn down and closed afterwards
//   - Failed reloads keep the last good generation and are retried on the
//     next poll
//   - Pluggable freshness detection: modification time, content hash or
//     Argus change events
//   - Shadow copies so rebuilds never overwrite a mapped artifact
//   - Static mode binding the same operation table at compile time
//   - Structured errors (go-errors), audit trail (Argus) and gRPC health
//     reporting
//
// Plugin side:
//
//	// package main, built with: go build -buildmode=plugin -o game.so
//	func HeimdallEntry(state *game.State) *heimdall.Table[game.State] {
//		return &heimdall.Table[game.State]{
//			Version: heimdall.TableVersion,
//			Name:    "game-logic",
//			Init:    func(s *game.State) error { return nil },
//			Tick:    func(s *game.State) error { s.Frame++; return nil },
//		}
//	}
//
// Host side:
//
//	state := &game.State{}
//	cfg := heimdall.DefaultConfig()
//	cfg.ArtifactPath = "./build/game.so"
//
//	w, err := heimdall.Open(state, cfg, nil, heimdall.WithLogger(slog.Default()))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer w.Close()
//
//	if err := heimdall.Run(ctx, w, 16*time.Millisecond); err != nil {
//		log.Fatal(err)
//	}
//
// State safety: plugin code must not keep references to the shared state, or
// hand the host references into its own code, beyond a single call. The Go
// runtime cannot detect a reference into a retired generation; this is a
// caller obligation.
//
// The state's memory layout must stay the same across reloads within a
// session. Go also refuses to load two artifacts that carry the same package
// build identity twice, so rebuilds must change it, typically with
// -ldflags=-pluginpath=<unique>.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package heimdall
