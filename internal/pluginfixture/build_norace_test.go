// build_norace_test.go: plugins must match the race mode of the host
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

//go:build !race

package pluginfixture_test

const raceEnabled = false
