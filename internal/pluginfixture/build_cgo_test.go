// build_cgo_test.go: toolchain capabilities of the test binary
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

//go:build cgo

package pluginfixture_test

const cgoEnabled = true
