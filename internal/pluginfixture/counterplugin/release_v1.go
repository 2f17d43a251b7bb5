// release_v1.go: first counter release
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

//go:build !heimdall_fixture_v2

package main

const (
	release = "v1"
	step    = 1
)
