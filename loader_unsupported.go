// loader_unsupported.go: fallback for platforms without Go plugin support
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

//go:build !((linux || darwin || freebsd) && cgo)

package heimdall

import (
	"fmt"
	"runtime"
)

func openNative(source string) (symbolTable, error) {
	return nil, fmt.Errorf("dynamic loading is not supported on %s/%s (cgo required)", runtime.GOOS, runtime.GOARCH)
}
