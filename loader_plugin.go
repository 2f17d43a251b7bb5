// loader_plugin.go: native module opening backed by the Go plugin package
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

//go:build (linux || darwin || freebsd) && cgo

package heimdall

import "plugin"

// pluginSymbols adapts *plugin.Plugin, whose Lookup returns plugin.Symbol.
type pluginSymbols struct {
	p *plugin.Plugin
}

func (s pluginSymbols) Lookup(symbol string) (any, error) {
	sym, err := s.p.Lookup(symbol)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

func openNative(source string) (symbolTable, error) {
	p, err := plugin.Open(source)
	if err != nil {
		return nil, err
	}
	return pluginSymbols{p: p}, nil
}
