// panic_recovery.go: panic containment at the plugin call boundary
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	"fmt"
	"runtime"
)

// PanicError is returned in place of a panic raised by plugin code.
type PanicError struct {
	Operation string
	Value     any
	Stack     []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("plugin panicked in %s: %v", e.Operation, e.Value)
}

// withStackRecover returns a panic recovery function that logs panic details
// including the stack trace. Used for event handlers, whose failures must
// not disturb the reload that emitted the event.
//
// Example usage:
//
//	defer withStackRecover(logger)()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			logger.Error("Panic recovered in event handler",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}

// callRecovered runs fn and converts a panic into a *PanicError.
func callRecovered(operation string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			err = &PanicError{Operation: operation, Value: r, Stack: buf[:n]}
		}
	}()
	return fn()
}
