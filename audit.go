// audit.go: JSONL audit trail of reload events backed by the Argus audit logger
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	"fmt"
	"sync"
	"time"

	"github.com/agilira/argus"
)

// auditSink is the part of *argus.AuditLogger the trail writes to.
type auditSink interface {
	LogSecurityEvent(eventType, message string, context map[string]interface{})
	Close() error
}

// AuditTrail records every watcher event to an Argus audit log, giving a
// persistent history of which artifact generation was live and when.
//
// Example usage:
//
//	trail, err := heimdall.NewAuditTrail(cfg.Audit)
//	if err != nil {
//	    return err
//	}
//	defer trail.Close()
//	watcher.OnEvent(trail.Record)
type AuditTrail struct {
	mu     sync.Mutex
	sink   auditSink
	closed bool
}

// NewAuditTrail creates an audit trail writing to options.OutputFile.
func NewAuditTrail(options AuditOptions) (*AuditTrail, error) {
	if options.OutputFile == "" {
		return nil, NewConfigValidationError("audit output file is required", nil)
	}
	bufferSize := options.BufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	flush := options.FlushInterval
	if flush <= 0 {
		flush = 5 * time.Second
	}

	logger, err := argus.NewAuditLogger(argus.AuditConfig{
		Enabled:       true,
		OutputFile:    options.OutputFile,
		MinLevel:      argus.AuditInfo,
		BufferSize:    bufferSize,
		FlushInterval: flush,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create audit logger: %w", err)
	}
	return &AuditTrail{sink: logger}, nil
}

func newAuditTrailWithSink(sink auditSink) *AuditTrail {
	return &AuditTrail{sink: sink}
}

// Record writes event to the audit log. It matches EventHandler.
func (a *AuditTrail) Record(event WatchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	context := map[string]interface{}{
		"path":       event.Path,
		"generation": event.Generation,
		"plugin":     event.Plugin,
		"timestamp":  event.Timestamp,
	}
	if event.Stage != StageNone {
		context["stage"] = event.Stage.String()
	}
	if event.Error != nil {
		context["error"] = event.Error.Error()
		context["error_code"] = string(ErrorCodeOf(event.Error))
	}
	a.sink.LogSecurityEvent("heimdall_"+string(event.Type), "Plugin reload event", context)
}

// Close flushes and closes the audit log.
func (a *AuditTrail) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.sink.Close()
}
