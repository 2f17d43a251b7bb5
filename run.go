// run.go: cooperative host loop driving a watcher
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package heimdall

import (
	"context"
	"time"
)

// Run drives w until ctx is cancelled: every interval it calls Watch and then
// Tick, sequentially on the calling goroutine. Reload failures are left to
// the watcher's logging and event handlers; the loop keeps ticking the last
// good instance. While nothing has been loaded yet ticks are skipped. A Tick
// error stops the loop and is returned. Cancellation returns nil.
func Run[S any](ctx context.Context, w *Watcher[S], interval time.Duration) error {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := step(w); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func step[S any](w *Watcher[S]) error {
	if res := w.Watch(); hasCode(res.Err, ErrCodeWatcherClosed) {
		return res.Err
	}
	if w.Current() == nil {
		return nil
	}
	return w.Tick()
}
