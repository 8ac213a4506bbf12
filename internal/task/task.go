// Package task runs one blocking card pass on a worker goroutine while the
// calling goroutine handles progress and completion.
//
// Cancellation is coarse: ctx is checked before the pass starts and again
// before the result is delivered. A pass in flight always runs to the end.
package task

import (
	"context"
	"log/slog"
	"time"
)

// Work is a blocking pass. It must report progress only through report.
type Work[T any] func(report func(percent int)) (T, error)

type outcome[T any] struct {
	val T
	err error
}

// Run executes work on a new goroutine. onProgress (which may be nil) is
// called on the caller's goroutine. If ctx is cancelled when the work
// finishes, the result is discarded and ctx.Err() is returned.
func Run[T any](ctx context.Context, name string, work Work[T], onProgress func(percent int)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		slog.Debug("task cancelled before start", "task", name)
		return zero, err
	}

	progress := make(chan int, 1)
	done := make(chan outcome[T], 1)
	start := time.Now()

	go func() {
		v, err := work(func(p int) {
			// keep only the most recent value when the caller lags
			select {
			case progress <- p:
			default:
				select {
				case <-progress:
				default:
				}
				progress <- p
			}
		})
		done <- outcome[T]{val: v, err: err}
	}()

	for {
		select {
		case p := <-progress:
			if onProgress != nil {
				onProgress(p)
			}
		case out := <-done:
			drain(progress, onProgress)
			if err := ctx.Err(); err != nil {
				slog.Info("task result discarded", "task", name, "reason", err)
				return zero, err
			}
			slog.Debug("task finished", "task", name, "elapsed", time.Since(start), "error", out.err)
			return out.val, out.err
		}
	}
}

func drain(progress <-chan int, onProgress func(int)) {
	select {
	case p := <-progress:
		if onProgress != nil {
			onProgress(p)
		}
	default:
	}
}
