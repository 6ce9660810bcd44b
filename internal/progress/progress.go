// Package progress reports per-stage progress of long computations and
// carries the cooperative cancellation checkpoint between stages.
package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// ErrCancelRequested is returned when a run stops because its context was
// cancelled
var ErrCancelRequested = errors.New("cancel requested")

// Func receives the progress of a named stage as a value in [0, 100]
type Func func(stage string, value int)

// Range maps done/total of a sub-step onto [start, end] of a stage.
// The returned function is a no-op when f is nil.
func Range(f Func, stage string, start, end int) func(done, total int) {
	return func(done, total int) {
		if f == nil || total <= 0 {
			return
		}
		f(stage, int(math.Round(float64(done)/float64(total)*float64(end-start)+float64(start))))
	}
}

// Checkpoint returns an error wrapping ErrCancelRequested and the context
// error if ctx is done
func Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelRequested, err)
	}
	return nil
}
