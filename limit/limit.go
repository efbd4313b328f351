// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package limit provides [sequencer.Step] decorators that pace the
// rate at which elements are visited.
//
// Pacing is a property of the caller's step function, not of the
// sequencer: the decorated step blocks before delegating to the
// wrapped step.
package limit

import (
	"context"
	"errors"
	"runtime/trace"

	"golang.org/x/time/rate"
	"vawter.tech/sequencer"
)

// WithMaxRate is a wrapper around a [rate.Limiter] that enforces a
// maximum number of step invocations per second, with the given burst.
// See [WithLimiter] for the behavior when the context is done.
func WithMaxRate[T any](
	ctx context.Context, r float64, b int, step sequencer.Step[T],
) sequencer.Step[T] {
	return WithLimiter(ctx, rate.NewLimiter(rate.Limit(r), b), step)
}

// WithLimiter returns a step that waits for the limiter before
// delegating to the wrapped step. If the context is done while waiting,
// the run is aborted without replacing the current element and the
// wrapped step is not invoked for it.
//
// A limiter may be shared between runs to impose an aggregate rate.
func WithLimiter[T any](
	ctx context.Context, l *rate.Limiter, step sequencer.Step[T],
) sequencer.Step[T] {
	if l == nil {
		panic(errors.New("limiter must not be nil"))
	}
	if step == nil {
		panic(errors.New("step must not be nil"))
	}
	return func(item T, idx int, next sequencer.Continuation[T]) {
		// Fast-path: there's capacity.
		if l.Allow() {
			step(item, idx, next)
			return
		}

		region := trace.StartRegion(ctx, "rate limit wait")
		err := l.Wait(ctx)
		region.End()
		if err != nil {
			next.Abort()
			return
		}
		step(item, idx, next)
	}
}
