// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package sequencer

import "context"

// Collect starts a run and blocks until its completion callback fires,
// returning the working sequence.
//
// If a step panics while being driven by the sequencer, the run is
// aborted and the panic is returned as a [*RecoveredError] alongside
// the working sequence. Any [WithPanicHandler] option is replaced.
//
// If the context is done before the run completes, [context.Cause] is
// returned. The run itself is not canceled: a step that later invokes
// its continuation will still advance it.
func Collect[T any](
	ctx context.Context, items []T, step Step[T], opts ...Option,
) ([]T, error) {
	type result struct {
		items []T
		err   error
	}
	ch := make(chan result, 1)

	// The panic handler is only called when the panic terminates the
	// run, so it and the completion callback execute on the same
	// goroutine, in that order.
	var panicErr error
	opts = append(opts[:len(opts):len(opts)],
		WithPanicHandler(func(_ int, err error) { panicErr = err }))

	if err := RunContext(ctx, items, step, func(out []T) {
		ch <- result{out, panicErr}
	}, opts...); err != nil {
		return nil, err
	}

	// Prefer a result that is already available.
	select {
	case res := <-ch:
		return res.items, res.err
	default:
	}

	select {
	case res := <-ch:
		return res.items, res.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}
