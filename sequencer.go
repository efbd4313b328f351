// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package sequencer

import (
	"context"
	"runtime/trace"

	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"vawter.tech/sequencer/internal/safe"
	"vawter.tech/sequencer/internal/state"
)

// Span attributes.
const (
	attrAborted = attribute.Key("sequencer.aborted")
	attrIndex   = attribute.Key("sequencer.index")
	attrLength  = attribute.Key("sequencer.length")
	attrName    = attribute.Key("sequencer.name")
)

// A Step is invoked once for each visited element. The step must
// eventually call exactly one method on the [Continuation] to advance
// or to abort the run. The call may happen before the step returns or
// at any later time, from any goroutine.
type Step[T any] func(item T, idx int, next Continuation[T])

// A Continuation resumes or terminates a run. Each Continuation is
// bound to a single index and is single-use: once either method has
// been called, or once the run has terminated, further calls are
// silently ignored.
//
// Both methods accept an optional replacement value for the element at
// the bound index. Omitting the argument leaves the element unchanged;
// any supplied value, including the zero value, is stored. If more than
// one value is supplied, the last one wins.
type Continuation[T any] interface {
	// Abort terminates the run and fires the completion callback. No
	// further steps will be invoked.
	Abort(replacement ...T)
	// Next moves to the following element, or fires the completion
	// callback if the bound index was the last one.
	Next(replacement ...T)
}

// Run visits each element of items in ascending order, invoking step
// for one element at a time. The done callback, which may be nil, is
// invoked exactly once with the working sequence when the run ends,
// either because every element was visited or because a step aborted.
//
// The caller's slice is never modified; the working sequence is a
// shallow copy. A nil slice is treated as empty, in which case done is
// invoked immediately and step never is.
//
// An error is returned only if the arguments are invalid, in which
// case neither callback is invoked. All other behavior is reported
// through the callbacks.
func Run[T any](items []T, step Step[T], done func([]T), opts ...Option) error {
	return RunContext(context.Background(), items, step, done, opts...)
}

// RunContext is equivalent to [Run], save that the context is used as
// the parent of the [runtime/trace.Task] and any span created by
// [WithTracer]. The context is not consulted for cancellation; calling
// [Continuation.Abort] is the only way to end a run early.
func RunContext[T any](
	ctx context.Context, items []T, step Step[T], done func([]T), opts ...Option,
) error {
	if step == nil {
		return typeError("step", "a non-nil function", step, ErrInvalidStep)
	}
	if done == nil {
		done = func([]T) {}
	}
	cfg := newConfig(opts)
	r := &run[T]{
		cfg:  cfg,
		done: done,
		log:  cfg.logger.With(zap.String("run", cfg.name)),
		st:   state.New(items),
		step: step,
	}
	r.start(ctx)
	return nil
}

// run binds the user callbacks to a state record for a single
// invocation of [RunContext].
type run[T any] struct {
	cfg  *config
	ctx  context.Context // Carries the trace task.
	done func([]T)
	log  *zap.Logger
	span oteltrace.Span // Nil if no tracer is configured.
	st   *state.Run[T]
	step Step[T]
	task *trace.Task
}

func (r *run[T]) start(ctx context.Context) {
	r.ctx, r.task = trace.NewTask(ctx, r.cfg.name)
	length := r.st.Len()
	r.span = r.cfg.startSpan(r.ctx, length)
	r.log.Debug("run started", zap.Int("length", length))

	if length == 0 {
		if r.st.Terminate() == state.Finished {
			r.finish()
		}
		return
	}
	r.drive(0)
}

// drive invokes steps, starting at idx, for as long as each step's
// continuation is invoked before the step returns. This keeps the stack
// depth constant when continuations fire synchronously.
func (r *run[T]) drive(idx int) {
	for {
		item, ok := r.st.Enter(idx)
		if !ok {
			return
		}
		if !r.invoke(item, idx) {
			return
		}
		idx, ok = r.st.Exit()
		if !ok {
			return
		}
	}
}

// invoke calls the step function. It returns false if the step
// panicked and the panic was handled.
func (r *run[T]) invoke(item T, idx int) bool {
	defer trace.StartRegion(r.ctx, "step").End()
	if r.span != nil {
		r.span.AddEvent("step", oteltrace.WithAttributes(attrIndex.Int(idx)))
	}

	next := &continuation[T]{run: r, idx: idx}
	if r.cfg.onPanic == nil {
		r.step(item, idx, next)
		return true
	}

	err := safe.Call(func() { r.step(item, idx, next) })
	if err == nil {
		return true
	}
	// The step may already have finished the run, possibly on another
	// goroutine, in which case there is nothing left to abort.
	if r.st.Fail() != state.Finished {
		r.log.Warn("step panicked after run finished", zap.Int("idx", idx), zap.Error(err))
		return false
	}
	r.log.Debug("step panicked", zap.Int("idx", idx), zap.Error(err))
	if r.span != nil {
		r.span.RecordError(err, oteltrace.WithAttributes(attrIndex.Int(idx)))
	}
	r.cfg.onPanic(idx, err)
	r.finish()
	return false
}

// finish hands the working sequence to the completion callback. It is
// called exactly once per run.
func (r *run[T]) finish() {
	defer r.task.End()
	aborted := r.st.Aborted()
	if r.span != nil {
		r.span.SetAttributes(attrAborted.Bool(aborted))
		defer r.span.End()
	}
	r.log.Debug("run finished", zap.Bool("aborted", aborted))
	r.done(r.st.Items())
}

func (r *run[T]) ignored(idx int, method string) {
	r.log.Debug("continuation ignored",
		zap.Int("idx", idx), zap.String("method", method))
}

// continuation is the handle passed to a step.
type continuation[T any] struct {
	run *run[T]
	idx int
}

var _ Continuation[any] = (*continuation[any])(nil)

func (c *continuation[T]) Abort(replacement ...T) {
	if c.run.st.Abort(c.idx, replacement) != state.Finished {
		c.run.ignored(c.idx, "abort")
		return
	}
	if c.run.span != nil {
		c.run.span.AddEvent("abort", oteltrace.WithAttributes(attrIndex.Int(c.idx)))
	}
	c.run.log.Debug("run aborted", zap.Int("idx", c.idx))
	c.run.finish()
}

func (c *continuation[T]) Next(replacement ...T) {
	switch c.run.st.Advance(c.idx, replacement) {
	case state.Ignored:
		c.run.ignored(c.idx, "next")
	case state.Deferred:
		// The driver loop will pick up the next index.
	case state.Resume:
		c.run.drive(c.idx + 1)
	case state.Finished:
		c.run.finish()
	}
}
