// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package sequencer provides controlled, one-at-a-time traversal of a
// slice where each element is handled by a step function that decides
// when the traversal may advance.
//
// A step may finish its work immediately or hand it off to another
// goroutine, a timer, or a callback-driven API. The run does not move
// on until the step invokes its [Continuation]:
//
//	err := sequencer.Run([]int{0, 1, 2},
//	    func(v int, idx int, next sequencer.Continuation[int]) {
//	        next.Next(v + 1)
//	    },
//	    func(out []int) {
//	        fmt.Println(out) // [1 2 3]
//	    },
//	)
//
// # Advancing and aborting
//
// [Continuation.Next] moves to the following element or, after the
// last element, fires the completion callback. [Continuation.Abort]
// fires the completion callback immediately and no further steps are
// invoked. Both accept an optional replacement for the current
// element. Omitting the argument is distinct from passing the zero
// value: next.Next(0) stores a zero.
//
// A Continuation is single-use. Calls on a handle that has already been
// used, or calls made after the run has terminated, are silently
// ignored. This makes the common mistake of calling next.Abort()
// followed by next.Next() harmless.
//
// # Ownership
//
// The run works on a shallow copy of the input slice, so the caller's
// slice is never modified. The completion callback receives that copy
// and the run retains nothing after the callback returns. Every run has
// its own state, so runs may be nested or executed concurrently.
//
// # Stack usage
//
// When a step invokes its continuation before returning, the next step
// is invoked from a loop rather than from within the continuation, so
// long synchronous traversals use constant stack space. When a
// continuation is invoked after its step has returned, the goroutine
// making that call drives the following step.
//
// # Validation
//
// Entry points validate their arguments synchronously and return a
// [*TypeError] wrapping [ErrInvalidSequence], [ErrInvalidStep], or
// [ErrInvalidCompletion] before any callback runs. [RunAny] accepts
// dynamically-typed arguments for callers that cannot know the element
// type at compile time, such as code handling decoded configuration.
//
// # Blocking use
//
// [Collect] runs a traversal and waits for its result. It also
// converts step panics into a [RecoveredError].
//
// # Observability
//
// Every run creates a [runtime/trace.Task] and every step call is
// annotated with a [runtime/trace.StartRegion]. [WithLogger] emits
// debug-level lifecycle events through zap and [WithTracer] records an
// OpenTelemetry span per run.
//
// # Related packages
//
// The [vawter.tech/sequencer/limit] package paces steps with a rate
// limiter. The [vawter.tech/sequencer/linger] package helps tests detect
// runs whose completion callback never fired. The
// [vawter.tech/sequencer/jsbind] package exposes the sequencer to
// JavaScript through goja.
package sequencer
