// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package state defines the per-run bookkeeping for a sequencer.
//
// A Run never calls user code. Each method returns a [Verdict] that
// tells the caller what it must do once the mutex has been released.
package state

import (
	"slices"
	"sync"
)

// A Verdict is returned from the transition methods on [Run].
type Verdict int

const (
	// Ignored means the call was made on a stale handle or after the
	// run terminated. Nothing changed.
	Ignored Verdict = iota
	// Deferred means the cursor advanced while a step call was still
	// executing. The driver loop will enter the next index once that
	// call returns.
	Deferred
	// Resume means the cursor advanced after the step call had already
	// returned. The caller must enter the next index itself.
	Resume
	// Finished means the run has terminated. The caller must invoke the
	// completion callback exactly once.
	Finished
)

// String is for debugging use only.
func (v Verdict) String() string {
	switch v {
	case Ignored:
		return "ignored"
	case Deferred:
		return "deferred"
	case Resume:
		return "resume"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// A Run holds the mutable state of a single traversal. A Run must not
// be shared between traversals.
type Run[T any] struct {
	mu struct {
		sync.Mutex
		aborted    bool
		cursor     int
		inStep     bool // The driver is inside a step call.
		items      []T  // Owned shallow copy of the input.
		pending    bool // Cursor advanced while inStep was true.
		terminated bool // One-shot.
	}
}

// New returns a Run over a shallow copy of items. The argument is never
// retained.
func New[T any](items []T) *Run[T] {
	ret := &Run[T]{}
	ret.mu.items = slices.Clone(items)
	if ret.mu.items == nil {
		ret.mu.items = []T{}
	}
	return ret
}

// Abort terminates the run if idx is the current cursor. The
// replacement value, if present, is applied before returning
// [Finished].
func (r *Run[T]) Abort(idx int, replacement []T) Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.terminated || idx != r.mu.cursor {
		return Ignored
	}
	r.mu.terminated = true
	r.mu.aborted = true
	r.applyLocked(idx, replacement)
	return Finished
}

// Aborted returns true if the run was terminated by [Run.Abort] or
// [Run.Fail].
func (r *Run[T]) Aborted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.aborted
}

// Advance applies the replacement value, if present, and moves the
// cursor past idx.
func (r *Run[T]) Advance(idx int, replacement []T) Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.terminated || idx != r.mu.cursor {
		return Ignored
	}
	r.applyLocked(idx, replacement)

	if idx+1 >= len(r.mu.items) {
		r.mu.terminated = true
		return Finished
	}
	r.mu.cursor = idx + 1
	if r.mu.inStep {
		r.mu.pending = true
		return Deferred
	}
	return Resume
}

// Enter marks the start of a step call for the element at idx and
// returns that element. The second return value is false if idx is not
// the current cursor or if the run has terminated.
func (r *Run[T]) Enter(idx int) (item T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.terminated || idx != r.mu.cursor {
		return item, false
	}
	r.mu.inStep = true
	r.mu.pending = false
	return r.mu.items[idx], true
}

// Exit marks the end of a step call. If the continuation for the step
// was invoked before the call returned, the next index to enter is
// returned.
func (r *Run[T]) Exit() (next int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.inStep = false
	if !r.mu.pending || r.mu.terminated {
		return 0, false
	}
	r.mu.pending = false
	return r.mu.cursor, true
}

// Fail terminates the run after a step call failed to return
// normally. It returns [Finished] unless the step had already
// terminated the run.
func (r *Run[T]) Fail() Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mu.inStep = false
	r.mu.pending = false
	if r.mu.terminated {
		return Ignored
	}
	r.mu.terminated = true
	r.mu.aborted = true
	return Finished
}

// Items returns the working sequence. Callers must only use the
// returned slice after a [Finished] verdict, at which point no further
// mutations will occur.
func (r *Run[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mu.items
}

// Len returns the fixed length of the working sequence.
func (r *Run[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mu.items)
}

// Terminate marks an empty run as finished. It returns [Ignored] if
// the run was already terminated.
func (r *Run[T]) Terminate() Verdict {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mu.terminated {
		return Ignored
	}
	r.mu.terminated = true
	return Finished
}

// applyLocked overwrites the element at idx with the last replacement
// value, if any.
func (r *Run[T]) applyLocked(idx int, replacement []T) {
	if len(replacement) == 0 {
		return
	}
	r.mu.items[idx] = replacement[len(replacement)-1]
}
