// Copyright 2025 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package linger contains a utility for reporting on where stalled
// runs were originally started.
//
// A run stalls when a step never invokes its continuation. The
// sequencer performs no deadlock detection of its own, so tests can
// wrap completion callbacks with [Track] and call [CheckClean] once
// all runs are expected to have finished.
package linger

import (
	"cmp"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
)

// This value is sensitive to the code structure.
const callersOffset = 2

// NewRecorder constructs a [Recorder] that samples the call stack at the
// requested depth. A depth of 1 will record the location at which
// [Track] was called.
func NewRecorder(depth int) *Recorder {
	return &Recorder{depth: depth}
}

// A Recorder keeps the call stacks of runs whose completion callback has
// not yet fired.
type Recorder struct {
	counter atomic.Uintptr
	data    sync.Map // uintptr -> *Stalled
	depth   int
}

// Stalled describes a run whose completion callback has not fired.
type Stalled struct {
	Name  string    // The name passed to Track.
	Stack []uintptr // Where Track was called.

	seq uintptr
}

// Len returns the number of runs that have not completed.
func (r *Recorder) Len() int {
	count := 0
	r.data.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}

// Stalled returns a snapshot of the runs that have not completed, in
// the order in which they were tracked.
func (r *Recorder) Stalled() []*Stalled {
	var ret []*Stalled
	r.data.Range(func(_, value any) bool {
		ret = append(ret, value.(*Stalled))
		return true
	})
	slices.SortFunc(ret, func(a, b *Stalled) int { return cmp.Compare(a.seq, b.seq) })
	return ret
}

// Track samples the caller and returns a completion callback that
// forgets the sample before delegating to done. The name is reported
// by [CheckClean] and would usually match the name given to the run.
// The done argument may be
// nil. Each call to Track should be used for exactly one run.
func Track[T any](r *Recorder, name string, done func([]T)) func([]T) {
	pc := make([]uintptr, r.depth)
	pc = pc[:runtime.Callers(callersOffset, pc)]

	id := r.counter.Add(1)
	r.data.Store(id, &Stalled{Name: name, Stack: pc, seq: id})

	return func(items []T) {
		r.data.Delete(id)
		if done != nil {
			done(items)
		}
	}
}
