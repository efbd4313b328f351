// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package sequencer

import "reflect"

// RunAny is a dynamically-typed version of [Run] for callers that
// cannot know the element type at compile time, such as script
// bindings or decoded configuration.
//
// The items argument must be a slice or an array; its elements are
// copied into a []any working sequence. The step argument must be a
// [Step][any] or a func(any, int, [Continuation][any]). The done
// argument must be nil or a func([]any).
//
// The arguments are validated in that order and the first violation
// is returned as a [*TypeError] wrapping [ErrInvalidSequence],
// [ErrInvalidStep], or [ErrInvalidCompletion].
func RunAny(items any, step any, done any, opts ...Option) error {
	seq, ok := toSlice(items)
	if !ok {
		return typeError("sequence", "a slice or array", items, ErrInvalidSequence)
	}

	var fn Step[any]
	switch t := step.(type) {
	case Step[any]:
		fn = t
	case func(any, int, Continuation[any]):
		fn = t
	}
	if fn == nil {
		return typeError("step", "a func(any, int, Continuation[any])", step, ErrInvalidStep)
	}

	var cb func([]any)
	switch t := done.(type) {
	case nil:
	case func([]any):
		cb = t
	default:
		return typeError("done", "a func([]any)", done, ErrInvalidCompletion)
	}

	return Run(seq, fn, cb, opts...)
}

// toSlice flattens a slice or array into a []any. The returned slice
// may alias the argument if it is already a []any.
func toSlice(items any) ([]any, bool) {
	if s, ok := items.([]any); ok {
		return s, true
	}
	v := reflect.ValueOf(items)
	switch v.Kind() {
	case reflect.Array, reflect.Slice:
	default:
		return nil, false
	}
	ret := make([]any, v.Len())
	for i := range ret {
		ret[i] = v.Index(i).Interface()
	}
	return ret, true
}
