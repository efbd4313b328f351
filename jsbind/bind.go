// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

// Package jsbind exposes the sequencer to JavaScript programs executed
// by a [goja.Runtime].
//
// The installed function has the signature
//
//	iterate(items, fn, done)
//
// where fn is called as fn(item, index, next). Calling next(value)
// advances, optionally replacing the current element, and
// next.abort(value) terminates the run. Passing undefined, or no
// argument, leaves the element unchanged. The optional done callback
// receives a new array holding the working sequence. Omitting done, or
// passing any falsy value such as null, runs without one.
//
// Invalid arguments throw a TypeError before any callback runs.
// Exceptions thrown by fn or done propagate to whichever JavaScript
// code invoked iterate or the continuation.
package jsbind

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dop251/goja"
	"vawter.tech/sequencer"
	"vawter.tech/sequencer/limit"
)

// Register installs the iterate function into the runtime under the
// given name. The context bounds any rate-limit wait configured by
// [WithRate].
func Register(ctx context.Context, vm *goja.Runtime, name string, opts ...Option) error {
	return install(ctx, vm, name, newConfig(opts))
}

func install(ctx context.Context, vm *goja.Runtime, name string, cfg *config) error {
	b, err := newBinding(ctx, vm, cfg)
	if err != nil {
		return err
	}
	if err := vm.Set(name, b.iterate); err != nil {
		return fmt.Errorf("could not register %s: %w", name, err)
	}
	return nil
}

type binding struct {
	cfg    *config
	ctx    context.Context
	typeOf goja.Callable
	vm     *goja.Runtime
}

func newBinding(ctx context.Context, vm *goja.Runtime, cfg *config) (*binding, error) {
	val, err := vm.RunString(`(function (v) { return typeof v; })`)
	if err != nil {
		return nil, fmt.Errorf("could not create typeof helper: %w", err)
	}
	typeOf, ok := goja.AssertFunction(val)
	if !ok {
		return nil, fmt.Errorf("typeof helper is not a function")
	}
	return &binding{
		cfg:    cfg,
		ctx:    ctx,
		typeOf: typeOf,
		vm:     vm,
	}, nil
}

// iterate is the JavaScript entry point.
func (b *binding) iterate(call goja.FunctionCall) goja.Value {
	itemsArg, fnArg, doneArg := call.Argument(0), call.Argument(1), call.Argument(2)

	items, ok := b.toValues(itemsArg)
	if !ok {
		panic(b.vm.NewTypeError(`"items" must be an array. Got "%s"`, b.kind(itemsArg)))
	}
	fn, ok := goja.AssertFunction(fnArg)
	if !ok {
		panic(b.vm.NewTypeError(`"fn" must be a function. Got "%s"`, b.kind(fnArg)))
	}
	// Any falsy value means there is no completion callback.
	var done goja.Callable
	if doneArg.ToBoolean() {
		if done, ok = goja.AssertFunction(doneArg); !ok {
			panic(b.vm.NewTypeError(`"done" must be a function. Got "%s"`, b.kind(doneArg)))
		}
	}

	var step sequencer.Step[goja.Value] = func(
		item goja.Value, idx int, next sequencer.Continuation[goja.Value],
	) {
		if _, err := fn(goja.Undefined(), item, b.vm.ToValue(idx), b.continuation(next)); err != nil {
			rethrow(b.vm, err)
		}
	}
	if b.cfg.limiter != nil {
		step = limit.WithLimiter(b.ctx, b.cfg.limiter, step)
	}

	var complete func([]goja.Value)
	if done != nil {
		complete = func(out []goja.Value) {
			arr := make([]any, len(out))
			for i, v := range out {
				arr[i] = v
			}
			if _, err := done(goja.Undefined(), b.vm.NewArray(arr...)); err != nil {
				rethrow(b.vm, err)
			}
		}
	}

	if err := sequencer.RunContext(b.ctx, items, step, complete, b.cfg.sequencerOptions()...); err != nil {
		panic(b.vm.NewGoError(err))
	}
	return goja.Undefined()
}

// continuation returns a callable next value with an abort property.
func (b *binding) continuation(next sequencer.Continuation[goja.Value]) goja.Value {
	obj := b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		next.Next(replacement(call)...)
		return goja.Undefined()
	}).(*goja.Object)
	_ = obj.Set("abort", func(call goja.FunctionCall) goja.Value {
		next.Abort(replacement(call)...)
		return goja.Undefined()
	})
	return obj
}

// kind returns the JavaScript typeof string for the value.
func (b *binding) kind(v goja.Value) string {
	ret, err := b.typeOf(goja.Undefined(), v)
	if err != nil {
		return "unknown"
	}
	return ret.String()
}

// toValues copies the elements of a JavaScript array.
func (b *binding) toValues(v goja.Value) ([]goja.Value, bool) {
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Array" {
		return nil, false
	}
	length := obj.Get("length").ToInteger()
	ret := make([]goja.Value, length)
	for i := range ret {
		ret[i] = obj.Get(strconv.Itoa(i))
	}
	return ret, true
}

// replacement maps an omitted or undefined argument to an absent
// replacement value.
func replacement(call goja.FunctionCall) []goja.Value {
	if v := call.Argument(0); !goja.IsUndefined(v) {
		return []goja.Value{v}
	}
	return nil
}

// rethrow propagates an error from a JavaScript callback through Go
// code that was itself invoked from JavaScript.
func rethrow(vm *goja.Runtime, err error) {
	if ex, ok := err.(*goja.Exception); ok {
		panic(ex)
	}
	panic(vm.NewGoError(err))
}
