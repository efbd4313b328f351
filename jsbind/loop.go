// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package jsbind

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"vawter.tech/sequencer/internal/safe"
	"vawter.tech/stopper/v2"
)

// DefaultName is the global name under which a [Loop] installs the
// iterate function.
const DefaultName = "iterate"

// ErrNotRunning is thrown into JavaScript if setTimeout is called while
// no call to [Loop.Run] is active.
var ErrNotRunning = errors.New("loop is not running")

// A Loop owns a [goja.Runtime] and executes timer callbacks on the
// goroutine that calls [Loop.Run]. In addition to the iterate function,
// it installs setTimeout, clearTimeout, and console.log.
//
// A Loop must not be used concurrently.
type Loop struct {
	cfg  *config
	jobs chan func() error
	vm   *goja.Runtime

	// These fields are only accessed from the goroutine executing Run.
	nextID  int64
	pending map[int64]chan struct{} // Closed to cancel a timer.
	tasks   stopper.Context         // Non-nil while Run is executing.
}

// NewLoop constructs a Loop with a fresh runtime.
func NewLoop(opts ...Option) (*Loop, error) {
	l := &Loop{
		cfg:     newConfig(opts),
		jobs:    make(chan func() error),
		pending: make(map[int64]chan struct{}),
		vm:      goja.New(),
	}

	console := l.vm.NewObject()
	if err := console.Set("log", l.consoleLog); err != nil {
		return nil, err
	}
	if err := l.vm.Set("console", console); err != nil {
		return nil, err
	}
	if err := l.vm.Set("setTimeout", l.setTimeout); err != nil {
		return nil, err
	}
	if err := l.vm.Set("clearTimeout", l.clearTimeout); err != nil {
		return nil, err
	}
	return l, nil
}

// Runtime returns the underlying runtime, which may be used to install
// additional globals before calling [Loop.Run].
func (l *Loop) Runtime() *goja.Runtime { return l.vm }

// Run evaluates the script and then executes timer callbacks until no
// timers remain. If the context is done first, pending timers are
// discarded and [context.Cause] is returned. An exception thrown by the
// script or by a timer callback is returned as an error.
func (l *Loop) Run(ctx context.Context, name, src string) error {
	if err := install(ctx, l.vm, DefaultName, l.cfg); err != nil {
		return err
	}

	l.tasks = stopper.WithContext(ctx)
	defer func() {
		l.tasks.Stop()
		_ = l.tasks.Wait()
		l.tasks = nil
		clear(l.pending)
	}()

	log := l.cfg.logger.With(zap.String("script", name))
	log.Debug("evaluating script")
	if err := safe.CallE(func() error {
		_, err := l.vm.RunScript(name, src)
		return err
	}); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	for len(l.pending) > 0 {
		select {
		case job := <-l.jobs:
			if err := safe.CallE(job); err != nil {
				return fmt.Errorf("%s: timer callback: %w", name, err)
			}
		case <-ctx.Done():
			log.Debug("loop interrupted", zap.Int("pending", len(l.pending)))
			if err := context.Cause(ctx); err != nil {
				return err
			}
			return ctx.Err()
		}
	}
	log.Debug("loop drained")
	return nil
}

func (l *Loop) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if cancel, ok := l.pending[id]; ok {
		close(cancel)
		delete(l.pending, id)
	}
	return goja.Undefined()
}

func (l *Loop) consoleLog(call goja.FunctionCall) goja.Value {
	parts := make([]string, len(call.Arguments))
	for i, arg := range call.Arguments {
		parts[i] = arg.String()
	}
	_, _ = fmt.Fprintln(l.cfg.out, strings.Join(parts, " "))
	return goja.Undefined()
}

func (l *Loop) setTimeout(call goja.FunctionCall) goja.Value {
	cb, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(l.vm.NewTypeError("setTimeout: callback must be a function"))
	}
	if l.tasks == nil {
		panic(l.vm.NewGoError(ErrNotRunning))
	}
	delay := max(time.Duration(call.Argument(1).ToInteger())*time.Millisecond, 0)
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = slices.Clone(call.Arguments[2:])
	}

	l.nextID++
	id := l.nextID
	cancel := make(chan struct{})
	l.pending[id] = cancel

	job := func() error {
		// The timer may have been cleared after it fired.
		if _, ok := l.pending[id]; !ok {
			return nil
		}
		delete(l.pending, id)
		_, err := cb(goja.Undefined(), args...)
		return err
	}

	if err := l.tasks.Go(func(ctx stopper.Context) error {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-cancel:
			return nil
		case <-ctx.Stopping():
			return nil
		}
		select {
		case l.jobs <- job:
		case <-cancel:
		case <-ctx.Stopping():
		}
		return nil
	}); err != nil {
		delete(l.pending, id)
		panic(l.vm.NewGoError(err))
	}
	return l.vm.ToValue(id)
}
