// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package sequencer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"vawter.tech/stopper/v2"
)

func TestRunReplacesEachElement(t *testing.T) {
	r := require.New(t)

	var final []int
	err := Run([]int{0, 1, 2}, func(v int, _ int, next Continuation[int]) {
		next.Next(v + 1)
	}, trackForTest(t, func(out []int) { final = out }))
	r.NoError(err)
	r.Equal([]int{1, 2, 3}, final)
}

func TestRunAbortScenario(t *testing.T) {
	r := require.New(t)

	var visited []int
	var final []int
	err := Run([]int{0, 1, 2}, func(v int, idx int, next Continuation[int]) {
		visited = append(visited, idx)
		if idx == 1 {
			next.Abort(v + 1)
			return
		}
		next.Next()
	}, trackForTest(t, func(out []int) { final = out }))
	r.NoError(err)
	r.Equal([]int{0, 1}, visited)
	r.Equal([]int{0, 2, 2}, final)
}

func TestRunAbortFirst(t *testing.T) {
	r := require.New(t)

	var visited []int
	var final []int
	r.NoError(Run([]int{0, 1, 2}, func(v int, idx int, next Continuation[int]) {
		visited = append(visited, idx)
		next.Abort(v + 1)
	}, func(out []int) { final = out }))
	r.Equal([]int{0}, visited)
	r.Equal([]int{1, 1, 2}, final)
}

func TestRunEmpty(t *testing.T) {
	for _, items := range [][]string{nil, {}} {
		t.Run(fmt.Sprintf("nil=%t", items == nil), func(t *testing.T) {
			r := require.New(t)

			calls := 0
			var final []string
			r.NoError(Run(items, func(string, int, Continuation[string]) {
				r.Fail("step should not be called")
			}, func(out []string) {
				calls++
				final = out
			}))
			r.Equal(1, calls)
			r.NotNil(final)
			r.Empty(final)
		})
	}
}

func TestRunNilCompletion(t *testing.T) {
	r := require.New(t)

	steps := 0
	r.NoError(Run([]int{0, 1, 2}, func(_ int, _ int, next Continuation[int]) {
		steps++
		next.Next()
	}, nil))
	r.Equal(3, steps)

	r.NoError(Run[int](nil, func(int, int, Continuation[int]) {}, nil))
}

func TestRunNilStep(t *testing.T) {
	r := require.New(t)

	called := false
	err := Run([]int{1, 2, 3}, nil, func([]int) { called = true })
	r.ErrorIs(err, ErrInvalidStep)
	var typeErr *TypeError
	r.ErrorAs(err, &typeErr)
	r.Equal("step", typeErr.Param)
	r.False(called)
}

func TestRunDoesNotMutateInput(t *testing.T) {
	r := require.New(t)

	input := []int{0, 1, 2}
	var final []int
	r.NoError(Run(input, func(v int, _ int, next Continuation[int]) {
		next.Next(v + 1)
	}, func(out []int) { final = out }))

	r.Equal([]int{0, 1, 2}, input)
	r.Equal([]int{1, 2, 3}, final)

	// The result does not alias the input.
	final[0] = 42
	r.Equal(0, input[0])
}

func TestRunPassThrough(t *testing.T) {
	r := require.New(t)

	input := []string{"a", "b", "c"}
	var final []string
	r.NoError(Run(input, func(_ string, _ int, next Continuation[string]) {
		next.Next()
	}, func(out []string) { final = out }))
	r.Equal(input, final)
}

func TestRunZeroValueReplacement(t *testing.T) {
	r := require.New(t)

	var ints []int
	r.NoError(Run([]int{5, 6}, func(_ int, idx int, next Continuation[int]) {
		if idx == 0 {
			next.Next(0)
		} else {
			next.Next()
		}
	}, func(out []int) { ints = out }))
	r.Equal([]int{0, 6}, ints)

	var strs []string
	r.NoError(Run([]string{"x"}, func(_ string, _ int, next Continuation[string]) {
		next.Abort("")
	}, func(out []string) { strs = out }))
	r.Equal([]string{""}, strs)

	var bools []bool
	r.NoError(Run([]bool{true}, func(_ bool, _ int, next Continuation[bool]) {
		next.Next(false)
	}, func(out []bool) { bools = out }))
	r.Equal([]bool{false}, bools)
}

func TestRunOrderAndCompletionCount(t *testing.T) {
	r := require.New(t)

	const count = 100
	items := make([]int, count)
	for i := range items {
		items[i] = i
	}

	var visited []int
	calls := 0
	r.NoError(Run(items, func(v int, idx int, next Continuation[int]) {
		r.Equal(idx, v)
		visited = append(visited, idx)
		next.Next()
	}, func([]int) { calls++ }))

	r.Equal(1, calls)
	r.Equal(items, visited)
}

func TestAbortThenNextIsIgnored(t *testing.T) {
	r := require.New(t)

	var visited []int
	calls := 0
	r.NoError(Run([]int{0, 1, 2}, func(_ int, idx int, next Continuation[int]) {
		visited = append(visited, idx)
		next.Abort()
		next.Next(99)
	}, func(out []int) {
		calls++
		r.Equal([]int{0, 1, 2}, out)
	}))
	r.Equal([]int{0}, visited)
	r.Equal(1, calls)
}

func TestContinuationIsSingleUse(t *testing.T) {
	r := require.New(t)

	var visited []int
	var final []int
	r.NoError(Run([]int{0, 1, 2}, func(_ int, idx int, next Continuation[int]) {
		visited = append(visited, idx)
		next.Next()
		// Both of these are ignored.
		next.Next(99)
		next.Abort(99)
	}, func(out []int) { final = out }))
	r.Equal([]int{0, 1, 2}, visited)
	r.Equal([]int{0, 1, 2}, final)
}

func TestStaleContinuationIsIgnored(t *testing.T) {
	r := require.New(t)

	var first Continuation[int]
	var visited []int
	var final []int
	r.NoError(Run([]int{0, 1, 2}, func(_ int, idx int, next Continuation[int]) {
		visited = append(visited, idx)
		switch idx {
		case 0:
			first = next
		case 1:
			// Reusing the handle from index 0 does nothing.
			first.Next(42)
			first.Abort(42)
		}
		next.Next()
	}, func(out []int) { final = out }))
	r.Equal([]int{0, 1, 2}, visited)
	r.Equal([]int{0, 1, 2}, final)

	// Calls after the run has finished are no-ops.
	first.Next(7)
	r.Equal([]int{0, 1, 2}, final)
}

func TestRunSynchronousStackIsBounded(t *testing.T) {
	r := require.New(t)

	const count = 1_000_000
	items := make([]int, count)

	maxDepth := 0
	pcs := make([]uintptr, 512)
	steps := 0
	r.NoError(Run(items, func(_ int, idx int, next Continuation[int]) {
		steps++
		if idx%10_000 == 0 {
			maxDepth = max(maxDepth, runtime.Callers(0, pcs))
		}
		next.Next(idx)
	}, func(out []int) {
		r.Equal(count-1, out[count-1])
	}))
	r.Equal(count, steps)
	r.Less(maxDepth, 64)
}

func TestRunAsynchronous(t *testing.T) {
	r := require.New(t)

	s := stopper.WithContext(t.Context())
	var inFlight atomic.Int32
	var maxInFlight atomic.Int32
	var mu sync.Mutex
	var visited []int

	result := make(chan []int, 1)
	r.NoError(Run([]int{0, 1, 2, 3, 4}, func(v int, idx int, next Continuation[int]) {
		maxInFlight.Store(max(maxInFlight.Load(), inFlight.Add(1)))
		mu.Lock()
		visited = append(visited, idx)
		mu.Unlock()

		// Advance from another goroutine after the step has returned.
		r.NoError(s.Go(func(stopper.Context) error {
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
			next.Next(v * 2)
			return nil
		}))
	}, trackForTest(t, func(out []int) { result <- out })))

	select {
	case out := <-result:
		r.Equal([]int{0, 2, 4, 6, 8}, out)
	case <-time.After(10 * time.Second):
		r.FailNow("timed out")
	}

	s.Stop(stopper.StopOnIdle())
	r.NoError(s.Wait())

	mu.Lock()
	defer mu.Unlock()
	r.Equal([]int{0, 1, 2, 3, 4}, visited)
	r.Equal(int32(1), maxInFlight.Load())
}

func TestRunAdvanceFromOtherGoroutineBeforeReturn(t *testing.T) {
	r := require.New(t)

	var inStep atomic.Int32
	var overlap atomic.Bool
	var final []int
	r.NoError(Run([]int{0, 1, 2}, func(v int, _ int, next Continuation[int]) {
		if inStep.Add(1) > 1 {
			overlap.Store(true)
		}
		defer inStep.Add(-1)

		// The continuation fires on another goroutine while this step
		// is still executing. The next step must not start until this
		// one has returned.
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			next.Next(v + 100)
		}()
		wg.Wait()
	}, func(out []int) { final = out }))

	r.False(overlap.Load())
	r.Equal([]int{100, 101, 102}, final)
}

func TestRunNested(t *testing.T) {
	r := require.New(t)

	outer := []string{"a", "b", "c"}
	inner := []string{"x", "y", "z"}

	var outerDone []string
	r.NoError(Run(outer, func(o string, i int, oNext Continuation[string]) {
		r.NoError(Run(inner, func(in string, _ int, iNext Continuation[string]) {
			iNext.Next(o + in)
		}, func(out []string) {
			for j := range out {
				r.Equal(outer[i]+inner[j], out[j])
			}
			oNext.Next()
		}))
	}, func(out []string) { outerDone = out }))

	r.Equal(outer, outerDone)
	r.Equal([]string{"x", "y", "z"}, inner)
}

func TestRunConcurrentRunsAreIndependent(t *testing.T) {
	r := require.New(t)

	const runs = 16
	results := make([][]int, runs)
	var wg sync.WaitGroup
	for n := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = Run([]int{0, 1, 2, 3}, func(v int, _ int, next Continuation[int]) {
				next.Next(v + n)
			}, func(out []int) { results[n] = out })
		}()
	}
	wg.Wait()

	for n, out := range results {
		r.Equal([]int{n, 1 + n, 2 + n, 3 + n}, out)
	}
}

func TestRunPanicHandler(t *testing.T) {
	r := require.New(t)

	boom := errors.New("boom")
	var panicIdx = -1
	var panicErr error
	calls := 0
	var final []int
	r.NoError(Run([]int{0, 1, 2}, func(v int, idx int, next Continuation[int]) {
		if idx == 1 {
			panic(boom)
		}
		next.Next(v + 10)
	}, func(out []int) {
		calls++
		final = out
	}, WithPanicHandler(func(idx int, err error) {
		panicIdx = idx
		panicErr = err
	})))

	r.Equal(1, panicIdx)
	r.ErrorIs(panicErr, boom)
	var recovered *RecoveredError
	r.ErrorAs(panicErr, &recovered)
	r.Equal(1, calls)
	r.Equal([]int{10, 1, 2}, final)
}

func TestRunPanicAfterFinish(t *testing.T) {
	r := require.New(t)

	core, logs := observer.New(zap.DebugLevel)
	handled := 0
	calls := 0
	r.NoError(Run([]int{0}, func(_ int, _ int, next Continuation[int]) {
		next.Next(5)
		panic("late")
	}, func(out []int) {
		calls++
		r.Equal([]int{5}, out)
	}, WithPanicHandler(func(int, error) { handled++ }), WithLogger(zap.New(core))))
	r.Zero(handled)
	r.Equal(1, calls)

	late := logs.FilterMessage("step panicked after run finished").All()
	r.Len(late, 1)
	r.Equal(zap.WarnLevel, late[0].Level)
	r.Zero(logs.FilterMessage("step panicked").Len())
}

func TestRunPanicAfterAsyncFinish(t *testing.T) {
	r := require.New(t)

	handled := make(chan error, 1)
	finished := make(chan []int, 1)
	released := make(chan struct{})
	r.NoError(Run([]int{0}, func(_ int, _ int, next Continuation[int]) {
		go func() {
			next.Next(7)
			close(released)
		}()
		<-released
		panic("late")
	}, func(out []int) {
		finished <- out
	}, WithPanicHandler(func(_ int, err error) { handled <- err })))

	r.Equal([]int{7}, <-finished)
	r.Empty(handled)
}

func TestRunPanicPropagates(t *testing.T) {
	r := require.New(t)

	r.PanicsWithValue("boom", func() {
		_ = Run([]int{0}, func(int, int, Continuation[int]) {
			panic("boom")
		}, nil)
	})
}

func TestRunLogger(t *testing.T) {
	r := require.New(t)

	core, logs := observer.New(zap.DebugLevel)
	r.NoError(Run([]int{0, 1, 2}, func(_ int, idx int, next Continuation[int]) {
		if idx == 1 {
			next.Abort()
			next.Next()
			return
		}
		next.Next()
	}, nil, WithLogger(zap.New(core)), WithName("logged")))

	r.Equal(1, logs.FilterMessage("run started").Len())
	r.Equal(1, logs.FilterMessage("run aborted").Len())
	r.Equal(1, logs.FilterMessage("run finished").Len())
	ignored := logs.FilterMessage("continuation ignored").All()
	r.Len(ignored, 1)
	r.Equal("next", ignored[0].ContextMap()["method"])
	r.Equal("logged", ignored[0].ContextMap()["run"])
	r.Equal(int64(1), ignored[0].ContextMap()["idx"])
}

func TestRunTracer(t *testing.T) {
	r := require.New(t)

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	r.NoError(RunContext(t.Context(), []int{0, 1, 2}, func(_ int, idx int, next Continuation[int]) {
		if idx == 1 {
			next.Abort()
			return
		}
		next.Next()
	}, nil, WithTracer(tp.Tracer("test")), WithName("traced")))

	spans := sr.Ended()
	r.Len(spans, 1)
	span := spans[0]
	r.Equal("sequencer.Run", span.Name())
	r.Contains(span.Attributes(), attribute.String("sequencer.name", "traced"))
	r.Contains(span.Attributes(), attribute.Int("sequencer.length", 3))
	r.Contains(span.Attributes(), attribute.Bool("sequencer.aborted", true))

	var names []string
	for _, evt := range span.Events() {
		names = append(names, evt.Name)
	}
	r.Equal([]string{"step", "step", "abort"}, names)
}
