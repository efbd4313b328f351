// Copyright 2025 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package linger

import (
	"runtime"
)

// CheckClean will record a test error if there are any incomplete runs
// being tracked by the Recorder. The name of each run and a snapshot of
// the stack where it was tracked will be written into the test log.
func CheckClean(t TestingT, r *Recorder) {
	stalled := r.Stalled()
	if len(stalled) == 0 {
		return
	}

	// Improve error messages if we're being called from a real test.
	if x, ok := t.(interface{ Helper() }); ok {
		x.Helper()
	}

	t.Errorf("%d stalled run(s) detected", len(stalled))
	for _, run := range stalled {
		t.Errorf("  run %q never completed; tracked at:", run.Name)
		frames := runtime.CallersFrames(run.Stack)
		for {
			frame, more := frames.Next()
			t.Errorf("    %s ( %s:%d )", frame.Function, frame.File, frame.Line)
			if !more {
				break
			}
		}
	}
}

// TestingT is the subset of [testing.TB] needed by [CheckClean].
type TestingT interface {
	Errorf(string, ...any)
}
