// Copyright 2025 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package sequencer

import (
	"testing"

	"vawter.tech/sequencer/linger"
)

// trackForTest wraps a completion callback so that the test fails if
// the run has not completed by the time the test ends.
func trackForTest[T any](t *testing.T, done func([]T)) func([]T) {
	rec := linger.NewRecorder(10 /* depth */)
	t.Cleanup(func() {
		linger.CheckClean(t, rec)
	})
	return linger.Track(rec, t.Name(), done)
}
