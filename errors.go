// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package sequencer

import (
	"errors"
	"fmt"

	"vawter.tech/sequencer/internal/safe"
)

// Validation errors. These are only returned synchronously from an
// entry point, before any step or completion callback runs.
var (
	ErrInvalidSequence   = errors.New("invalid sequence")
	ErrInvalidStep       = errors.New("invalid step function")
	ErrInvalidCompletion = errors.New("invalid completion callback")
)

// A RecoveredError is reported to a [WithPanicHandler] callback and
// returned from [Collect] when a step panics.
type RecoveredError = safe.RecoveredError

// A TypeError describes an argument to an entry point that has the
// wrong shape. It wraps one of the validation sentinels.
type TypeError struct {
	Param string // The parameter name.
	Want  string // A description of what was expected.
	Got   string // The dynamic type of the argument.
	Err   error  // One of the validation sentinels.
}

// Error implements error.
func (e *TypeError) Error() string {
	return fmt.Sprintf("%q must be %s, got %s", e.Param, e.Want, e.Got)
}

// Unwrap returns the validation sentinel.
func (e *TypeError) Unwrap() error { return e.Err }

func typeError(param, want string, got any, sentinel error) *TypeError {
	return &TypeError{
		Param: param,
		Want:  want,
		Got:   fmt.Sprintf("%T", got),
		Err:   sentinel,
	}
}
