// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package jsbind

import (
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"vawter.tech/sequencer"
)

// An Option configures [Register] or [NewLoop].
type Option func(cfg *config)

// WithLogger sets the logger used by the binding and by each run. The
// default is [zap.NewNop].
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithOutput sets the destination for console.log in a [Loop]. The
// default is [os.Stdout].
func WithOutput(w io.Writer) Option {
	return func(cfg *config) {
		cfg.out = w
	}
}

// WithRate paces every step invoked through the binding to at most r
// per second, with the given burst. The limit is shared by all runs
// started from the same runtime.
func WithRate(r float64, burst int) Option {
	return func(cfg *config) {
		cfg.rate = r
		cfg.burst = burst
	}
}

// WithSequencerOptions passes additional options to each run.
func WithSequencerOptions(opts ...sequencer.Option) Option {
	return func(cfg *config) {
		cfg.seqOpts = append(cfg.seqOpts, opts...)
	}
}

type config struct {
	burst   int
	limiter *rate.Limiter // Nil if no rate is configured.
	logger  *zap.Logger
	out     io.Writer
	rate    float64
	seqOpts []sequencer.Option
}

func newConfig(opts []Option) *config {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.out == nil {
		cfg.out = os.Stdout
	}
	if cfg.rate > 0 {
		cfg.limiter = rate.NewLimiter(rate.Limit(cfg.rate), max(cfg.burst, 1))
	}
	return cfg
}

// sequencerOptions returns the options for a single run.
func (c *config) sequencerOptions() []sequencer.Option {
	ret := make([]sequencer.Option, 0, len(c.seqOpts)+1)
	ret = append(ret, sequencer.WithLogger(c.logger))
	return append(ret, c.seqOpts...)
}
