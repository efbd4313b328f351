// Copyright 2026 Bob Vawter (bob@vawter.org)
// SPDX-License-Identifier: Apache-2.0

package sequencer

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultName = "sequencer"

// An Option configures a single run.
type Option func(cfg *config)

// WithLogger attaches a logger that receives debug-level lifecycle
// events. The default is [zap.NewNop].
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithName sets the name reported in trace tasks, spans, and log
// fields.
func WithName(name string) Option {
	return func(cfg *config) {
		cfg.name = name
	}
}

// WithPanicHandler recovers panics raised by the step function while
// it is being driven by the sequencer. The handler receives the index
// of the failed step and a [RecoveredError]. The run is then aborted
// and the completion callback fires with the working sequence as it
// stood. A panic raised after the step's continuation has already
// finished the run is logged at warn level and discarded; the handler
// is not called.
//
// Without a handler, a panic propagates to whichever goroutine was
// driving the step.
func WithPanicHandler(fn func(idx int, err error)) Option {
	return func(cfg *config) {
		cfg.onPanic = fn
	}
}

// WithTracer emits an OpenTelemetry span for each run. Steps and
// aborts are recorded as span events.
func WithTracer(tracer trace.Tracer) Option {
	return func(cfg *config) {
		cfg.tracer = tracer
	}
}

type config struct {
	logger  *zap.Logger
	name    string
	onPanic func(int, error)
	tracer  trace.Tracer
}

func newConfig(opts []Option) *config {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.Sanitize()
	return cfg
}

// Sanitize replaces unset values with defaults.
func (c *config) Sanitize() {
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.name == "" {
		c.name = defaultName
	}
}

// startSpan returns a span for the run, or nil if no tracer is
// configured.
func (c *config) startSpan(ctx context.Context, length int) trace.Span {
	if c.tracer == nil {
		return nil
	}
	_, span := c.tracer.Start(ctx, "sequencer.Run",
		trace.WithAttributes(
			attrName.String(c.name),
			attrLength.Int(length),
		))
	return span
}
