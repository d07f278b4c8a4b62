/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package fanout runs backend calls concurrently, each under its own
// deadline, and collects their outcomes without waiting on stragglers.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/carverauto/signalquery/pkg/backend"
	"github.com/carverauto/signalquery/pkg/logger"
	"github.com/carverauto/signalquery/pkg/models"
)

const tracerName = "github.com/carverauto/signalquery/pkg/fanout"

var ErrAdapterPanic = errors.New("adapter panicked")

// Call is one adapter invocation. Timeout applies to this call only.
type Call struct {
	Adapter backend.Adapter
	Query   backend.Query
	Timeout time.Duration
}

// Coordinator dispatches calls in parallel.
type Coordinator struct {
	logger         logger.Logger
	tracer         trace.Tracer
	defaultTimeout time.Duration
}

type Option func(*Coordinator)

func WithLogger(log logger.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.logger = log
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithDefaultTimeout sets the deadline used for calls that carry none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger:         logger.NewTestLogger(),
		tracer:         otel.Tracer(tracerName),
		defaultTimeout: models.DefaultBackendTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Run starts every call and returns one outcome per call, in input order.
// A call that outlives its deadline, or the parent context, is reported as a
// timeout and left to finish on its own; Run does not wait for it.
func (c *Coordinator) Run(ctx context.Context, calls []Call) []backend.Outcome {
	outcomes := make([]backend.Outcome, len(calls))

	// A plain group: one failing backend must not cancel its siblings.
	var g errgroup.Group

	for i := range calls {
		g.Go(func() error {
			outcomes[i] = c.wait(ctx, calls[i])

			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

func (c *Coordinator) wait(ctx context.Context, call Call) backend.Outcome {
	kind := call.Adapter.Kind()

	timeout := call.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	ctx, span := c.tracer.Start(ctx, "backend."+string(kind), trace.WithAttributes(
		attribute.String("signalquery.source", string(kind)),
		attribute.Int64("signalquery.timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan backend.Outcome, 1)

	go execute(callCtx, call, kind, start, done)

	var out backend.Outcome

	select {
	case out = <-done:
	case <-callCtx.Done():
		select {
		case out = <-done:
		default:
			out = backend.Failed(kind, backend.TimeoutError(
				fmt.Errorf("%s backend did not answer within %s: %w", kind, timeout, callCtx.Err())), time.Since(start))
		}
	}

	out.Kind = kind
	if out.Duration <= 0 {
		out.Duration = time.Since(start)
	}

	c.record(span, out)

	return out
}

// execute runs the adapter and always delivers exactly one outcome to done.
func execute(ctx context.Context, call Call, kind models.SourceKind, start time.Time, done chan<- backend.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			done <- backend.Failed(kind, backend.NewError(models.ErrorBackend, 0,
				fmt.Errorf("%w: %v", ErrAdapterPanic, r)), time.Since(start))
		}
	}()

	done <- call.Adapter.Execute(ctx, call.Query)
}

func (c *Coordinator) record(span trace.Span, out backend.Outcome) {
	span.SetAttributes(
		attribute.Int("signalquery.items", len(out.Items)),
		attribute.Int64("signalquery.duration_ms", out.Duration.Milliseconds()),
	)

	if out.OK() {
		c.logger.Debug().
			Str("source", string(out.Kind)).
			Int("items", len(out.Items)).
			Dur("duration", out.Duration).
			Msg("Backend call completed")

		return
	}

	span.SetAttributes(attribute.String("signalquery.error_kind", string(out.Err.Kind)))
	span.SetStatus(codes.Error, out.Err.Error())

	c.logger.Warn().
		Str("source", string(out.Kind)).
		Str("error_kind", string(out.Err.Kind)).
		Int("status", out.Err.Status).
		Dur("duration", out.Duration).
		Err(out.Err).
		Msg("Backend call failed")
}
