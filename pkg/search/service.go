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

// Package search fans one logical query out to every configured signal
// store and merges the answers.
package search

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/carverauto/signalquery/pkg/aggregate"
	"github.com/carverauto/signalquery/pkg/backend"
	"github.com/carverauto/signalquery/pkg/fanout"
	"github.com/carverauto/signalquery/pkg/logger"
	"github.com/carverauto/signalquery/pkg/models"
	"github.com/carverauto/signalquery/pkg/query"
	"github.com/carverauto/signalquery/pkg/tenant"
)

const (
	tracerName     = "github.com/carverauto/signalquery/pkg/search"
	maxTraceIDLen  = 32
	publishTimeout = 5 * time.Second
)

var (
	// ErrInvalidRequest covers request fields that fail validation before
	// dispatch: time range, limit, sources, trace id.
	ErrInvalidRequest = errors.New("invalid search request")

	errNilRequest       = errors.New("search request cannot be nil")
	errNoAdapters       = errors.New("no search backends are configured")
	errDuplicateAdapter = errors.New("backend kind configured twice")
)

// EventPublisher receives a summary of every completed search.
type EventPublisher interface {
	PublishSearchExecuted(ctx context.Context, data *models.SearchExecutedEventData) error
}

// Service validates, scopes, dispatches and merges searches.
type Service struct {
	cfg         models.SearchConfig
	adapters    map[models.SourceKind]backend.Adapter
	timeouts    map[models.SourceKind]time.Duration
	rewriter    *query.Rewriter
	coordinator *fanout.Coordinator
	publisher   EventPublisher
	logger      logger.Logger
	tracer      trace.Tracer
	now         func() time.Time
	events      sync.WaitGroup
}

type Option func(*Service)

// WithBackendTimeouts sets the per-kind call deadline. Kinds without an
// entry use models.DefaultBackendTimeout.
func WithBackendTimeouts(timeouts map[models.SourceKind]time.Duration) Option {
	return func(s *Service) {
		for kind, d := range timeouts {
			if d > 0 {
				s.timeouts[kind] = d
			}
		}
	}
}

// WithPublisher emits a search.executed event after each search.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides time.Now for range defaulting.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// TimeoutsFromConfig maps each enabled backend to its configured timeout.
func TimeoutsFromConfig(backends []models.BackendConfig) map[models.SourceKind]time.Duration {
	timeouts := make(map[models.SourceKind]time.Duration, len(backends))

	for i := range backends {
		if backends[i].Disable {
			continue
		}

		timeouts[backends[i].Kind] = time.Duration(backends[i].Timeout)
	}

	return timeouts
}

// NewService constructs a search service over adapters, at most one per kind.
func NewService(cfg models.SearchConfig, adapters []backend.Adapter, log logger.Logger, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(adapters) == 0 {
		return nil, errNoAdapters
	}

	if log == nil {
		log = logger.NewTestLogger()
	}

	s := &Service{
		cfg:      cfg,
		adapters: make(map[models.SourceKind]backend.Adapter, len(adapters)),
		timeouts: make(map[models.SourceKind]time.Duration, len(adapters)),
		rewriter: query.NewRewriter(cfg.TenantLabel),
		logger:   log,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}

	for _, a := range adapters {
		kind := a.Kind()
		if _, dup := s.adapters[kind]; dup {
			return nil, fmt.Errorf("%w: %s", errDuplicateAdapter, kind)
		}

		s.adapters[kind] = a
		s.timeouts[kind] = models.DefaultBackendTimeout
	}

	for _, opt := range opts {
		opt(s)
	}

	componentLog := logger.New(log.WithComponent("fanout"))
	s.coordinator = fanout.NewCoordinator(
		fanout.WithLogger(componentLog),
		fanout.WithTracer(s.tracer),
		fanout.WithDefaultTimeout(models.DefaultBackendTimeout),
	)

	return s, nil
}

// Sources lists the configured backend kinds in tie-break priority order.
func (s *Service) Sources() []models.SourceKind {
	kinds := make([]models.SourceKind, 0, len(s.adapters))

	for _, kind := range models.AllSourceKinds() {
		if _, ok := s.adapters[kind]; ok {
			kinds = append(kinds, kind)
		}
	}

	return kinds
}

// Timeout returns the call deadline for kind.
func (s *Service) Timeout(kind models.SourceKind) time.Duration {
	return s.timeouts[kind]
}

// plan is a validated request ready for dispatch.
type plan struct {
	rng       models.TimeRange
	limit     int
	requested []models.SourceKind
	calls     []fanout.Call
	deadline  time.Duration
}

// Search runs req against every requested backend. It returns an error only
// when the request is rejected before dispatch; backend failures are
// reported per source in the response.
func (s *Service) Search(ctx context.Context, req *models.SearchRequest) (*models.UnifiedResponse, error) {
	start := time.Now()

	p, err := s.prepare(req)
	if err != nil {
		s.reject(ctx, req, err)

		return nil, err
	}

	requestID := uuid.NewString()

	ctx, span := s.tracer.Start(ctx, "search", trace.WithAttributes(
		attribute.String("signalquery.request_id", requestID),
		attribute.String("signalquery.tenant", req.Tenant),
		attribute.Int("signalquery.limit", p.limit),
		attribute.Int("signalquery.calls", len(p.calls)),
	))
	defer span.End()

	if tenant.SlugFromContext(ctx) != req.Tenant {
		ctx = tenant.WithContext(ctx, &tenant.Info{TenantSlug: req.Tenant})
	}

	runCtx, cancel := context.WithTimeout(ctx, p.deadline)
	outcomes := s.coordinator.Run(runCtx, p.calls)

	cancel()

	resp := aggregate.Merge(outcomes, p.limit, p.requested)
	resp.RequestID = requestID
	resp.Tenant = req.Tenant
	resp.Range = p.rng
	resp.DurationMs = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.Int("signalquery.items", len(resp.Items)),
		attribute.Bool("signalquery.truncated", resp.Truncated),
	)

	if resp.AllSourcesFailed {
		span.SetStatus(codes.Error, "all sources failed")
	}

	recordSearch(ctx, time.Since(start), &resp)
	s.logResult(&resp)
	s.publish(ctx, req.Query, &resp)

	return &resp, nil
}

// prepare validates req and rewrites one query per requested backend. No
// adapter is touched until every rewrite has succeeded.
func (s *Service) prepare(req *models.SearchRequest) (*plan, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, errNilRequest)
	}

	if err := tenant.ValidateSlug(req.Tenant); err != nil {
		return nil, err
	}

	rng, err := s.resolveRange(req.Start, req.End)
	if err != nil {
		return nil, err
	}

	limit, err := s.resolveLimit(req.Limit)
	if err != nil {
		return nil, err
	}

	traceID, err := normalizeTraceID(req.TraceID)
	if err != nil {
		return nil, err
	}

	requested, err := requestedKinds(req.Sources, traceID)
	if err != nil {
		return nil, err
	}

	for kind := range req.Overrides {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: override for unknown source %q", ErrInvalidRequest, kind)
		}
	}

	p := &plan{rng: rng, limit: limit, requested: requested}

	var longest time.Duration

	for _, kind := range requested {
		adapter, ok := s.adapters[kind]
		if !ok {
			continue
		}

		fragment := req.Query
		if override, ok := req.Overrides[kind]; ok {
			fragment = override
		}

		expr, err := s.rewriter.Rewrite(fragment, req.Tenant, kind)
		if err != nil {
			return nil, fmt.Errorf("%s query: %w", kind, err)
		}

		q := backend.Query{
			Kind:   kind,
			Expr:   expr,
			Tenant: req.Tenant,
			Range:  rng,
			Limit:  limit,
		}

		if kind == models.SourceTraces {
			q.TraceID = traceID
		}

		timeout := s.timeouts[kind]
		if timeout > longest {
			longest = timeout
		}

		p.calls = append(p.calls, fanout.Call{Adapter: adapter, Query: q, Timeout: timeout})
	}

	p.deadline = longest + time.Duration(s.cfg.FanoutOverhead)

	return p, nil
}

func (s *Service) resolveRange(start, end time.Time) (models.TimeRange, error) {
	if end.IsZero() {
		end = s.now()
	}

	if start.IsZero() {
		start = end.Add(-models.DefaultLookback)
	}

	rng := models.TimeRange{Start: start.UTC(), End: end.UTC()}

	if !rng.End.After(rng.Start) {
		return rng, fmt.Errorf("%w: end must be after start", ErrInvalidRequest)
	}

	if maxRange := time.Duration(s.cfg.MaxRange); maxRange > 0 && rng.Duration() > maxRange {
		return rng, fmt.Errorf("%w: range %s exceeds maximum %s", ErrInvalidRequest, rng.Duration(), maxRange)
	}

	return rng, nil
}

func (s *Service) resolveLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, fmt.Errorf("%w: limit must not be negative", ErrInvalidRequest)
	case limit == 0:
		return s.cfg.DefaultLimit, nil
	case limit > s.cfg.MaxLimit:
		return s.cfg.MaxLimit, nil
	default:
		return limit, nil
	}
}

func normalizeTraceID(id string) (string, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return "", nil
	}

	if len(id) > maxTraceIDLen {
		return "", fmt.Errorf("%w: trace_id longer than %d characters", ErrInvalidRequest, maxTraceIDLen)
	}

	// Tempo accepts ids with the leading zeros stripped, so odd lengths are
	// fine; pad only for the check.
	check := id
	if len(check)%2 == 1 {
		check = "0" + check
	}

	if _, err := hex.DecodeString(check); err != nil {
		return "", fmt.Errorf("%w: trace_id must be hexadecimal", ErrInvalidRequest)
	}

	return id, nil
}

// requestedKinds resolves the sources subset. A trace id with no explicit
// subset asks for traces only.
func requestedKinds(sources []models.SourceKind, traceID string) ([]models.SourceKind, error) {
	if len(sources) == 0 {
		if traceID != "" {
			return []models.SourceKind{models.SourceTraces}, nil
		}

		return models.AllSourceKinds(), nil
	}

	seen := make(map[models.SourceKind]bool, len(sources))
	kinds := make([]models.SourceKind, 0, len(sources))

	for _, kind := range sources {
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidRequest, kind)
		}

		if seen[kind] {
			continue
		}

		seen[kind] = true
		kinds = append(kinds, kind)
	}

	return kinds, nil
}

func (s *Service) reject(ctx context.Context, req *models.SearchRequest, err error) {
	reason := "invalid_request"

	switch {
	case errors.Is(err, query.ErrInvalidTenant):
		reason = "invalid_tenant"
	case errors.Is(err, query.ErrInvalidQuerySyntax):
		reason = "invalid_query"
	}

	recordRejected(ctx, reason)

	ev := s.logger.Warn().Str("reason", reason).Err(err)
	if req != nil && tenant.ValidateSlug(req.Tenant) == nil {
		ev = ev.Str("tenant", req.Tenant)
	}

	ev.Msg("Rejected search request")
}

func (s *Service) logResult(resp *models.UnifiedResponse) {
	statuses := zerolog.Dict()
	for kind, res := range resp.Sources {
		statuses.Str(string(kind), string(res.Status))
	}

	ev := s.logger.Info()
	if resp.Degraded() {
		ev = s.logger.Warn()
	}

	ev.Str("request_id", resp.RequestID).
		Str("tenant", resp.Tenant).
		Int("items", len(resp.Items)).
		Bool("truncated", resp.Truncated).
		Bool("all_sources_failed", resp.AllSourcesFailed).
		Int64("duration_ms", resp.DurationMs).
		Dict("sources", statuses).
		Msg("Search completed")
}

// publish hands the search summary to the publisher in the background so a
// slow or unreachable event bus never delays the response.
func (s *Service) publish(ctx context.Context, queryText string, resp *models.UnifiedResponse) {
	if s.publisher == nil {
		return
	}

	data := models.NewSearchExecutedEventData(queryText, resp)
	pubCtx := context.WithoutCancel(ctx)

	s.events.Go(func() {
		ctx, cancel := context.WithTimeout(pubCtx, publishTimeout)
		defer cancel()

		if err := s.publisher.PublishSearchExecuted(ctx, data); err != nil {
			s.logger.Warn().
				Err(err).
				Str("request_id", data.RequestID).
				Msg("Failed to publish search event")
		}
	})
}

// Drain blocks until every pending search event has been published or has
// failed.
func (s *Service) Drain() {
	s.events.Wait()
}
