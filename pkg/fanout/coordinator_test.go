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

package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/signalquery/pkg/backend"
	"github.com/carverauto/signalquery/pkg/models"
)

// stubAdapter is a hand-rolled adapter for cases gomock handles poorly:
// calls that outlive the test or panic.
type stubAdapter struct {
	kind    models.SourceKind
	execute func(ctx context.Context, q backend.Query) backend.Outcome
}

func (s *stubAdapter) Kind() models.SourceKind { return s.kind }

func (s *stubAdapter) Execute(ctx context.Context, q backend.Query) backend.Outcome {
	return s.execute(ctx, q)
}

func okAdapter(kind models.SourceKind, ids ...string) *stubAdapter {
	return &stubAdapter{kind: kind, execute: func(context.Context, backend.Query) backend.Outcome {
		items := make([]models.ResultItem, 0, len(ids))
		for _, id := range ids {
			items = append(items, models.ResultItem{Source: kind, ID: id, Timestamp: time.Unix(1700000000, 0)})
		}

		return backend.Succeeded(kind, items, 0, time.Millisecond)
	}}
}

// stuckAdapter ignores its context and only returns once release is closed.
func stuckAdapter(t *testing.T, kind models.SourceKind) *stubAdapter {
	t.Helper()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	return &stubAdapter{kind: kind, execute: func(context.Context, backend.Query) backend.Outcome {
		<-release

		return backend.Succeeded(kind, nil, 0, 0)
	}}
}

func TestRunPreservesInputOrder(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	metrics := backend.NewMockAdapter(ctrl)
	metrics.EXPECT().Kind().Return(models.SourceMetrics).AnyTimes()
	metrics.EXPECT().Execute(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, q backend.Query) backend.Outcome {
			assert.Equal(t, `up{tenant_id="acme"}`, q.Expr)
			time.Sleep(20 * time.Millisecond)

			return backend.Succeeded(models.SourceMetrics, []models.ResultItem{{Source: models.SourceMetrics, ID: "m"}}, 0, 0)
		})

	calls := []Call{
		{Adapter: metrics, Query: backend.Query{Expr: `up{tenant_id="acme"}`}, Timeout: time.Second},
		{Adapter: okAdapter(models.SourceLogs, "l1", "l2"), Timeout: time.Second},
		{Adapter: okAdapter(models.SourceTraces, "t1"), Timeout: time.Second},
	}

	outcomes := NewCoordinator().Run(context.Background(), calls)

	require.Len(t, outcomes, 3)
	assert.Equal(t, models.SourceMetrics, outcomes[0].Kind)
	assert.Equal(t, models.SourceLogs, outcomes[1].Kind)
	assert.Equal(t, models.SourceTraces, outcomes[2].Kind)
	assert.Len(t, outcomes[0].Items, 1)
	assert.Len(t, outcomes[1].Items, 2)
	assert.Positive(t, outcomes[0].Duration)

	for _, out := range outcomes {
		assert.True(t, out.OK())
	}
}

func TestRunBoundedBySlowestTimeout(t *testing.T) {
	t.Parallel()

	const (
		timeout  = 100 * time.Millisecond
		overhead = 400 * time.Millisecond
	)

	calls := []Call{
		{Adapter: okAdapter(models.SourceMetrics, "m"), Timeout: timeout},
		{Adapter: stuckAdapter(t, models.SourceLogs), Timeout: timeout},
		{Adapter: okAdapter(models.SourceTraces, "t"), Timeout: timeout},
	}

	start := time.Now()
	outcomes := NewCoordinator().Run(context.Background(), calls)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+overhead)

	require.Len(t, outcomes, 3)
	assert.True(t, outcomes[0].OK())
	assert.True(t, outcomes[2].OK())

	require.NotNil(t, outcomes[1].Err)
	assert.Equal(t, models.ErrorTimeout, outcomes[1].Err.Kind)
	assert.ErrorIs(t, outcomes[1].Err, context.DeadlineExceeded)
	assert.Empty(t, outcomes[1].Items)
}

func TestRunCancelsTimedOutCall(t *testing.T) {
	t.Parallel()

	cancelled := make(chan struct{})

	adapter := &stubAdapter{kind: models.SourceTraces, execute: func(ctx context.Context, _ backend.Query) backend.Outcome {
		<-ctx.Done()
		close(cancelled)

		return backend.Failed(models.SourceTraces, backend.Classify(ctx, ctx.Err()), 0)
	}}

	outcomes := NewCoordinator().Run(context.Background(), []Call{{Adapter: adapter, Timeout: 20 * time.Millisecond}})

	require.NotNil(t, outcomes[0].Err)
	assert.Equal(t, models.ErrorTimeout, outcomes[0].Err.Kind)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("adapter context was not cancelled")
	}
}

func TestRunRecoversPanics(t *testing.T) {
	t.Parallel()

	adapter := &stubAdapter{kind: models.SourceLogs, execute: func(context.Context, backend.Query) backend.Outcome {
		panic("decoder exploded")
	}}

	outcomes := NewCoordinator().Run(context.Background(), []Call{
		{Adapter: adapter, Timeout: time.Second},
		{Adapter: okAdapter(models.SourceMetrics, "m"), Timeout: time.Second},
	})

	require.NotNil(t, outcomes[0].Err)
	assert.Equal(t, models.ErrorBackend, outcomes[0].Err.Kind)
	require.ErrorIs(t, outcomes[0].Err, ErrAdapterPanic)
	assert.Contains(t, outcomes[0].Err.Error(), "decoder exploded")
	assert.True(t, outcomes[1].OK())
}

func TestRunParentCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := NewCoordinator().Run(ctx, []Call{
		{Adapter: stuckAdapter(t, models.SourceMetrics), Timeout: time.Minute},
		{Adapter: stuckAdapter(t, models.SourceLogs), Timeout: time.Minute},
	})

	for _, out := range outcomes {
		require.NotNil(t, out.Err)
		assert.Equal(t, models.ErrorTimeout, out.Err.Kind)
	}
}

func TestRunDefaultTimeout(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(WithDefaultTimeout(30 * time.Millisecond))

	start := time.Now()
	outcomes := c.Run(context.Background(), []Call{{Adapter: stuckAdapter(t, models.SourceTraces)}})

	assert.Less(t, time.Since(start), time.Second)
	require.NotNil(t, outcomes[0].Err)
	assert.Equal(t, models.ErrorTimeout, outcomes[0].Err.Kind)
}

func TestRunNoCalls(t *testing.T) {
	t.Parallel()

	assert.Empty(t, NewCoordinator().Run(context.Background(), nil))
}
