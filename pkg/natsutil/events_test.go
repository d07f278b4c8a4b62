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

package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/signalquery/pkg/models"
	"github.com/carverauto/signalquery/pkg/tenant"
)

var errTestFixture = errors.New("fixture error")

// fakeJetStream records publishes; every other JetStream method panics via
// the nil embedded interface.
type fakeJetStream struct {
	jetstream.JetStream

	subject string
	data    []byte
	err     error
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}

	f.subject = subject
	f.data = data

	return &jetstream.PubAck{Stream: "events", Sequence: 42}, nil
}

func TestEnsureSubjectList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subjects []string
		subject  string
		want     []string
	}{
		{
			name:     "adds subject when list empty",
			subjects: nil,
			subject:  "events.search.executed",
			want:     []string{"events.search.executed"},
		},
		{
			name:     "keeps list when wildcard matches",
			subjects: []string{"events.search.*"},
			subject:  "events.search.executed",
			want:     []string{"events.search.*"},
		},
		{
			name:     "keeps list when greater wildcard matches",
			subjects: []string{"events.>"},
			subject:  "events.search.executed",
			want:     []string{"events.>"},
		},
		{
			name:     "appends when unmatched",
			subjects: []string{"logs.syslog.*"},
			subject:  "events.search.executed",
			want:     []string{"logs.syslog.*", "events.search.executed"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			result := ensureSubjectList(append([]string(nil), tc.subjects...), tc.subject)
			assert.Equal(t, tc.want, result)
		})
	}
}

func TestMatchesSubject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		subject  string
		expected bool
	}{
		{"exact match", "events.search.executed", "events.search.executed", true},
		{"single wildcard", "events.*.executed", "events.search.executed", true},
		{"greater wildcard", "events.>", "events.search.executed", true},
		{"tenant wildcard", "*.events.search.executed", "acme.events.search.executed", true},
		{"greater needs a token", "events.search.executed.>", "events.search.executed", false},
		{"no match length", "events.*", "events.search.executed", false},
		{"no match tokens", "logs.syslog.*", "events.search.executed", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, matchesSubject(tc.pattern, tc.subject))
		})
	}
}

func TestIsStreamMissingErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"jetstream no stream response", jetstream.ErrNoStreamResponse, true},
		{"jetstream stream not found", jetstream.ErrStreamNotFound, true},
		{"nats no stream response", nats.ErrNoStreamResponse, true},
		{"nats stream not found", nats.ErrStreamNotFound, true},
		{"nats no responders", nats.ErrNoResponders, true},
		{"other error", errTestFixture, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.expected, isStreamMissingErr(tc.err))
		})
	}
}

func TestIsTenantPrefixEnabled(t *testing.T) {
	tests := []struct {
		envValue string
		expected bool
	}{
		{"true", true},
		{"1", true},
		{"yes", true},
		{"false", false},
		{"", false},
		{"random", false},
	}

	for _, tc := range tests {
		t.Run("env="+tc.envValue, func(t *testing.T) {
			t.Setenv(EnvNATSTenantPrefixEnabled, tc.envValue)

			assert.Equal(t, tc.expected, IsTenantPrefixEnabled())
		})
	}
}

func TestApplyTenantPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		prefixingEnabled bool
		tenantSlug       string
		expected         string
	}{
		{"prefixing enabled with tenant in context", true, "acme-corp", "acme-corp.events.search.executed"},
		{"prefixing enabled without tenant defaults to 'default'", true, "", "default.events.search.executed"},
		{"prefixing disabled returns original subject", false, "acme-corp", "events.search.executed"},
		{"prefixing disabled without tenant returns original", false, "", "events.search.executed"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			publisher := &EventPublisher{tenantPrefixing: tc.prefixingEnabled}

			ctx := context.Background()
			if tc.tenantSlug != "" {
				ctx = tenant.WithContext(ctx, &tenant.Info{TenantSlug: tc.tenantSlug})
			}

			assert.Equal(t, tc.expected, publisher.applyTenantPrefix(ctx, models.SearchExecutedSubject))
		})
	}
}

func TestSetTenantPrefixing(t *testing.T) {
	t.Parallel()

	publisher := NewEventPublisherWithPrefixing(nil, "events", []string{"events.>"}, false)
	assert.False(t, publisher.IsTenantPrefixingEnabled())

	publisher.SetTenantPrefixing(true)
	assert.True(t, publisher.IsTenantPrefixingEnabled())

	publisher.SetTenantPrefixing(false)
	assert.False(t, publisher.IsTenantPrefixingEnabled())
}

func TestPublishSearchExecuted(t *testing.T) {
	t.Parallel()

	js := &fakeJetStream{}
	publisher := NewEventPublisherWithPrefixing(js, "events", nil, true)

	ctx := tenant.WithContext(context.Background(), &tenant.Info{TenantSlug: "acme"})
	data := &models.SearchExecutedEventData{
		RequestID: "req-1",
		Tenant:    "acme",
		Query:     "error",
		Items:     6,
		Sources:   map[models.SourceKind]models.SourceStatus{models.SourceLogs: models.StatusOK},
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, publisher.PublishSearchExecuted(ctx, data))
	assert.Equal(t, "acme.events.search.executed", js.subject)

	var event struct {
		SpecVersion string                         `json:"specversion"`
		ID          string                         `json:"id"`
		Type        string                         `json:"type"`
		Source      string                         `json:"source"`
		Subject     string                         `json:"subject"`
		Data        models.SearchExecutedEventData `json:"data"`
	}

	require.NoError(t, json.Unmarshal(js.data, &event))
	assert.Equal(t, "1.0", event.SpecVersion)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, models.SearchExecutedEventType, event.Type)
	assert.Equal(t, "acme.events.search.executed", event.Subject)
	assert.Equal(t, "req-1", event.Data.RequestID)
	assert.Equal(t, 6, event.Data.Items)
	assert.Equal(t, models.StatusOK, event.Data.Sources[models.SourceLogs])
}

func TestPublishSearchExecutedError(t *testing.T) {
	t.Parallel()

	publisher := NewEventPublisherWithPrefixing(&fakeJetStream{err: errTestFixture}, "events", nil, false)

	err := publisher.PublishSearchExecuted(context.Background(), &models.SearchExecutedEventData{RequestID: "r"})
	require.ErrorIs(t, err, errTestFixture)
}

func TestTLSConfigRequiresMTLS(t *testing.T) {
	t.Parallel()

	_, err := TLSConfig(nil)
	require.ErrorIs(t, err, ErrMTLSRequired)

	_, err = TLSConfig(&models.SecurityConfig{Mode: models.SecurityModeNone})
	require.ErrorIs(t, err, ErrMTLSRequired)

	_, err = TLSConfig(&models.SecurityConfig{
		Mode:    models.SecurityModeMTLS,
		CertDir: t.TempDir(),
		TLS:     models.TLSConfig{CertFile: "client.pem", KeyFile: "client-key.pem", CAFile: "root.pem"},
	})
	require.Error(t, err)
}
