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

// Package natsutil publishes search lifecycle events to NATS JetStream.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carverauto/signalquery/pkg/logger"
	"github.com/carverauto/signalquery/pkg/models"
	"github.com/carverauto/signalquery/pkg/tenant"
)

const (
	// EnvNATSTenantPrefixEnabled turns on tenant-prefixed subjects when the
	// config file does not say otherwise.
	EnvNATSTenantPrefixEnabled = "NATS_TENANT_PREFIX_ENABLED"

	defaultTenantSlug = "default"
	eventSource       = "signalquery/search"
	publishTimeout    = 5 * time.Second
)

var errStreamRequired = errors.New("stream name is required")

// IsTenantPrefixEnabled reports whether EnvNATSTenantPrefixEnabled is set to
// a truthy value.
func IsTenantPrefixEnabled() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(EnvNATSTenantPrefixEnabled))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// EventPublisher provides methods for publishing CloudEvents to NATS JetStream.
type EventPublisher struct {
	js              jetstream.JetStream
	stream          string
	subjects        []string
	tenantPrefixing bool
	logger          logger.Logger
}

// NewEventPublisher creates a new EventPublisher for the specified stream.
// Tenant prefixing follows EnvNATSTenantPrefixEnabled.
func NewEventPublisher(js jetstream.JetStream, streamName string, subjects []string) *EventPublisher {
	return NewEventPublisherWithPrefixing(js, streamName, subjects, IsTenantPrefixEnabled())
}

// NewEventPublisherWithPrefixing creates an EventPublisher with explicit
// control over tenant-prefixed subjects.
func NewEventPublisherWithPrefixing(js jetstream.JetStream, streamName string, subjects []string, prefixing bool) *EventPublisher {
	return &EventPublisher{
		js:              js,
		stream:          streamName,
		subjects:        subjects,
		tenantPrefixing: prefixing,
		logger:          logger.NewTestLogger(),
	}
}

// SetLogger replaces the publisher's logger.
func (p *EventPublisher) SetLogger(log logger.Logger) {
	if log != nil {
		p.logger = log
	}
}

func (p *EventPublisher) SetTenantPrefixing(enabled bool) {
	p.tenantPrefixing = enabled
}

func (p *EventPublisher) IsTenantPrefixingEnabled() bool {
	return p.tenantPrefixing
}

// applyTenantPrefix puts the caller's tenant slug in front of subject when
// prefixing is on. Events without a tenant land under "default".
func (p *EventPublisher) applyTenantPrefix(ctx context.Context, subject string) string {
	if !p.tenantPrefixing {
		return subject
	}

	slug := tenant.SlugFromContext(ctx)
	if slug == "" {
		slug = defaultTenantSlug
	}

	return tenant.PrefixChannelWithSlug(slug, subject)
}

// PublishSearchExecuted publishes a search.executed event. The tenant in ctx
// selects the subject prefix.
func (p *EventPublisher) PublishSearchExecuted(ctx context.Context, data *models.SearchExecutedEventData) error {
	ts := data.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	event := models.CloudEvent{
		SpecVersion:     "1.0",
		ID:              uuid.New().String(),
		Source:          eventSource,
		Type:            models.SearchExecutedEventType,
		DataContentType: "application/json",
		Subject:         p.applyTenantPrefix(ctx, models.SearchExecutedSubject),
		Time:            &ts,
		Data:            data,
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal search event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ack, err := p.js.Publish(ctx, event.Subject, eventBytes, jetstream.WithMsgID(event.ID))
	if err != nil {
		return fmt.Errorf("failed to publish search event: %w", err)
	}

	p.logger.Debug().
		Str("event_id", event.ID).
		Str("subject", event.Subject).
		Uint64("seq", ack.Sequence).
		Msg("Published search event")

	return nil
}

// ConnectWithSecurity creates a NATS connection, using mTLS when security
// is configured for it.
func ConnectWithSecurity(natsURL string, security *models.SecurityConfig, log logger.Logger, extraOpts ...nats.Option) (*nats.Conn, error) {
	if log == nil {
		log = logger.NewTestLogger()
	}

	var opts []nats.Option

	if security.MTLS() {
		tlsConf, err := TLSConfig(security)
		if err != nil {
			return nil, fmt.Errorf("failed to build NATS TLS config: %w", err)
		}

		opts = append(opts, nats.Secure(tlsConf))
	}

	opts = append(opts,
		nats.Name("signalquery"),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Connected to NATS")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)

	opts = append(opts, extraOpts...)

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return nc, nil
}

// CreateEventPublisherWithDomain creates an EventPublisher with optional NATS
// domain support, creating or widening the stream so it captures the search
// subject.
func CreateEventPublisherWithDomain(
	ctx context.Context, nc *nats.Conn, domain, streamName string, subjects []string, prefixing bool,
) (*EventPublisher, error) {
	if streamName == "" {
		return nil, errStreamRequired
	}

	var (
		js  jetstream.JetStream
		err error
	)

	if domain != "" {
		js, err = jetstream.NewWithDomain(nc, domain)
	} else {
		js, err = jetstream.New(nc)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := models.SearchExecutedSubject
	if prefixing {
		subject = "*." + subject
	}

	subjects = ensureSubjectList(subjects, subject)

	if err := ensureStream(ctx, js, streamName, subjects); err != nil {
		return nil, err
	}

	return NewEventPublisherWithPrefixing(js, streamName, subjects, prefixing), nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, name string, subjects []string) error {
	stream, err := js.Stream(ctx, name)
	if err != nil {
		if !isStreamMissingErr(err) {
			return fmt.Errorf("failed to look up stream %s: %w", name, err)
		}

		if _, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{Name: name, Subjects: subjects}); err != nil {
			return fmt.Errorf("failed to create stream %s: %w", name, err)
		}

		return nil
	}

	cfg := stream.CachedInfo().Config

	merged := cfg.Subjects
	for _, s := range subjects {
		merged = ensureSubjectList(merged, s)
	}

	if len(merged) == len(cfg.Subjects) {
		return nil
	}

	cfg.Subjects = merged

	if _, err := js.UpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("failed to update stream %s subjects: %w", name, err)
	}

	return nil
}

// ensureSubjectList appends subject unless an existing pattern already
// captures it.
func ensureSubjectList(subjects []string, subject string) []string {
	for _, s := range subjects {
		if matchesSubject(s, subject) {
			return subjects
		}
	}

	return append(subjects, subject)
}

// matchesSubject applies NATS wildcard rules: "*" matches one token and a
// trailing ">" matches the rest.
func matchesSubject(pattern, subject string) bool {
	pTokens := strings.Split(pattern, ".")
	sTokens := strings.Split(subject, ".")

	for i, tok := range pTokens {
		if tok == ">" {
			return i < len(sTokens)
		}

		if i >= len(sTokens) {
			return false
		}

		if tok != "*" && tok != sTokens[i] {
			return false
		}
	}

	return len(pTokens) == len(sTokens)
}

func isStreamMissingErr(err error) bool {
	return errors.Is(err, jetstream.ErrStreamNotFound) ||
		errors.Is(err, jetstream.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrStreamNotFound) ||
		errors.Is(err, nats.ErrNoStreamResponse) ||
		errors.Is(err, nats.ErrNoResponders)
}
