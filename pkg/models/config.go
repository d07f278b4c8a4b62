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

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/carverauto/signalquery/pkg/logger"
)

var (
	errInvalidDuration     = errors.New("invalid duration")
	errListenAddrRequired  = errors.New("listen_addr is required")
	errNoBackends          = errors.New("at least one backend must be configured")
	errBackendAddress      = errors.New("backend address must be an absolute http(s) URL")
	errUnknownBackendKind  = errors.New("unknown backend kind")
	errDialectMismatch     = errors.New("dialect does not match backend kind")
	errLimitRange          = errors.New("default_limit must be positive and not exceed max_limit")
	errNegativeDuration    = errors.New("durations must not be negative")
	errNATSStreamRequired  = errors.New("nats.stream is required when nats.url is set")
	errTenantLabelRequired = errors.New("search.tenant_label must be a valid label name")
)

const (
	DefaultListenAddr     = ":8090"
	DefaultBackendTimeout = 5 * time.Second
	DefaultFanoutOverhead = 250 * time.Millisecond
	DefaultLimit          = 100
	DefaultMaxLimit       = 1000
	DefaultMaxRange       = 7 * 24 * time.Hour
	DefaultLookback       = time.Hour
	DefaultTenantLabel    = "tenant_id"
	DefaultTenantHeader   = "X-Tenant-ID"
	DefaultNATSStream     = "events"
)

// Duration is a time.Duration that decodes from either a Go duration string
// ("5s") or a number of nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))

		return nil
	case string:
		dur, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %w", errInvalidDuration, err)
		}

		*d = Duration(dur)

		return nil
	default:
		return errInvalidDuration
	}
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// ServiceConfig is the top-level configuration of the signalquery service.
type ServiceConfig struct {
	ListenAddr string          `json:"listen_addr"`
	Logging    *logger.Config  `json:"logging"`
	Security   *SecurityConfig `json:"security"`
	API        APIConfig       `json:"api"`
	Search     SearchConfig    `json:"search"`
	Backends   []BackendConfig `json:"backends"`
	NATS       *NATSConfig     `json:"nats,omitempty"`
}

// APIConfig controls how the HTTP API authenticates callers.
type APIConfig struct {
	APIKey string `json:"api_key,omitempty"`
	// TrustedTenantHeader is only honored when an authenticating proxy sits
	// in front of the service. Leave empty to require mTLS tenant identity.
	TrustedTenantHeader  string   `json:"trusted_tenant_header,omitempty"`
	CORSOrigins          []string `json:"cors_origins,omitempty"`
	CORSAllowCredentials bool     `json:"cors_allow_credentials,omitempty"`
}

// CORSConfig is the browser origin policy applied by the HTTP middleware.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
}

// CORS returns the origin policy configured for the API.
func (a APIConfig) CORS() CORSConfig {
	return CORSConfig{AllowedOrigins: a.CORSOrigins, AllowCredentials: a.CORSAllowCredentials}
}

// SearchConfig holds the fan-out and aggregation limits.
type SearchConfig struct {
	DefaultLimit   int      `json:"default_limit"`
	MaxLimit       int      `json:"max_limit"`
	FanoutOverhead Duration `json:"fanout_overhead"`
	MaxRange       Duration `json:"max_range"`
	TenantLabel    string   `json:"tenant_label"`
}

// BackendConfig describes one signal store.
type BackendConfig struct {
	Kind    SourceKind        `json:"kind"`
	Address string            `json:"address"`
	Dialect Dialect           `json:"dialect,omitempty"`
	Timeout Duration          `json:"timeout"`
	Headers map[string]string `json:"headers,omitempty"`
	Disable bool              `json:"disable,omitempty"`
}

// NATSConfig enables publishing search events for downstream consumers.
type NATSConfig struct {
	URL          string          `json:"url"`
	Domain       string          `json:"domain,omitempty"`
	Stream       string          `json:"stream"`
	TenantPrefix bool            `json:"tenant_prefix"`
	Security     *SecurityConfig `json:"security,omitempty"`
}

// ApplyDefaults fills zero values with the service defaults.
func (c *ServiceConfig) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}

	c.Search.applyDefaults()

	for i := range c.Backends {
		b := &c.Backends[i]
		if b.Timeout == 0 {
			b.Timeout = Duration(DefaultBackendTimeout)
		}

		if b.Dialect == "" {
			b.Dialect = DefaultDialect(b.Kind)
		}
	}

	if c.NATS != nil && c.NATS.URL != "" && c.NATS.Stream == "" {
		c.NATS.Stream = DefaultNATSStream
	}
}

func (s *SearchConfig) applyDefaults() {
	if s.DefaultLimit == 0 {
		s.DefaultLimit = DefaultLimit
	}

	if s.MaxLimit == 0 {
		s.MaxLimit = DefaultMaxLimit
	}

	if s.FanoutOverhead == 0 {
		s.FanoutOverhead = Duration(DefaultFanoutOverhead)
	}

	if s.MaxRange == 0 {
		s.MaxRange = Duration(DefaultMaxRange)
	}

	if s.TenantLabel == "" {
		s.TenantLabel = DefaultTenantLabel
	}
}

// Validate implements config.Validator.
func (c *ServiceConfig) Validate() error {
	c.ApplyDefaults()

	if strings.TrimSpace(c.ListenAddr) == "" {
		return errListenAddrRequired
	}

	if err := c.Search.Validate(); err != nil {
		return err
	}

	enabled := 0

	for i := range c.Backends {
		if c.Backends[i].Disable {
			continue
		}

		if err := c.Backends[i].Validate(); err != nil {
			return fmt.Errorf("backends[%d]: %w", i, err)
		}

		enabled++
	}

	if enabled == 0 {
		return errNoBackends
	}

	if c.NATS != nil && c.NATS.URL != "" && c.NATS.Stream == "" {
		return errNATSStreamRequired
	}

	return nil
}

// Validate checks the search limits.
func (s *SearchConfig) Validate() error {
	s.applyDefaults()

	if s.DefaultLimit <= 0 || s.MaxLimit <= 0 || s.DefaultLimit > s.MaxLimit {
		return errLimitRange
	}

	if s.FanoutOverhead < 0 || s.MaxRange < 0 {
		return errNegativeDuration
	}

	if !isLabelName(s.TenantLabel) {
		return errTenantLabelRequired
	}

	return nil
}

// Validate checks a single backend definition.
func (b *BackendConfig) Validate() error {
	if !b.Kind.Valid() {
		return fmt.Errorf("%w: %q", errUnknownBackendKind, b.Kind)
	}

	u, err := url.Parse(b.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", errBackendAddress, b.Address)
	}

	if b.Timeout < 0 {
		return errNegativeDuration
	}

	if b.Dialect != "" && b.Dialect != DefaultDialect(b.Kind) {
		return fmt.Errorf("%w: %s/%s", errDialectMismatch, b.Kind, b.Dialect)
	}

	return nil
}

func isLabelName(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}

	return true
}
