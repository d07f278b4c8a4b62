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

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/carverauto/signalquery/pkg/logger"
	"github.com/carverauto/signalquery/pkg/models"
)

const (
	// TenantHeader carries the tenant to multi-tenant Prometheus, Loki and
	// Tempo deployments.
	TenantHeader = "X-Scope-OrgID"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 32 << 20
)

var errAddressRequired = errors.New("backend address is required")

// HTTPConfig configures the HTTP transport shared by all adapters.
type HTTPConfig struct {
	Address string
	Headers map[string]string
	// TenantLabel is the attribute name the trace adapter filters on.
	TenantLabel string
	Logger      logger.Logger
	// Client overrides the default client; tests use it to inject fakes.
	Client *http.Client
}

type callKey struct{}

// call is per-request state shared between an adapter and its transport.
// Each Execute owns one, so no two calls share it.
type call struct {
	tenant string
	status atomic.Int32
}

func withCall(ctx context.Context, tenant string) (context.Context, *call) {
	c := &call{tenant: tenant}

	return context.WithValue(ctx, callKey{}, c), c
}

func callFrom(ctx context.Context) *call {
	c, _ := ctx.Value(callKey{}).(*call)

	return c
}

// scopeTransport stamps static headers and the tenant header on every
// request, and records the response status for error classification.
type scopeTransport struct {
	next    http.RoundTripper
	headers map[string]string
}

func (t *scopeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())

	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	c := callFrom(req.Context())
	if c != nil && c.tenant != "" {
		req.Header.Set(TenantHeader, c.tenant)
	}

	resp, err := t.next.RoundTrip(req)
	if err == nil && c != nil {
		c.status.Store(int32(resp.StatusCode))
	}

	return resp, err
}

func newTransport(cfg HTTPConfig) http.RoundTripper {
	next := http.DefaultTransport
	if cfg.Client != nil && cfg.Client.Transport != nil {
		next = cfg.Client.Transport
	}

	return &scopeTransport{next: next, headers: cfg.Headers}
}

// httpBackend is the plain JSON/protobuf GET client used by the logs and
// traces adapters.
type httpBackend struct {
	baseURL *url.URL
	client  *http.Client
	logger  logger.Logger
}

func newHTTPBackend(cfg HTTPConfig) (*httpBackend, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errAddressRequired
	}

	parsed, err := url.Parse(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("invalid backend address: %w", err)
	}

	timeout := defaultHTTPTimeout
	if cfg.Client != nil && cfg.Client.Timeout > 0 {
		timeout = cfg.Client.Timeout
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	return &httpBackend{
		baseURL: parsed,
		client:  &http.Client{Transport: newTransport(cfg), Timeout: timeout},
		logger:  log,
	}, nil
}

// get issues a GET and returns the body of a 2xx response. notFound is
// reported separately so callers can treat it as "no data".
func (h *httpBackend) get(ctx context.Context, p string, params url.Values, accept string) (body []byte, notFound bool, berr *Error) {
	endpoint := *h.baseURL
	endpoint.Path = path.Join(endpoint.Path, p)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), http.NoBody)
	if err != nil {
		return nil, false, NewError(models.ErrorConnection, 0, fmt.Errorf("failed to create request: %w", err))
	}

	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, false, Classify(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, false, Classify(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, true, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, false, StatusError(resp.StatusCode, data)
	}

	return data, false, nil
}
