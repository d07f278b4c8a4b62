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

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carverauto/signalquery/pkg/api"
	"github.com/carverauto/signalquery/pkg/models"
)

const maxErrorBody = 4096

// Client talks to the signalquery HTTP API.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	apiKey       string
	tenant       string
	tenantHeader string
}

// SearchResult is a decoded search answer plus the HTTP status, which tells
// a full answer (200) from a degraded one (207).
type SearchResult struct {
	Status   int
	Response *models.UnifiedResponse
}

// NewClient builds a client from cfg, with mTLS when a client certificate is
// configured.
func NewClient(cfg *CmdConfig) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if cfg.CertFile != "" {
		tlsConfig, err := clientTLSConfig(cfg)
		if err != nil {
			return nil, err
		}

		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.Server, "/"),
		httpClient:   &http.Client{Transport: transport, Timeout: cfg.Timeout},
		apiKey:       cfg.APIKey,
		tenant:       cfg.Tenant,
		tenantHeader: cfg.TenantHeader,
	}, nil
}

// Search posts req to /api/v1/search.
func (c *Client) Search(ctx context.Context, req *models.SearchRequest) (*SearchResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		return nil, serverError(resp)
	}

	var unified models.UnifiedResponse
	if err := json.NewDecoder(resp.Body).Decode(&unified); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	return &SearchResult{Status: resp.StatusCode, Response: &unified}, nil
}

// Sources lists the configured backends.
func (c *Client) Sources(ctx context.Context) (*api.SourcesResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/sources", http.NoBody)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, serverError(resp)
	}

	var sources api.SourcesResponse
	if err := json.NewDecoder(resp.Body).Decode(&sources); err != nil {
		return nil, fmt.Errorf("decoding sources response: %w", err)
	}

	return &sources, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	if c.tenant != "" && c.tenantHeader != "" {
		req.Header.Set(c.tenantHeader, c.tenant)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	return resp, nil
}

func serverError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp models.ErrorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Message != "" {
		return fmt.Errorf("%w: %s (HTTP %d)", errServer, errResp.Message, resp.StatusCode)
	}

	return fmt.Errorf("%w: %s (HTTP %d)", errServer, strings.TrimSpace(string(data)), resp.StatusCode)
}
