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

// Package cli implements signalquery-cli.
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/carverauto/signalquery/pkg/models"
)

const (
	defaultServer       = "http://localhost:8090"
	defaultTenantHeader = "X-Tenant-ID"
	defaultTimeout      = 30 * time.Second

	envServer = "SIGNALQUERY_SERVER"
	envAPIKey = "SIGNALQUERY_API_KEY"
	envTenant = "SIGNALQUERY_TENANT"
)

const (
	cmdSearch      = "search"
	cmdSources     = "sources"
	cmdInteractive = "interactive"
)

// SearchHandler handles flags for the search subcommand.
type SearchHandler struct{}

// Parse processes arguments for search.
func (SearchHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := newFlagSet(cmdSearch, cfg)
	registerSearchFlags(fs, cfg)

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing search flags: %w", err)
	}

	cfg.Args = fs.Args()
	if cfg.Query == "" && len(cfg.Args) > 0 {
		cfg.Query = strings.Join(cfg.Args, " ")
	}

	return nil
}

// SourcesHandler handles flags for the sources subcommand.
type SourcesHandler struct{}

// Parse processes arguments for sources.
func (SourcesHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := newFlagSet(cmdSources, cfg)
	fs.BoolVar(&cfg.JSON, "json", false, "print the raw JSON response")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing sources flags: %w", err)
	}

	cfg.Args = fs.Args()

	return nil
}

// InteractiveHandler handles flags for the default TUI mode.
type InteractiveHandler struct{}

// Parse processes arguments for the TUI.
func (InteractiveHandler) Parse(args []string, cfg *CmdConfig) error {
	fs := newFlagSet(cmdInteractive, cfg)
	registerSearchFlags(fs, cfg)

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	cfg.Args = fs.Args()

	return nil
}

func newFlagSet(name string, cfg *CmdConfig) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.BoolVar(&cfg.Help, "help", false, "show help message")
	fs.BoolVar(&cfg.Version, "version", false, "print version")
	fs.StringVar(&cfg.Server, "server", envOr(envServer, defaultServer), "signalquery base URL")
	fs.StringVar(&cfg.APIKey, "api-key", os.Getenv(envAPIKey), "API key")
	fs.StringVar(&cfg.Tenant, "tenant", os.Getenv(envTenant), "tenant for the trusted tenant header")
	fs.StringVar(&cfg.TenantHeader, "tenant-header", defaultTenantHeader, "header carrying -tenant")
	fs.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "request timeout")
	fs.StringVar(&cfg.CertDir, "cert-dir", "", "directory for relative certificate paths")
	fs.StringVar(&cfg.CertFile, "cert", "", "client certificate for mTLS")
	fs.StringVar(&cfg.KeyFile, "key", "", "client key for mTLS")
	fs.StringVar(&cfg.CAFile, "ca", "", "CA bundle for the server certificate")
	fs.StringVar(&cfg.ServerName, "server-name", "", "expected server certificate name")

	return fs
}

func registerSearchFlags(fs *flag.FlagSet, cfg *CmdConfig) {
	fs.StringVar(&cfg.Query, "q", "", "query text")
	fs.DurationVar(&cfg.Since, "since", 0, "search the last duration")
	fs.StringVar(&cfg.Start, "start", "", "RFC3339 range start")
	fs.StringVar(&cfg.End, "end", "", "RFC3339 range end")
	fs.IntVar(&cfg.Limit, "limit", 0, "maximum number of items")
	fs.StringVar(&cfg.TraceID, "trace-id", "", "fetch one trace by id")
	fs.BoolVar(&cfg.JSON, "json", false, "print the raw JSON response")

	fs.Func("sources", "comma-separated subset: metrics,logs,traces", func(v string) error {
		for _, part := range strings.Split(v, ",") {
			kind := models.SourceKind(strings.TrimSpace(part))
			if !kind.Valid() {
				return fmt.Errorf("%w: %q", errInvalidSource, part)
			}

			cfg.Sources = append(cfg.Sources, kind)
		}

		return nil
	})

	fs.Func("override", "native expression for one backend, kind=expr", func(v string) error {
		k, expr, ok := strings.Cut(v, "=")
		kind := models.SourceKind(strings.TrimSpace(k))

		if !ok || !kind.Valid() || strings.TrimSpace(expr) == "" {
			return fmt.Errorf("%w: %q", errInvalidOverride, v)
		}

		if cfg.Overrides == nil {
			cfg.Overrides = make(map[models.SourceKind]string)
		}

		cfg.Overrides[kind] = expr

		return nil
	})
}

// ParseFlags parses args (without the program name) into a CmdConfig.
func ParseFlags(args []string) (*CmdConfig, error) {
	cfg := &CmdConfig{}

	subcommands := map[string]SubcommandHandler{
		cmdSearch:      SearchHandler{},
		cmdSources:     SourcesHandler{},
		cmdInteractive: InteractiveHandler{},
	}

	cfg.SubCmd = cmdInteractive

	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cfg.SubCmd = args[0]
		args = args[1:]
	}

	handler, ok := subcommands[cfg.SubCmd]
	if !ok {
		return cfg, fmt.Errorf("%w: %s", errUnknownCommand, cfg.SubCmd)
	}

	if err := handler.Parse(args, cfg); err != nil {
		return cfg, err
	}

	if cfg.Server == "" {
		return cfg, errServerRequired
	}

	return cfg, nil
}

// Run executes the parsed command, writing output to out.
func Run(ctx context.Context, cfg *CmdConfig, out io.Writer) error {
	if cfg.Help {
		ShowHelp(out)

		return nil
	}

	client, err := NewClient(cfg)
	if err != nil {
		return err
	}

	switch cfg.SubCmd {
	case cmdSearch:
		return runSearch(ctx, client, cfg, out)
	case cmdSources:
		return runSources(ctx, client, cfg, out)
	case cmdInteractive:
		return RunInteractive(ctx, client, cfg)
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, cfg.SubCmd)
	}
}

func runSearch(ctx context.Context, client *Client, cfg *CmdConfig, out io.Writer) error {
	req, err := BuildRequest(cfg, time.Now())
	if err != nil {
		return err
	}

	if req.Query == "" && req.TraceID == "" && len(req.Overrides) == 0 {
		return errQueryRequired
	}

	res, err := client.Search(ctx, req)
	if err != nil {
		return err
	}

	if cfg.JSON {
		return writeJSON(out, res.Response)
	}

	_, err = fmt.Fprintln(out, RenderResponse(res.Response, res.Status))

	return err
}

func runSources(ctx context.Context, client *Client, cfg *CmdConfig, out io.Writer) error {
	sources, err := client.Sources(ctx)
	if err != nil {
		return err
	}

	if cfg.JSON {
		return writeJSON(out, sources)
	}

	_, err = fmt.Fprintln(out, RenderSources(sources))

	return err
}

// BuildRequest turns command-line options into a search request. -start and
// -end win over -since; with none of them the server picks the range.
func BuildRequest(cfg *CmdConfig, now time.Time) (*models.SearchRequest, error) {
	req := &models.SearchRequest{
		Query:     strings.TrimSpace(cfg.Query),
		Limit:     cfg.Limit,
		Sources:   cfg.Sources,
		TraceID:   cfg.TraceID,
		Overrides: cfg.Overrides,
	}

	var err error

	if cfg.Start != "" {
		if req.Start, err = parseTime(cfg.Start); err != nil {
			return nil, err
		}
	}

	if cfg.End != "" {
		if req.End, err = parseTime(cfg.End); err != nil {
			return nil, err
		}
	}

	if cfg.Since > 0 && cfg.Start == "" {
		if req.End.IsZero() {
			req.End = now.UTC()
		}

		req.Start = req.End.Add(-cfg.Since)
	}

	return req, nil
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", errInvalidTime, v)
	}

	return t, nil
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
