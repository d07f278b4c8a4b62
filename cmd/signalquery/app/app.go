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

// Package app wires the signalquery service together.
package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/signalquery/pkg/api"
	"github.com/carverauto/signalquery/pkg/backend"
	"github.com/carverauto/signalquery/pkg/config"
	"github.com/carverauto/signalquery/pkg/lifecycle"
	"github.com/carverauto/signalquery/pkg/logger"
	"github.com/carverauto/signalquery/pkg/models"
	"github.com/carverauto/signalquery/pkg/natsutil"
	"github.com/carverauto/signalquery/pkg/search"
	"github.com/carverauto/signalquery/pkg/version"
)

const (
	serviceName     = "signalquery"
	shutdownTimeout = 10 * time.Second
	// Responses may take as long as the slowest backend plus fan-out
	// overhead; the write deadline gets this much on top.
	writeTimeoutMargin = 5 * time.Second
)

// Options contains runtime configuration derived from CLI flags.
type Options struct {
	ConfigPath string
}

// Run boots the search API and blocks until ctx is cancelled or the process
// receives SIGINT/SIGTERM.
func Run(ctx context.Context, opts Options) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cfg models.ServiceConfig

	if err := config.NewConfig(nil).LoadAndValidate(ctx, opts.ConfigPath, &cfg); err != nil {
		return err
	}

	mainLogger, err := lifecycle.CreateComponentLogger(ctx, "signalquery-main", cfg.Logging)
	if err != nil {
		return err
	}

	defer func() {
		if shutdownErr := lifecycle.ShutdownLogger(); shutdownErr != nil {
			mainLogger.Error().Err(shutdownErr).Msg("Error shutting down logger")
		}
	}()

	var otelCfg *logger.OTelConfig
	if cfg.Logging != nil {
		otelCfg = &cfg.Logging.OTel
	}

	tp, err := logger.InitializeTracing(ctx, logger.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		Logger:         mainLogger,
		OTel:           otelCfg,
	})
	if err != nil {
		return err
	}

	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			mainLogger.Error().Err(err).Msg("Error shutting down tracer provider")
		}
	}()

	if _, metricsErr := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		OTel:           otelCfg,
	}); metricsErr != nil && !errors.Is(metricsErr, logger.ErrOTelMetricsDisabled) {
		return metricsErr
	}

	adapters, err := backend.FromConfig(cfg.Backends, cfg.Search.TenantLabel, componentLogger(mainLogger, "backend"))
	if err != nil {
		return err
	}

	searchOpts := []search.Option{
		search.WithBackendTimeouts(search.TimeoutsFromConfig(cfg.Backends)),
	}

	publisher, closePublisher, err := newPublisher(ctx, &cfg, mainLogger)
	if err != nil {
		return err
	}

	if publisher != nil {
		defer closePublisher()

		searchOpts = append(searchOpts, search.WithPublisher(publisher))
	}

	svc, err := search.NewService(cfg.Search, adapters, componentLogger(mainLogger, "search"), searchOpts...)
	if err != nil {
		return err
	}

	tlsConfig, err := api.ServerTLSConfig(cfg.Security)
	if err != nil {
		return err
	}

	apiServer := api.NewAPIServer(svc, componentLogger(mainLogger, "api"),
		api.WithAPIConfig(cfg.API),
		api.WithWriteTimeout(writeTimeout(&cfg)),
		api.WithVersion(version.GetFullVersion()),
	)

	mainLogger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Interface("sources", svc.Sources()).
		Bool("events", publisher != nil).
		Str("version", version.GetFullVersion()).
		Msg("signalquery starting")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiServer.Start(cfg.ListenAddr, tlsConfig)
	})

	g.Go(func() error {
		<-gctx.Done()

		mainLogger.Info().Msg("Shutting down API server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, api.ErrServerNotStarted) {
			return err
		}

		return nil
	})

	err = g.Wait()

	// pending search events go out before the NATS connection drains
	svc.Drain()

	return err
}

func componentLogger(base logger.Logger, component string) logger.Logger {
	return logger.New(base.WithComponent(component))
}

// newPublisher connects to NATS when configured. The returned close func is
// nil when publishing is disabled.
func newPublisher(ctx context.Context, cfg *models.ServiceConfig, log logger.Logger) (search.EventPublisher, func(), error) {
	if cfg.NATS == nil || cfg.NATS.URL == "" {
		return nil, nil, nil
	}

	natsLogger := componentLogger(log, "nats")

	nc, err := natsutil.ConnectWithSecurity(cfg.NATS.URL, cfg.NATS.Security, natsLogger)
	if err != nil {
		return nil, nil, err
	}

	prefixing := cfg.NATS.TenantPrefix || natsutil.IsTenantPrefixEnabled()

	publisher, err := natsutil.CreateEventPublisherWithDomain(ctx, nc, cfg.NATS.Domain, cfg.NATS.Stream, nil, prefixing)
	if err != nil {
		nc.Close()

		return nil, nil, err
	}

	publisher.SetLogger(natsLogger)

	return publisher, func() {
		if err := nc.Drain(); err != nil {
			natsLogger.Warn().Err(err).Msg("Error draining NATS connection")
		}
	}, nil
}

func writeTimeout(cfg *models.ServiceConfig) time.Duration {
	longest := time.Duration(0)

	for _, timeout := range search.TimeoutsFromConfig(cfg.Backends) {
		longest = max(longest, timeout)
	}

	return longest + time.Duration(cfg.Search.FanoutOverhead) + writeTimeoutMargin
}
