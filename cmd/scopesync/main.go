// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/scopesync/pkg/backoff"
	"github.com/united-manufacturing-hub/scopesync/pkg/config"
	"github.com/united-manufacturing-hub/scopesync/pkg/constants"
	"github.com/united-manufacturing-hub/scopesync/pkg/datamanager"
	"github.com/united-manufacturing-hub/scopesync/pkg/env"
	"github.com/united-manufacturing-hub/scopesync/pkg/inspect"
	"github.com/united-manufacturing-hub/scopesync/pkg/logger"
	"github.com/united-manufacturing-hub/scopesync/pkg/metrics"
	"github.com/united-manufacturing-hub/scopesync/pkg/persistence"
	"github.com/united-manufacturing-hub/scopesync/pkg/persistence/memory"
	"github.com/united-manufacturing-hub/scopesync/pkg/persistence/sqlite"
	"github.com/united-manufacturing-hub/scopesync/pkg/sentry"
	"github.com/united-manufacturing-hub/scopesync/pkg/transport"
	"github.com/united-manufacturing-hub/scopesync/pkg/version"
)

func main() {
	// Initialize the global logger first thing
	logger.Initialize()

	sentry.InitSentry(version.AppVersion, true)

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting scopesync %s...", version.AppVersion)

	configPath, err := env.GetAsString("CONFIG_PATH", false, constants.DefaultConfigPath)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to read CONFIG_PATH: %w", err)
		os.Exit(1)
	}

	configLog := logger.For(logger.ComponentConfig)

	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, configLog, "Failed to load config from %s: %w", configPath, err)
		os.Exit(1)
	}

	configLog.Infof("Loaded config from %s (policy %s, persistence %s)", configPath, cfg.DataManager.OverridePolicy, cfg.Persistence.Driver)

	// the file may ask for a different level or format than the environment
	logger.Configure(cfg.Logging.Level, logger.ParseFormat(cfg.Logging.Format, logger.FormatConsole))
	log = logger.For(logger.ComponentCore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsPort > 0 {
		server := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.MetricsPort), log)
		defer shutdown(log, "metrics server", server.Shutdown)
	}

	persist, err := openPersistence(cfg.Persistence)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to open persistence: %w", err)
		os.Exit(1)
	}
	defer shutdown(log, "persistence", persist.Close)

	requester := transport.NewHTTPRequester(transport.HTTPConfig{
		BaseURL:     cfg.Transport.BaseURL,
		Timeout:     cfg.Transport.Timeout,
		InsecureTLS: cfg.Transport.InsecureTLS,
		Gzip:        cfg.Transport.Gzip,
		Header:      cfg.Transport.Header,
	}, logger.For(logger.ComponentTransport))

	managerCfg, err := datamanager.ConfigFrom(cfg)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Invalid data manager config: %w", err)
		os.Exit(1)
	}

	manager, err := datamanager.New(managerCfg, requester, persist, logger.For(logger.ComponentDataManager))
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to create data manager: %w", err)
		os.Exit(1)
	}

	if cfg.Retry.Enabled {
		retrier := backoff.NewRetrier(backoff.RetrierConfig{
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
			MaxRetries:      cfg.Retry.MaxRetries,
		}, logger.For(logger.ComponentRetrier))

		if _, err := manager.RegisterView("", retrier); err != nil {
			sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Failed to register retry view: %w", err)
			os.Exit(1)
		}
	}

	n, err := manager.Hydrate(ctx)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to hydrate records: %w", err)
	} else {
		log.Infof("Restored %d records", n)
	}

	if cfg.InspectPort > 0 {
		server := inspect.NewServer(fmt.Sprintf(":%d", cfg.InspectPort), manager, logger.For(logger.ComponentInspect))
		server.Start()
		defer shutdown(log, "inspection server", server.Shutdown)
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	cancelCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	cancelled, err := manager.CancelAll(cancelCtx, false)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to cancel pending operations: %w", err)
	}

	log.Infof("Cancelled %d operations, scopesync completed", cancelled)
	_ = logger.Sync()
}

func openPersistence(cfg config.PersistenceConfig) (persistence.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.NewSQLiteStore(cfg.Path)
	case config.DriverMemory, "":
		return memory.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
	}
}

func shutdown(log *zap.SugaredLogger, name string, fn func(context.Context) error) {
	// a container stop grants a few seconds, finish well before that
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := fn(ctx); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Failed to shut down %s: %w", name, err)
	}
}
