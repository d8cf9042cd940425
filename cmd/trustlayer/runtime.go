// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/traylinx/trustlayer/internal/audit"
	"github.com/traylinx/trustlayer/internal/config"
	"github.com/traylinx/trustlayer/internal/consensus"
	"github.com/traylinx/trustlayer/internal/fanout"
	"github.com/traylinx/trustlayer/internal/heartbeat"
	"github.com/traylinx/trustlayer/internal/hooks"
	"github.com/traylinx/trustlayer/internal/metrics"
	"github.com/traylinx/trustlayer/internal/responder"
	"github.com/traylinx/trustlayer/internal/round"
)

// defaultConfigFile is loaded from the working directory when -config is not given.
const defaultConfigFile = "config.yaml"

// loadConfig reads .env, the config file and the environment overrides.
// A missing file is only an error when path was given explicitly.
func loadConfig(path string) (*config.Config, error) {
	if wd, err := os.Getwd(); err == nil {
		if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil && !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	optional := false
	if strings.TrimSpace(path) == "" {
		path = defaultConfigFile
		optional = true
	}
	cfg, err := config.LoadConfigOptional(path, optional)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(nil)
	cfg.Sanitize()
	return cfg, nil
}

// runtime holds the components shared by the serve, submit and health commands.
type runtime struct {
	cfg     *config.Config
	client  responder.Client
	metrics *metrics.Metrics
	bus     *hooks.EventBus
	hooks   *hooks.HookManager
	audit   *audit.Logger
	monitor *heartbeat.Monitor
	engine  *round.Engine
}

func fanoutConfig(f config.FanoutConfig) fanout.Config {
	return fanout.Config{
		Quorum:           f.Quorum,
		MaxResponders:    f.MaxResponders,
		MaxConcurrent:    f.MaxConcurrent,
		CallTimeout:      f.CallTimeoutDuration(),
		RoundDeadline:    f.RoundDeadlineDuration(),
		DiscoveryTimeout: f.DiscoveryTimeoutDuration(),
		SessionID:        f.SessionID,
	}.Sanitized()
}

func newRuntime(cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg, metrics: metrics.New(1000)}

	if cfg.Router.URL != "" {
		rt.client = responder.NewRouterClient(cfg.Router.URL,
			responder.WithAPIKey(cfg.Router.APIKey),
			responder.WithCompletionTimeout(cfg.Router.CompletionTimeoutDuration()),
			responder.WithUserAgent(cfg.Router.UserAgent),
		)
	} else {
		log.Warn("no router URL configured, rounds will use synthetic replies")
	}

	catalog := fanout.DefaultCatalog()
	if cfg.Fanout.CatalogFile != "" {
		loaded, err := fanout.LoadCatalog(cfg.Fanout.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalog = loaded
	}

	metric, err := consensus.ParseMetric(cfg.Consensus.Metric)
	if err != nil {
		return nil, fmt.Errorf("failed to parse consensus metric: %w", err)
	}

	rt.audit, err = audit.NewLogger(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		LogPath:    cfg.Audit.Path,
		MaxSizeMB:  cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
		MaxAgeDays: cfg.Audit.MaxAgeDays,
		Compress:   cfg.Audit.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	rt.bus = hooks.NewEventBusWithQueue(cfg.Hooks.QueueSize)
	if cfg.Hooks.Enabled {
		if rt.hooks, err = hooks.NewHookManager(cfg.Hooks.Dir, rt.bus); err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to initialize hooks: %w", err)
		}
		if err := rt.hooks.LoadHooks(); err != nil {
			log.Warnf("failed to load hooks: %v", err)
		}
		rt.hooks.SubscribeToAllEvents()
		if cfg.Hooks.Watch {
			if err := rt.hooks.StartWatcher(); err != nil {
				log.Warnf("hooks hot-reload disabled: %v", err)
			}
		}
	}

	collector := fanout.NewCollector(rt.client, fanoutConfig(cfg.Fanout),
		fanout.NewSynthesizer(cfg.Fanout.SyntheticSeed, catalog))
	rt.engine = round.NewEngine(collector,
		round.WithMetric(metric),
		round.WithThresholds(consensus.Thresholds{
			Agreement: cfg.Consensus.AgreementThreshold,
			Trust:     cfg.Consensus.TrustThreshold,
		}),
		round.WithMetrics(rt.metrics),
		round.WithEvents(rt.bus),
		round.WithAuditLogger(rt.audit),
	)

	if cfg.Heartbeat.Enabled {
		rt.monitor = heartbeat.NewMonitor(rt.client, heartbeat.Config{
			Interval: cfg.Heartbeat.IntervalDuration(),
			Timeout:  cfg.Heartbeat.TimeoutDuration(),
			Quorum:   cfg.Fanout.Quorum,
		}, heartbeat.WithEvents(rt.bus), heartbeat.WithAuditLogger(rt.audit))
	}

	return rt, nil
}

// close releases the runtime in reverse start order.
func (rt *runtime) close() {
	if rt.monitor != nil {
		_ = rt.monitor.Stop()
	}
	if rt.hooks != nil {
		rt.hooks.Close()
	}
	if rt.bus != nil {
		rt.bus.Shutdown()
	}
	if err := rt.audit.Close(); err != nil {
		log.Warnf("failed to close audit log: %v", err)
	}
}
