package main

import (
	"fmt"
	"os"

	"github.com/vpnagg/aggregator/internal/telemetry/log"
	"github.com/vpnagg/aggregator/internal/xerrors"
	"github.com/vpnagg/aggregator/pkg/cache"
	"github.com/vpnagg/aggregator/pkg/config"
	"github.com/vpnagg/aggregator/pkg/eventbus"
	"github.com/vpnagg/aggregator/pkg/fetcher"
	"github.com/vpnagg/aggregator/pkg/geoip"
	"github.com/vpnagg/aggregator/pkg/orchestrator"
	"github.com/vpnagg/aggregator/pkg/scorer"
	"github.com/vpnagg/aggregator/pkg/source/store"
	"github.com/vpnagg/aggregator/pkg/source/validator"
	"github.com/vpnagg/aggregator/pkg/tester"
)

// loadConfig loads the configuration from file, auto-generating if needed.
func loadConfig() (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = "config.yaml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		fmt.Printf("config file not found, creating default configuration at: %s\n", configPath)

		cfg := config.DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildOrchestrator wires every collaborator the pipeline needs from cfg,
// the same composition the orchestrator package's tests use, minus the
// httptest-only stand-ins.
func buildOrchestrator(cfg *config.Config) (*orchestrator.Orchestrator, func(), error) {
	if verbose {
		cfg.Logging.Level = "debug"
	}
	log.InitGlobal(log.Config{Level: log.Level(cfg.Logging.Level), Format: log.Format(cfg.Logging.Format)})

	f, err := fetcher.New(fetcher.Config{
		Timeout:          cfg.Fetch.Timeout,
		Retries:          cfg.Fetch.Retries,
		BaseDelay:        cfg.Fetch.BaseDelay,
		MaxDelay:         cfg.Fetch.MaxDelay,
		RateLimit:        cfg.Fetch.RateLimit,
		RateBurst:        cfg.Fetch.RateBurst,
		FailureThreshold: cfg.Fetch.FailureThreshold,
		Cooldown:         cfg.Fetch.Cooldown,
		MaxBodyBytes:     cfg.Fetch.MaxBodyBytes,
		Proxy:            cfg.Fetch.Proxy,
	})
	if err != nil {
		return nil, nil, xerrors.New(xerrors.KindConfig, "building fetcher", err)
	}

	st, err := store.Open(cfg.Output.Dir)
	if err != nil {
		return nil, nil, err
	}

	bus := eventbus.New(256)

	var t *tester.Tester
	if cfg.Test.Enabled {
		t = tester.New(tester.Config{
			ConcurrencyPerProtocol: cfg.Test.ConcurrencyPerProtocol,
			Timeout:                cfg.Test.Timeout,
			MaxPingMS:              cfg.Test.MaxPingMS,
			AppProbes:              cfg.Test.AppProbes,
		})
	}

	c := cache.New(cache.Config{
		L1MaxEntries: cfg.Cache.L1MaxEntries,
		L1MaxBytes:   cfg.Cache.L1MaxBytes,
		L2Bytes:      cfg.Cache.L2Bytes,
	})

	var geo *geoip.Lookup
	if cfg.GeoIP.DBPath != "" {
		geo, err = geoip.Open(cfg.GeoIP.DBPath)
		if err != nil {
			log.Warn("GeoIP database unavailable, country enrichment disabled", "path", cfg.GeoIP.DBPath, "error", err.Error())
			geo = nil
		}
	}

	orch := orchestrator.New(cfg, orchestrator.Deps{
		Store:     st,
		Fetcher:   f,
		Validator: validator.New(f),
		Tester:    t,
		Scorer:    scorer.Default{},
		Bus:       bus,
		Cache:     c,
		GeoIP:     geo,
	})

	cleanup := func() {
		bus.Close()
		c.Close()
		if geo != nil {
			geo.Close()
		}
	}
	return orch, cleanup, nil
}
