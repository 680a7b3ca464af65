/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/carbonwise/internal/cache"
	"github.com/friendsincode/carbonwise/internal/config"
	"github.com/friendsincode/carbonwise/internal/eventbus"
	"github.com/friendsincode/carbonwise/internal/events"
	"github.com/friendsincode/carbonwise/internal/provider"
	"github.com/friendsincode/carbonwise/internal/scheduler"
	"github.com/friendsincode/carbonwise/internal/storage"
)

// Policy maps configuration onto scheduler tunables.
func Policy(cfg *config.Config) scheduler.Policy {
	p := scheduler.DefaultPolicy()
	p.Horizon = cfg.Horizon
	p.Epsilon = cfg.Epsilon
	p.ReoptimizeInterval = cfg.ReoptimizeInterval
	p.FetchTimeout = cfg.FetchTimeout
	p.TickInterval = cfg.TickInterval
	p.DefaultRegion = cfg.DefaultRegion
	p.PUE = cfg.PUE
	return p
}

// Forecasts is the provider chain built from configuration.
type Forecasts struct {
	Provider provider.Provider
	// Cached is nil when caching is off.
	Cached *provider.Cached
	cache  *cache.Cache
}

// Close releases the cache connection.
func (f *Forecasts) Close() error {
	if f.cache == nil {
		return nil
	}
	return f.cache.Close()
}

// NewForecasts builds the forecast provider: a region router when a
// routing file is configured, otherwise a single provider kind, wrapped in
// the Redis cache when enabled.
func NewForecasts(cfg *config.Config, logger zerolog.Logger) (*Forecasts, error) {
	opts := provider.Options{
		ElectricityMapsURL:   cfg.ElectricityMapsURL,
		ElectricityMapsToken: cfg.ElectricityMapsToken,
		CarbonIntensityURL:   cfg.CarbonIntensityURL,
	}

	var (
		p   provider.Provider
		err error
	)
	if cfg.ProvidersFile != "" {
		p, err = provider.LoadRouter(cfg.ProvidersFile, opts, logger)
	} else {
		p, err = provider.New(cfg.ProviderKind, opts, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("forecast provider: %w", err)
	}

	f := &Forecasts{Provider: p}
	if !cfg.CacheEnabled {
		return f, nil
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = cfg.RedisAddr
	cacheCfg.RedisPassword = cfg.RedisPassword
	cacheCfg.RedisDB = cfg.RedisDB
	cacheCfg.ForecastTTL = cfg.CacheTTL
	c, err := cache.New(cacheCfg, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		return f, nil
	}
	f.cache = c
	f.Cached = provider.NewCached(p, c, logger)
	f.Provider = f.Cached
	return f, nil
}

// NewBroker builds the configured event bus. The distributed buses fall
// back to local delivery when their transport is unreachable.
func NewBroker(cfg *config.Config, nodeID string, logger zerolog.Logger) (events.Broker, func() error) {
	switch cfg.EventBus {
	case config.EventBusRedis:
		rc := eventbus.DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		bus := eventbus.NewRedisBus(rc, nodeID, logger)
		return bus, bus.Close
	case config.EventBusNATS:
		nc := eventbus.DefaultNATSConfig()
		nc.URL = cfg.NATSURL
		nc.Token = cfg.NATSToken
		bus := eventbus.NewNATSBus(nc, nodeID, logger)
		return bus, bus.Close
	default:
		return events.NewBus(), func() error { return nil }
	}
}

// ConnectNATS opens the connection used by the remote executor and workers.
func ConnectNATS(cfg *config.Config, name string, logger zerolog.Logger) (*nats.Conn, error) {
	nc := eventbus.DefaultNATSConfig()
	nc.URL = cfg.NATSURL
	nc.Token = cfg.NATSToken
	conn, err := nats.Connect(nc.URL, nc.Options(name, logger)...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", nc.URL, err)
	}
	return conn, nil
}

// NewObjectStore opens the archive backend, or returns nil when archiving
// is disabled.
func NewObjectStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (storage.ObjectStore, error) {
	switch cfg.ArchiveBackend {
	case config.ArchiveFilesystem:
		fs := storage.NewFilesystem(cfg.ArchiveDir, logger)
		if err := fs.CheckAccess(ctx); err != nil {
			return nil, fmt.Errorf("archive directory: %w", err)
		}
		return fs, nil
	case config.ArchiveS3:
		return storage.NewS3(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
	default:
		return nil, nil
	}
}
