/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps provider forecasts in Redis so instances and restarts
// share them instead of hitting rate-limited grid APIs.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/carbonwise/internal/forecast"
	"github.com/friendsincode/carbonwise/internal/telemetry"
)

// DefaultForecastTTL matches the refresh cadence of the public grid APIs.
const DefaultForecastTTL = 5 * time.Minute

// KeyForecast prefixes forecast keys: <prefix><provider>:<region>:<horizon>.
const KeyForecast = "carbonwise:cache:forecast:"

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ForecastTTL time.Duration

	// Cooldown is how long Redis is bypassed after a failed command.
	Cooldown time.Duration
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:   "localhost:6379",
		ForecastTTL: DefaultForecastTTL,
		Cooldown:    30 * time.Second,
	}
}

// Cache is a forecast cache that degrades to always-miss while Redis is
// unreachable.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config
	now    func() time.Time

	mu        sync.Mutex
	downUntil time.Time
}

// New connects to Redis. An unreachable server yields a cache that retries
// after the cooldown, not an error.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	if cfg.ForecastTTL <= 0 {
		cfg.ForecastTTL = DefaultForecastTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	c := &Cache{
		client: redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
			PoolSize:     10,
		}),
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
		now:    time.Now,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, forecasts uncached for now")
		c.trip()
		return c, nil
	}
	c.logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.ForecastTTL).Msg("forecast cache ready")
	return c, nil
}

// Disabled returns a cache that never hits.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{
		logger: logger.With().Str("component", "cache").Logger(),
		config: DefaultConfig(),
		now:    time.Now,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// IsAvailable reports whether lookups currently go to Redis.
func (c *Cache) IsAvailable() bool {
	if c.client == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now().Before(c.downUntil)
}

func (c *Cache) trip() {
	c.mu.Lock()
	c.downUntil = c.now().Add(c.config.Cooldown)
	c.mu.Unlock()
}

func (c *Cache) fail(err error, op string) {
	telemetry.ForecastCacheTotal.WithLabelValues("error").Inc()
	c.logger.Warn().Err(err).Str("operation", op).Dur("cooldown", c.config.Cooldown).Msg("redis command failed, bypassing cache")
	c.trip()
}

// ForecastKey builds the cache key for a provider/region/horizon triple.
func ForecastKey(provider, region string, horizon time.Duration) string {
	return fmt.Sprintf("%s%s:%s:%s", KeyForecast, provider, region, horizon)
}

// GetForecast returns a cached series. Undecodable or empty entries are
// misses.
func (c *Cache) GetForecast(ctx context.Context, provider, region string, horizon time.Duration) (*forecast.Series, bool) {
	if !c.IsAvailable() {
		telemetry.ForecastCacheTotal.WithLabelValues("bypass").Inc()
		return nil, false
	}
	data, err := c.client.Get(ctx, ForecastKey(provider, region, horizon)).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.ForecastCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		c.fail(err, "get")
		return nil, false
	}

	var s forecast.Series
	if err := json.Unmarshal(data, &s); err != nil || s.Len() == 0 {
		c.logger.Debug().Err(err).Str("region", region).Msg("discarding unreadable cached forecast")
		telemetry.ForecastCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	telemetry.ForecastCacheTotal.WithLabelValues("hit").Inc()
	return &s, true
}

// SetForecast stores a series for the configured TTL, or until the series
// runs out if that is sooner. Series already in the past are not stored.
func (c *Cache) SetForecast(ctx context.Context, provider, region string, horizon time.Duration, s *forecast.Series) error {
	if !c.IsAvailable() || s == nil || s.Len() == 0 {
		return nil
	}
	ttl := c.ttlFor(s)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal forecast: %w", err)
	}
	if err := c.client.Set(ctx, ForecastKey(provider, region, horizon), data, ttl).Err(); err != nil {
		c.fail(err, "set")
		return err
	}
	return nil
}

func (c *Cache) ttlFor(s *forecast.Series) time.Duration {
	ttl := c.config.ForecastTTL
	if left := s.End().Sub(c.now()); left < ttl {
		ttl = left
	}
	return ttl
}

// InvalidateRegion drops every cached horizon of a region.
func (c *Cache) InvalidateRegion(ctx context.Context, provider, region string) error {
	if !c.IsAvailable() {
		return nil
	}
	pattern := fmt.Sprintf("%s%s:%s:*", KeyForecast, provider, region)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.fail(err, "scan")
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.fail(err, "del")
		return err
	}
	c.logger.Debug().Str("region", region).Int("keys", len(keys)).Msg("forecast cache invalidated")
	return nil
}
