/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/carbonwise/internal/cache"
	"github.com/friendsincode/carbonwise/internal/forecast"
)

// Cached serves forecasts from Redis before asking the wrapped provider.
// Cache failures fall through to the provider.
type Cached struct {
	inner  Provider
	cache  *cache.Cache
	logger zerolog.Logger
	now    func() time.Time
}

// NewCached wraps inner with c.
func NewCached(inner Provider, c *cache.Cache, logger zerolog.Logger) *Cached {
	return &Cached{
		inner:  inner,
		cache:  c,
		logger: logger.With().Str("component", "provider-cache").Logger(),
		now:    time.Now,
	}
}

// Name implements Provider.
func (c *Cached) Name() string { return c.inner.Name() }

// GetForecast implements Provider.
func (c *Cached) GetForecast(ctx context.Context, region string, horizon time.Duration) (*forecast.Series, error) {
	if s, ok := c.cache.GetForecast(ctx, c.inner.Name(), region, horizon); ok {
		if tail, ok := s.From(c.now()); ok && tail.Region() == region {
			return tail, nil
		}
	}

	s, err := c.inner.GetForecast(ctx, region, horizon)
	if err != nil {
		return nil, err
	}
	if err := c.cache.SetForecast(ctx, c.inner.Name(), region, horizon, s); err != nil {
		c.logger.Debug().Err(err).Str("region", region).Msg("forecast not cached")
	}
	return s, nil
}

// Invalidate drops cached forecasts for region so the next fetch goes to
// the provider.
func (c *Cached) Invalidate(ctx context.Context, region string) error {
	return c.cache.InvalidateRegion(ctx, c.inner.Name(), region)
}
