/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/carbonwise/internal/forecast"
)

// Provider kinds accepted in routing files.
const (
	KindMock              = "mock"
	KindStatic            = "static"
	KindCarbonIntensityUK = "carbonintensity_uk"
	KindElectricityMaps   = "electricitymaps"
)

// Router dispatches each region to its configured provider.
type Router struct {
	routes   map[string]Provider
	fallback Provider
}

// NewRouter creates a router. fallback may be nil, in which case unrouted
// regions are unavailable.
func NewRouter(fallback Provider) *Router {
	return &Router{routes: make(map[string]Provider), fallback: fallback}
}

// Route sends region to p.
func (r *Router) Route(region string, p Provider) *Router {
	r.routes[region] = p
	return r
}

// Regions lists explicitly routed regions.
func (r *Router) Regions() []string {
	out := make([]string, 0, len(r.routes))
	for region := range r.routes {
		out = append(out, region)
	}
	sort.Strings(out)
	return out
}

// Name implements Provider.
func (r *Router) Name() string { return "router" }

// For returns the provider responsible for region.
func (r *Router) For(region string) (Provider, bool) {
	if p, ok := r.routes[region]; ok {
		return p, true
	}
	return r.fallback, r.fallback != nil
}

// GetForecast implements Provider.
func (r *Router) GetForecast(ctx context.Context, region string, horizon time.Duration) (*forecast.Series, error) {
	p, ok := r.For(region)
	if !ok {
		return nil, unavailable(r.Name(), region, errors.New("no provider routed"))
	}
	return p.GetForecast(ctx, region, horizon)
}

// RoutingFile is the YAML region routing layout.
//
//	default: mock
//	replay: ./forecasts.yaml
//	postcodes:
//	  GB-NW: M15 6BH
//	routes:
//	  GB-NW: carbonintensity_uk
//	  DE: electricitymaps
type RoutingFile struct {
	Default   string            `yaml:"default"`
	Replay    string            `yaml:"replay,omitempty"`
	Postcodes map[string]string `yaml:"postcodes,omitempty"`
	Routes    map[string]string `yaml:"routes"`
}

// Options carries credentials and endpoints for the real data sources.
type Options struct {
	ElectricityMapsURL   string
	ElectricityMapsToken string
	CarbonIntensityURL   string
	Now                  func() time.Time
}

// LoadRouter reads a routing file and builds the router.
func LoadRouter(path string, opts Options, logger zerolog.Logger) (*Router, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing file: %w", err)
	}
	var file RoutingFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse routing file: %w", err)
	}
	return BuildRouter(file, opts, logger)
}

// BuildRouter instantiates each referenced provider kind once.
func BuildRouter(file RoutingFile, opts Options, logger zerolog.Logger) (*Router, error) {
	built := make(map[string]Provider)
	get := func(kind string) (Provider, error) {
		if p, ok := built[kind]; ok {
			return p, nil
		}
		p, err := newKind(kind, file, opts, logger)
		if err != nil {
			return nil, err
		}
		built[kind] = p
		return p, nil
	}

	defaultKind := file.Default
	if defaultKind == "" {
		defaultKind = KindMock
	}
	fallback, err := get(defaultKind)
	if err != nil {
		return nil, fmt.Errorf("default provider: %w", err)
	}

	router := NewRouter(fallback)
	for region, kind := range file.Routes {
		p, err := get(kind)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", region, err)
		}
		router.Route(region, p)
	}
	return router, nil
}

// New builds a single provider of the given kind without a routing file.
func New(kind string, opts Options, logger zerolog.Logger) (Provider, error) {
	return newKind(kind, RoutingFile{}, opts, logger)
}

func newKind(kind string, file RoutingFile, opts Options, logger zerolog.Logger) (Provider, error) {
	switch kind {
	case KindMock:
		m := NewMock()
		if opts.Now != nil {
			m.Now = opts.Now
		}
		return m, nil
	case KindStatic:
		if file.Replay == "" {
			return nil, errors.New("static provider needs a replay file")
		}
		st, err := LoadStatic(file.Replay)
		if err != nil {
			return nil, err
		}
		if opts.Now != nil {
			st.Now = opts.Now
		}
		return st, nil
	case KindCarbonIntensityUK:
		c := NewCarbonIntensityUK(opts.CarbonIntensityURL, logger)
		for region, pc := range file.Postcodes {
			c.Postcodes[region] = pc
		}
		if opts.Now != nil {
			c.now = opts.Now
		}
		return c, nil
	case KindElectricityMaps:
		e := NewElectricityMaps(opts.ElectricityMapsURL, opts.ElectricityMapsToken, logger)
		if opts.Now != nil {
			e.now = opts.Now
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", kind)
	}
}
