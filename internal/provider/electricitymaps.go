/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/carbonwise/internal/forecast"
)

// DefaultElectricityMapsURL is the public Electricity Maps API.
const DefaultElectricityMapsURL = "https://api.electricitymap.org"

const electricityMapsInterval = time.Hour

// ElectricityMaps fetches hourly zone forecasts.
type ElectricityMaps struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// NewElectricityMaps creates a client authenticated with token.
func NewElectricityMaps(baseURL, token string, logger zerolog.Logger) *ElectricityMaps {
	if baseURL == "" {
		baseURL = DefaultElectricityMapsURL
	}
	return &ElectricityMaps{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With().Str("component", "provider-emaps").Logger(),
		now:    time.Now,
	}
}

// Name implements Provider.
func (e *ElectricityMaps) Name() string { return "electricitymaps" }

type emapsForecast struct {
	Zone     string `json:"zone"`
	Forecast []struct {
		CarbonIntensity float64   `json:"carbonIntensity"`
		Datetime        time.Time `json:"datetime"`
	} `json:"forecast"`
	Error string `json:"error"`
}

// GetForecast implements Provider.
func (e *ElectricityMaps) GetForecast(ctx context.Context, region string, horizon time.Duration) (*forecast.Series, error) {
	if e.token == "" {
		return nil, unavailable(e.Name(), region, errors.New("no API token configured"))
	}
	endpoint := fmt.Sprintf("%s/v3/carbon-intensity/forecast?zone=%s", e.baseURL, url.QueryEscape(region))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, unavailable(e.Name(), region, err)
	}
	req.Header.Set("auth-token", e.token)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, unavailable(e.Name(), region, err)
	}
	defer resp.Body.Close()

	var parsed emapsForecast
	decodeErr := json.NewDecoder(resp.Body).Decode(&parsed)

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusBadRequest:
		return nil, fmt.Errorf("%w: zone %s: %s", ErrInvalidLocation, region, parsed.Error)
	case resp.StatusCode != http.StatusOK:
		return nil, unavailable(e.Name(), region, fmt.Errorf("status %d", resp.StatusCode))
	case decodeErr != nil:
		return nil, unavailable(e.Name(), region, fmt.Errorf("decode response: %w", decodeErr))
	}

	samples := make([]forecast.Sample, 0, len(parsed.Forecast))
	for _, point := range parsed.Forecast {
		samples = append(samples, forecast.Sample{Timestamp: point.Datetime.UTC(), Intensity: point.CarbonIntensity})
	}
	e.logger.Debug().Str("region", region).Int("samples", len(samples)).Msg("fetched forecast")
	return build(e.Name(), region, electricityMapsInterval, samples, e.now(), horizon)
}
