/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/carbonwise/internal/forecast"
)

const (
	// DefaultCarbonIntensityURL is the GB National Grid ESO API.
	DefaultCarbonIntensityURL = "https://api.carbonintensity.org.uk"

	carbonIntensityInterval = 30 * time.Minute
	carbonIntensityTime     = "2006-01-02T15:04Z"
)

// CarbonIntensityUK fetches the 48h regional forecast from
// carbonintensity.org.uk by outward postcode.
type CarbonIntensityUK struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time

	// Postcodes maps region ids to postcodes; unmapped regions are used as
	// postcodes directly.
	Postcodes map[string]string
}

// NewCarbonIntensityUK creates a client. An empty baseURL uses the public API.
func NewCarbonIntensityUK(baseURL string, logger zerolog.Logger) *CarbonIntensityUK {
	if baseURL == "" {
		baseURL = DefaultCarbonIntensityURL
	}
	return &CarbonIntensityUK{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger:    logger.With().Str("component", "provider-ciuk").Logger(),
		now:       time.Now,
		Postcodes: map[string]string{},
	}
}

// Name implements Provider.
func (c *CarbonIntensityUK) Name() string { return "carbonintensity_uk" }

// OutwardPostcode reduces a full postcode to its outward code.
func OutwardPostcode(postcode string) string {
	pc := strings.ToUpper(strings.TrimSpace(postcode))
	if len(pc) > 4 {
		pc = strings.TrimSpace(pc[:len(pc)-3])
	}
	return pc
}

func (c *CarbonIntensityUK) requestURL(now time.Time, postcode string) string {
	// The API wants a timestamp just past the half hour it should start from.
	now = now.UTC()
	minute := 1
	if now.Minute() > 30 {
		minute = 31
	}
	from := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, time.UTC)
	return fmt.Sprintf("%s/regional/intensity/%s/fw48h/postcode/%s", c.baseURL, from.Format(carbonIntensityTime), postcode)
}

type ciukResponse struct {
	Data *struct {
		Data []struct {
			From      string `json:"from"`
			Intensity struct {
				Forecast float64 `json:"forecast"`
			} `json:"intensity"`
		} `json:"data"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetForecast implements Provider.
func (c *CarbonIntensityUK) GetForecast(ctx context.Context, region string, horizon time.Duration) (*forecast.Series, error) {
	postcode, ok := c.Postcodes[region]
	if !ok {
		postcode = region
	}
	outward := OutwardPostcode(postcode)
	if outward != strings.ToUpper(strings.TrimSpace(postcode)) {
		c.logger.Debug().Str("postcode", postcode).Str("outward", outward).Msg("truncated postcode")
	}

	now := c.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(now, outward), nil)
	if err != nil {
		return nil, unavailable(c.Name(), region, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable(c.Name(), region, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, unavailable(c.Name(), region, err)
	}

	var parsed ciukResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, unavailable(c.Name(), region, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err))
	}
	if parsed.Error != nil && strings.Contains(strings.ToLower(parsed.Error.Message), "postcode") {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidLocation, outward, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, unavailable(c.Name(), region, fmt.Errorf("status %d", resp.StatusCode))
	}
	if parsed.Data == nil || len(parsed.Data.Data) == 0 {
		return nil, fmt.Errorf("%w: %s: empty forecast", ErrInvalidLocation, outward)
	}

	samples := make([]forecast.Sample, 0, len(parsed.Data.Data))
	for _, point := range parsed.Data.Data {
		ts, err := time.Parse(carbonIntensityTime, point.From)
		if err != nil {
			return nil, unavailable(c.Name(), region, fmt.Errorf("parse timestamp %q: %w", point.From, err))
		}
		samples = append(samples, forecast.Sample{Timestamp: ts, Intensity: point.Intensity.Forecast})
	}
	return build(c.Name(), region, carbonIntensityInterval, samples, now, horizon)
}
