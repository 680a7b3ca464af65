/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package forecast

// Greenness buckets a grid's current carbon intensity.
type Greenness string

const (
	GreennessHigh   Greenness = "high"
	GreennessMedium Greenness = "medium"
	GreennessLow    Greenness = "low"
)

// Classify maps gCO2/kWh to a greenness bucket.
func Classify(intensity float64) Greenness {
	switch {
	case intensity < 200:
		return GreennessHigh
	case intensity < 400:
		return GreennessMedium
	default:
		return GreennessLow
	}
}

// Recommendation is a short operator hint for a greenness bucket.
func (g Greenness) Recommendation() string {
	switch g {
	case GreennessHigh:
		return "run now: clean grid"
	case GreennessMedium:
		return "wait for better conditions"
	default:
		return "defer: carbon-heavy grid"
	}
}
