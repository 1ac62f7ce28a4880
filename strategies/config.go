// Package strategies holds reference collaborators for the decision engine:
// pattern detectors, a rule-based validator, quality and confluence scoring,
// a position manager and adaptive sizing. They read only market.Context, so
// replay and live feeds drive them the same way.
package strategies

import (
	"errors"
	"fmt"
)

type Config struct {
	// TrendSet picks the trend-following detectors, see ByName.
	TrendSet string `yaml:"trend_set" json:"trend_set"`

	// StopATR is the stop distance in ATR when no structure is available.
	StopATR    float64 `yaml:"stop_atr" json:"stop_atr"`
	StopBuffer float64 `yaml:"stop_buffer" json:"stop_buffer"`

	// Pin bar: the rejection wick is at least PinWickRatio bodies long
	// and at least PinRangeShare of the bar range.
	PinWickRatio  float64 `yaml:"pin_wick_ratio" json:"pin_wick_ratio"`
	PinRangeShare float64 `yaml:"pin_range_share" json:"pin_range_share"`

	// BandATR is how far from the mid band, in ATR, price must stretch
	// before a band reversion fires.
	BandATR float64 `yaml:"band_atr" json:"band_atr"`

	// A range box is a swing window no wider than RangeMaxATR; entries fire
	// within RangeEdge (share of the box height) of either edge.
	RangeMaxATR float64 `yaml:"range_max_atr" json:"range_max_atr"`
	RangeEdge   float64 `yaml:"range_edge" json:"range_edge"`

	MinTrendADX float64 `yaml:"min_trend_adx" json:"min_trend_adx"`
	MaxRangeADX float64 `yaml:"max_range_adx" json:"max_range_adx"`

	// Position management.
	Breakeven  bool    `yaml:"breakeven" json:"breakeven"`
	TrailATR   float64 `yaml:"trail_atr" json:"trail_atr"`
	ExitMacro  int     `yaml:"exit_macro" json:"exit_macro"`
	ExitOnFlip bool    `yaml:"exit_on_flip" json:"exit_on_flip"`

	// Adaptive sizing over the last SizingWindow results.
	SizingWindow int     `yaml:"sizing_window" json:"sizing_window"`
	MinSizing    float64 `yaml:"min_sizing" json:"min_sizing"`
	MaxSizing    float64 `yaml:"max_sizing" json:"max_sizing"`
}

func DefaultConfig() Config {
	return Config{
		TrendSet:      "all",
		StopATR:       1.5,
		StopBuffer:    0.5,
		PinWickRatio:  2.0,
		PinRangeShare: 0.6,
		BandATR:       1.5,
		RangeMaxATR:   4.0,
		RangeEdge:     0.2,
		MinTrendADX:   20,
		MaxRangeADX:   30,
		Breakeven:     true,
		TrailATR:      2.0,
		ExitMacro:     3,
		ExitOnFlip:    true,
		SizingWindow:  10,
		MinSizing:     0.5,
		MaxSizing:     1.25,
	}
}

func (c Config) Validate() error {
	var errs []error
	if _, err := ByName(c.TrendSet, c); err != nil {
		errs = append(errs, err)
	}
	if c.StopATR <= 0 {
		errs = append(errs, errors.New("strategies: stop_atr must be > 0"))
	}
	if c.RangeEdge < 0 || c.RangeEdge > 0.5 {
		errs = append(errs, errors.New("strategies: range_edge must be in [0,0.5]"))
	}
	if c.MinSizing < 0 || (c.MaxSizing > 0 && c.MaxSizing < c.MinSizing) {
		errs = append(errs, fmt.Errorf("strategies: sizing bounds [%v,%v] are inverted", c.MinSizing, c.MaxSizing))
	}
	return errors.Join(errs...)
}
