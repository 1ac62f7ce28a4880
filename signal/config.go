package signal

import (
	"fmt"
	"slices"

	"github.com/rustyeddy/bullion/market"
)

// Band is an inclusive [Min, Max] range. Max 0 means no upper bound.
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

func (b Band) Contains(v float64) bool {
	return v >= b.Min && (b.Max <= 0 || v <= b.Max)
}

type Config struct {
	// AllowedSessions empty allows every session.
	AllowedSessions []market.Session `yaml:"allowed_sessions" json:"allowed_sessions"`
	SkipHours       bool             `yaml:"skip_hours" json:"skip_hours"`
	SkipHourStart   int              `yaml:"skip_hour_start" json:"skip_hour_start"`
	SkipHourEnd     int              `yaml:"skip_hour_end" json:"skip_hour_end"`

	// ATR range in which mean-reversion detection is tried first.
	MeanReversionATR Band `yaml:"mean_reversion_atr" json:"mean_reversion_atr"`

	ShortMRMaxMacro       int     `yaml:"short_mr_max_macro" json:"short_mr_max_macro"`
	ShortMRMaxADX         float64 `yaml:"short_mr_max_adx" json:"short_mr_max_adx"`
	ShortMRExceptionMacro int     `yaml:"short_mr_exception_macro" json:"short_mr_exception_macro"`
	ShortMRExceptionADX   float64 `yaml:"short_mr_exception_adx" json:"short_mr_exception_adx"`
	ShortTFMaxMacro       int     `yaml:"short_tf_max_macro" json:"short_tf_max_macro"`
	ShortTFADX            Band    `yaml:"short_tf_adx" json:"short_tf_adx"`

	UseConfluence bool    `yaml:"use_confluence" json:"use_confluence"`
	MinConfluence float64 `yaml:"min_confluence" json:"min_confluence"`
	UseMomentum   bool    `yaml:"use_momentum" json:"use_momentum"`

	// SessionADX is the admissible ADX per session. Sessions without an
	// entry are not filtered.
	SessionADX map[market.Session]Band `yaml:"session_adx" json:"session_adx"`

	UseConfidence  bool    `yaml:"use_confidence" json:"use_confidence"`
	MinConfidence  float64 `yaml:"min_confidence" json:"min_confidence"`
	ConfidenceBase float64 `yaml:"confidence_base" json:"confidence_base"`
	ConfidenceADX  Band    `yaml:"confidence_adx" json:"confidence_adx"`
	ADXBonus       float64 `yaml:"adx_bonus" json:"adx_bonus"`
	ConfidenceATR  Band    `yaml:"confidence_atr" json:"confidence_atr"`
	ATRBonus       float64 `yaml:"atr_bonus" json:"atr_bonus"`

	UseDynamicStop bool    `yaml:"use_dynamic_stop" json:"use_dynamic_stop"`
	StopATRMult    float64 `yaml:"stop_atr_mult" json:"stop_atr_mult"`
	MaxStopATRMult float64 `yaml:"max_stop_atr_mult" json:"max_stop_atr_mult"`
	SwingBuffer    float64 `yaml:"swing_buffer" json:"swing_buffer"`

	// MRTP2Extension pushes tp2 past the mid band by this fraction of the
	// entry to mid-band distance.
	MRTP2Extension float64 `yaml:"mr_tp2_extension" json:"mr_tp2_extension"`

	UseConfirmation bool `yaml:"use_confirmation" json:"use_confirmation"`
}

func DefaultConfig() Config {
	return Config{
		AllowedSessions:       []market.Session{market.SessionLondon, market.SessionOverlap, market.SessionNewYork},
		SkipHourStart:         21,
		SkipHourEnd:           23,
		MeanReversionATR:      Band{Min: 2, Max: 6},
		ShortMRMaxMacro:       -1,
		ShortMRMaxADX:         25,
		ShortMRExceptionMacro: -3,
		ShortMRExceptionADX:   20,
		ShortTFMaxMacro:       -2,
		ShortTFADX:            Band{Min: 20, Max: 45},
		MinConfluence:         50,
		SessionADX: map[market.Session]Band{
			market.SessionAsian:   {Min: 15, Max: 35},
			market.SessionLondon:  {Min: 18, Max: 45},
			market.SessionOverlap: {Min: 20, Max: 50},
			market.SessionNewYork: {Min: 18, Max: 45},
		},
		UseConfidence:   true,
		MinConfidence:   60,
		ConfidenceBase:  50,
		ConfidenceADX:   Band{Min: 20, Max: 40},
		ADXBonus:        15,
		ConfidenceATR:   Band{Min: 3, Max: 12},
		ATRBonus:        10,
		UseDynamicStop:  true,
		StopATRMult:     1.5,
		MaxStopATRMult:  3.0,
		SwingBuffer:     0.5,
		MRTP2Extension:  0.5,
		UseConfirmation: true,
	}
}

func (c Config) Validate() error {
	for _, s := range c.AllowedSessions {
		if _, ok := market.ParseSession(string(s)); !ok {
			return fmt.Errorf("signal: unknown session %q", s)
		}
	}
	if c.SkipHours && (c.SkipHourStart < 0 || c.SkipHourStart > 23 || c.SkipHourEnd < 0 || c.SkipHourEnd > 23) {
		return fmt.Errorf("signal: skip hours must be within 0-23")
	}
	if c.UseDynamicStop && (c.StopATRMult <= 0 || c.MaxStopATRMult < c.StopATRMult) {
		return fmt.Errorf("signal: need 0 < stop_atr_mult <= max_stop_atr_mult")
	}
	if c.MRTP2Extension < 0 {
		return fmt.Errorf("signal: mr_tp2_extension must be >= 0")
	}
	return nil
}

func (c Config) sessionAllowed(s market.Session) bool {
	if len(c.AllowedSessions) == 0 {
		return true
	}
	return slices.Contains(c.AllowedSessions, s)
}

// skipped reports whether hour falls in [SkipHourStart, SkipHourEnd). The
// window may wrap midnight.
func (c Config) skipped(hour int) bool {
	if !c.SkipHours || c.SkipHourStart == c.SkipHourEnd {
		return false
	}
	if c.SkipHourStart < c.SkipHourEnd {
		return hour >= c.SkipHourStart && hour < c.SkipHourEnd
	}
	return hour >= c.SkipHourStart || hour < c.SkipHourEnd
}
