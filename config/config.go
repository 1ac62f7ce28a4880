// Package config composes the configuration of every component into one
// file, loaded from YAML or JSON and overridden from the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/bullion/broker"
	"github.com/rustyeddy/bullion/engine"
	"github.com/rustyeddy/bullion/feed"
	"github.com/rustyeddy/bullion/journal"
	"github.com/rustyeddy/bullion/logging"
	"github.com/rustyeddy/bullion/market"
	"github.com/rustyeddy/bullion/notify"
	"github.com/rustyeddy/bullion/position"
	"github.com/rustyeddy/bullion/risk"
	"github.com/rustyeddy/bullion/signal"
	"github.com/rustyeddy/bullion/strategies"
	"github.com/rustyeddy/bullion/trade"
)

// Environment overrides, applied after the file is parsed.
const (
	EnvTelegramToken  = "BULLION_TELEGRAM_TOKEN"
	EnvTelegramChatID = "BULLION_TELEGRAM_CHAT_ID"
	EnvJournalDB      = "BULLION_JOURNAL_DB"
	EnvLogLevel       = "BULLION_LOG_LEVEL"
)

type Config struct {
	Account    AccountConfig `json:"account" yaml:"account"`
	Instrument string        `json:"instrument" yaml:"instrument"`

	Engine     engine.Config        `json:"engine" yaml:"engine"`
	Risk       risk.Config          `json:"risk" yaml:"risk"`
	Monitor    risk.MonitorConfig   `json:"monitor" yaml:"monitor"`
	Signal     signal.Config        `json:"signal" yaml:"signal"`
	Trade      trade.Config         `json:"trade" yaml:"trade"`
	Positions  position.Config      `json:"positions" yaml:"positions"`
	Strategies strategies.Config    `json:"strategies" yaml:"strategies"`
	Feed       feed.Config          `json:"feed" yaml:"feed"`
	Breaker    broker.BreakerConfig `json:"breaker" yaml:"breaker"`

	Journal journal.Config `json:"journal" yaml:"journal"`
	Notify  notify.Config  `json:"notify" yaml:"notify"`
	Metrics MetricsConfig  `json:"metrics" yaml:"metrics"`
	Log     logging.Config `json:"log" yaml:"log"`
}

// AccountConfig seeds the simulated account.
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

type MetricsConfig struct {
	// Addr serves /metrics and /healthz when set, e.g. ":9090".
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "SIM-001",
			Currency: "USD",
			Balance:  10000,
		},
		Instrument: "XAU_USD",
		Engine:     engine.DefaultConfig(),
		Risk:       risk.DefaultConfig(),
		Monitor:    risk.MonitorConfig{MaxTradesPerDay: 5, AlertTimeout: 5 * time.Second},
		Signal:     signal.DefaultConfig(),
		Trade:      trade.DefaultConfig(),
		Positions:  position.DefaultConfig(),
		Strategies: strategies.DefaultConfig(),
		Feed:       feed.DefaultConfig(),
		Breaker: broker.BreakerConfig{
			Name:                "gateway",
			ConsecutiveFailures: 3,
			OpenTimeout:         time.Minute,
		},
		Journal: journal.Config{Type: "none"},
		Notify:  notify.Config{PerMinute: 20, Title: "bullion"},
		Log:     logging.Config{Level: "info"},
	}
}

// LoadFromFile reads a YAML or JSON file over the defaults, applies the
// environment overrides and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile writes YAML for .yaml/.yml paths and indented JSON otherwise.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// LoadEnv loads a dotenv file into the process environment when it exists.
// Variables already set win over the file.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides secrets and deployment settings from the environment.
// Setting BULLION_JOURNAL_DB switches an unset journal to sqlite.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvTelegramToken); v != "" {
		c.Notify.TelegramToken = v
	}
	if v := os.Getenv(EnvTelegramChatID); v != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTelegramChatID, err)
		}
		c.Notify.TelegramChatID = id
	}
	if v := os.Getenv(EnvJournalDB); v != "" {
		c.Journal.DBPath = v
		if c.Journal.Type == "" || c.Journal.Type == "none" {
			c.Journal.Type = "sqlite"
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Meta is the metadata of the configured instrument.
func (c *Config) Meta() (market.InstrumentMeta, error) {
	return market.Lookup(c.Instrument)
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.Account.Currency == "" {
		add(errors.New("account.currency is required"))
	}
	if c.Account.Balance <= 0 {
		add(errors.New("account.balance must be positive"))
	}
	if c.Instrument == "" {
		add(errors.New("instrument is required"))
	} else {
		_, err := c.Meta()
		add(err)
	}
	if c.Engine.BarInterval < 0 {
		add(errors.New("engine.bar_interval must be >= 0"))
	}
	if c.Monitor.MaxTradesPerDay < 0 {
		add(errors.New("monitor.max_trades_per_day must be >= 0"))
	}
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == 0 {
		add(errors.New("notify.telegram_chat_id is required with a telegram token"))
	}

	add(c.Risk.Validate())
	add(c.Signal.Validate())
	add(c.Trade.Validate())
	add(c.Positions.Validate())
	add(c.Strategies.Validate())
	add(c.Feed.Validate())
	add(c.Journal.Validate())

	return errors.Join(errs...)
}
