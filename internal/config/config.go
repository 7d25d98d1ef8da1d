// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Upbit describes exchange connectivity. Keys come from the environment, not
// from this file.
type Upbit struct {
	BaseURL      string `yaml:"base_url"`
	WebsocketURL string `yaml:"websocket_url"`
	// FetchRatePerSec throttles per-symbol candle fetches to respect the
	// provider quota.
	FetchRatePerSec float64 `yaml:"fetch_rate_per_sec"`
}

// Telegram configures the notification channel.
type Telegram struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Trading groups the strategy knobs.
type Trading struct {
	ManualHoldings     []string `yaml:"manual_holdings"`
	ExcludeCoins       []string `yaml:"exclude_coins"`
	MaxSlots           int      `yaml:"max_slots"`
	RebalanceIntervalM int      `yaml:"rebalancing_interval_minutes"`
	UniverseSize       int      `yaml:"universe_size"`
	RegimeWindow       int      `yaml:"regime_window"`
	RegimeSymbol       string   `yaml:"regime_symbol"`
	DustThreshold      float64  `yaml:"dust_threshold"`
}

// Backtest configures the historical simulation window.
type Backtest struct {
	Start        string  `yaml:"start"`
	End          string  `yaml:"end"`
	StartingCash float64 `yaml:"starting_cash"`
}

// State locates the persisted files the live engine writes between cycles.
type State struct {
	HoldingsPath string `yaml:"holdings_path"`
	JournalPath  string `yaml:"journal_path"`
	EquityPath   string `yaml:"equity_path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Upbit    Upbit    `yaml:"upbit"`
	Telegram Telegram `yaml:"telegram"`
	Trading  Trading  `yaml:"trading"`
	Backtest Backtest `yaml:"backtest"`
	State    State    `yaml:"state"`
}

// Exclusions returns the symbols the strategy must never trade: configured
// excludes plus manual holdings.
func (c *Config) Exclusions() []string {
	out := make([]string, 0, len(c.Trading.ExcludeCoins)+len(c.Trading.ManualHoldings))
	out = append(out, c.Trading.ExcludeCoins...)
	out = append(out, c.Trading.ManualHoldings...)
	return out
}

// Load reads a YAML file from disk and hydrates a Config struct with
// defaults applied for absent optional fields.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Upbit.BaseURL == "" {
		c.Upbit.BaseURL = "https://api.upbit.com"
	}
	if c.Upbit.WebsocketURL == "" {
		c.Upbit.WebsocketURL = "wss://api.upbit.com/websocket/v1"
	}
	if c.Upbit.FetchRatePerSec <= 0 {
		c.Upbit.FetchRatePerSec = 5
	}
	if c.Trading.MaxSlots <= 0 {
		c.Trading.MaxSlots = 3
	}
	if c.Trading.RebalanceIntervalM <= 0 {
		c.Trading.RebalanceIntervalM = 10080 // weekly
	}
	if c.Trading.UniverseSize <= 0 {
		c.Trading.UniverseSize = 20
	}
	if c.Trading.RegimeWindow <= 0 {
		c.Trading.RegimeWindow = 120
	}
	if c.Trading.RegimeSymbol == "" {
		c.Trading.RegimeSymbol = "KRW-BTC"
	}
	if c.Trading.DustThreshold <= 0 {
		c.Trading.DustThreshold = 10000
	}
	if c.Backtest.StartingCash <= 0 {
		c.Backtest.StartingCash = 1000000
	}
	if c.State.HoldingsPath == "" {
		c.State.HoldingsPath = "data/holdings_data.json"
	}
	if c.State.JournalPath == "" {
		c.State.JournalPath = "data/trades.jsonl"
	}
	if c.State.EquityPath == "" {
		c.State.EquityPath = "data/equity.jsonl"
	}
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
