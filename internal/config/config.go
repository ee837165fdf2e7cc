// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"copytrader-go/internal/copytrade"
	"copytrader-go/internal/signal"
	"copytrader-go/internal/strategy"
	"copytrader-go/internal/widget"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string
	Env         string
	MetricsAddr string
	LogLevel    string
}

// Deriv describes the platform WebSocket endpoint and the primary session.
type Deriv struct {
	Endpoint         string `yaml:"endpoint"`
	AppID            int    `yaml:"app_id"`
	APIToken         string `yaml:"api_token"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
	Currency         string `yaml:"currency"`
}

// RequestTimeout returns the per-call timeout, falling back to ten seconds.
func (d Deriv) RequestTimeout() time.Duration {
	if d.RequestTimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(d.RequestTimeoutMs) * time.Millisecond
}

// Copy holds the default copy trading session and controller tuning.
type Copy struct {
	AutoStart             bool     `yaml:"auto_start"`
	Tokens                []string `yaml:"tokens"`
	Assets                []string `yaml:"assets"`
	MinStake              *float64 `yaml:"min_stake"`
	MaxStake              *float64 `yaml:"max_stake"`
	TradeTypes            []string `yaml:"trade_types"`
	Multiplier            float64  `yaml:"multiplier"`
	MirrorToReal          bool     `yaml:"mirror_to_real"`
	RealToken             string   `yaml:"real_token"`
	RevalidateScaledStake bool     `yaml:"revalidate_scaled_stake"`
	ConnectTimeoutMs      int      `yaml:"connect_timeout_ms"`
	SweepIntervalMs       int      `yaml:"sweep_interval_ms"`
	JournalPath           string   `yaml:"journal_path"`
}

// Session converts the section into a controller configuration.
func (c Copy) Session() copytrade.Config {
	return copytrade.Config{
		Tokens:                c.Tokens,
		Assets:                c.Assets,
		MinStake:              c.MinStake,
		MaxStake:              c.MaxStake,
		TradeTypes:            c.TradeTypes,
		Multiplier:            c.Multiplier,
		MirrorToReal:          c.MirrorToReal,
		RealToken:             c.RealToken,
		RevalidateScaledStake: c.RevalidateScaledStake,
	}
}

// StrategyParams groups tunable knobs for a strategy implementation.
type StrategyParams struct {
	MomentumThreshold  float64 `yaml:"momentum_threshold"`
	MomentumWindowSecs int     `yaml:"momentum_window_secs"`
	MomentumScale      float64 `yaml:"momentum_scale"`
	TrendThreshold     float64 `yaml:"trend_threshold"`
	TrendWindowSecs    int     `yaml:"trend_window_secs"`
	TrendMinTicks      int     `yaml:"trend_min_ticks"`
}

// Strategy converts the YAML parameters into strategy.Params.
func (p StrategyParams) Strategy() strategy.Params {
	return strategy.Params(p)
}

// Signal configures the signal widget.
type Signal struct {
	Enabled       bool           `yaml:"enabled"`
	Markets       []string       `yaml:"markets"`
	Mode          string         `yaml:"mode"`
	Params        StrategyParams `yaml:"params"`
	BoardSize     int            `yaml:"board_size"`
	ValidForSecs  int            `yaml:"valid_for_secs"`
	AutoTrade     bool           `yaml:"auto_trade"`
	MinConfidence string         `yaml:"min_confidence"`
	Stake         float64        `yaml:"stake"`
	Duration      int            `yaml:"duration"`
	DurationUnit  string         `yaml:"duration_unit"`
}

// Widget converts the section into a widget configuration.
func (s Signal) Widget(currency string) widget.Config {
	return widget.Config{
		Markets:       s.Markets,
		ValidFor:      time.Duration(s.ValidForSecs) * time.Second,
		AutoTrade:     s.AutoTrade,
		MinConfidence: signal.ParseConfidence(s.MinConfidence),
		Stake:         s.Stake,
		Duration:      s.Duration,
		DurationUnit:  s.DurationUnit,
		Currency:      currency,
	}
}

// Store locates the local key/value database.
type Store struct {
	Path string `yaml:"path"`
}

// Redis configures the statistics snapshot publisher. An empty address disables it.
type Redis struct {
	Addr              string `yaml:"addr"`
	Password          string `yaml:"password"`
	DB                int    `yaml:"db"`
	Key               string `yaml:"key"`
	PublishIntervalMs int    `yaml:"publish_interval_ms"`
}

// HTTP configures the UI API listener.
type HTTP struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App    App    `yaml:"app"`
	Deriv  Deriv  `yaml:"deriv"`
	Copy   Copy   `yaml:"copy"`
	Signal Signal `yaml:"signal"`
	Store  Store  `yaml:"store"`
	Redis  Redis  `yaml:"redis"`
	HTTP   HTTP   `yaml:"http"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
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
	return &config, nil
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
