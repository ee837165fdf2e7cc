package copytrade

import (
	"fmt"
	"strings"

	"copytrader-go/internal/risk"
	"copytrader-go/internal/util"
)

// DefaultMultiplier applies when no stake multiplier is configured.
const DefaultMultiplier = 1.0

// Config is one copy trading session's settings as collected by the UI.
type Config struct {
	Tokens       []string `json:"tokens" yaml:"tokens"`
	Assets       []string `json:"assets,omitempty" yaml:"assets"`
	MinStake     *float64 `json:"minTradeStake,omitempty" yaml:"min_stake"`
	MaxStake     *float64 `json:"maxTradeStake,omitempty" yaml:"max_stake"`
	TradeTypes   []string `json:"tradeTypes,omitempty" yaml:"trade_types"`
	Multiplier   float64  `json:"stakeMultiplier,omitempty" yaml:"multiplier"`
	MirrorToReal bool     `json:"copyToRealAccount,omitempty" yaml:"mirror_to_real"`
	RealToken    string   `json:"realAccountToken,omitempty" yaml:"real_token"`

	// RevalidateScaledStake rejects trades whose multiplied stake falls outside
	// MinStake/MaxStake. When false such trades are replicated with a warning.
	RevalidateScaledStake bool `json:"revalidateScaledStake,omitempty" yaml:"revalidate_scaled_stake"`
}

// Validate checks the invariants Start depends on.
func (c Config) Validate() error {
	if len(c.Tokens) == 0 {
		return fmt.Errorf("%w: at least one trader token is required", ErrConfig)
	}
	if c.MirrorToReal && strings.TrimSpace(c.RealToken) == "" {
		return fmt.Errorf("%w: real account token is required when copying to a real account", ErrConfig)
	}
	if c.Multiplier < 0 {
		return fmt.Errorf("%w: stake multiplier must be positive", ErrConfig)
	}
	if c.MinStake != nil && c.MaxStake != nil && *c.MinStake > *c.MaxStake {
		return fmt.Errorf("%w: minimum stake %.2f exceeds maximum %.2f", ErrConfig, *c.MinStake, *c.MaxStake)
	}
	return nil
}

// Normalized trims and de-duplicates tokens and applies the default multiplier.
func (c Config) Normalized() Config {
	out := c
	out.Tokens = uniqueTrimmed(c.Tokens)
	out.Assets = uniqueTrimmed(c.Assets)
	out.TradeTypes = uniqueTrimmed(c.TradeTypes)
	out.RealToken = strings.TrimSpace(c.RealToken)
	if out.Multiplier == 0 {
		out.Multiplier = DefaultMultiplier
	}
	return out
}

// Limits returns the configured stake bounds.
func (c Config) Limits() risk.Limits {
	return risk.Limits{MinStake: c.MinStake, MaxStake: c.MaxStake}
}

// Redacted returns a copy safe to expose: tokens are masked.
func (c Config) Redacted() Config {
	out := c
	out.Tokens = make([]string, len(c.Tokens))
	for i, tok := range c.Tokens {
		out.Tokens[i] = util.MaskToken(tok)
	}
	if out.RealToken != "" {
		out.RealToken = util.MaskToken(out.RealToken)
	}
	return out
}

func uniqueTrimmed(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
