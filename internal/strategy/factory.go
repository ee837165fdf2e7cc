package strategy

import (
	"strings"

	sig "copytrader-go/internal/signal"
)

// Strategy defines behaviour shared by strategy implementations used by the widget.
type Strategy interface {
	OnTick(t sig.Tick) *sig.Signal
	Name() string
}

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	MomentumThreshold  float64
	MomentumWindowSecs int
	MomentumScale      float64
	TrendThreshold     float64
	TrendWindowSecs    int
	TrendMinTicks      int
}

// Build returns a strategy implementation matching the configured mode.
func Build(mode string, params Params) Strategy {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "momentum", "tick_momentum":
		return NewMomentum(params.MomentumThreshold, params.MomentumWindowSecs, params.MomentumScale)
	case "trend", "trend_follow", "trend_follower":
		return NewTrendFollower(params.TrendThreshold, params.TrendWindowSecs, params.TrendMinTicks)
	default:
		return NewMomentum(params.MomentumThreshold, params.MomentumWindowSecs, params.MomentumScale)
	}
}
