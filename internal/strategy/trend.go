package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"copytrader-go/internal/signal"
)

// TrendFollower emits signals when the percent change over a lookback window exceeds a threshold.
type TrendFollower struct {
	threshold    float64
	window       time.Duration
	minTicks     int
	mu           sync.Mutex
	observations map[string]*trendSeries
}

type trendSeries struct {
	ticks []signal.Tick
}

// NewTrendFollower builds a trend-following strategy. At least minTicks ticks must be
// inside the window before it emits.
func NewTrendFollower(threshold float64, windowSecs int, minTicks int) *TrendFollower {
	if threshold <= 0 {
		threshold = 0.05
	}
	if windowSecs <= 0 {
		windowSecs = 180
	}
	if minTicks < 2 {
		minTicks = 2
	}
	return &TrendFollower{
		threshold:    threshold,
		window:       time.Duration(windowSecs) * time.Second,
		minTicks:     minTicks,
		observations: make(map[string]*trendSeries),
	}
}

// Name returns the configured identifier for logging.
func (t *TrendFollower) Name() string { return "TrendFollower" }

// OnTick evaluates the change across the window to decide whether to emit a signal.
func (t *TrendFollower) OnTick(tk signal.Tick) *signal.Signal {
	if tk.Symbol == "" || tk.Price <= 0 {
		return nil
	}

	t.mu.Lock()
	series := t.observations[tk.Symbol]
	if series == nil {
		series = &trendSeries{}
		t.observations[tk.Symbol] = series
	}
	series.append(tk, t.window)
	oldest, latest := series.bounds()
	count := len(series.ticks)
	t.mu.Unlock()

	if count < t.minTicks || oldest.Price <= 0 {
		return nil
	}
	change := (latest.Price - oldest.Price) / oldest.Price
	if math.Abs(change) < t.threshold {
		return nil
	}
	dir, conf := signal.Grade(change, t.threshold)
	price := latest.Price
	return &signal.Signal{
		Timestamp:  tk.Ts,
		Market:     tk.Symbol,
		Type:       dir,
		Confidence: conf,
		Strategy:   t.Name(),
		EntryPrice: &price,
		Score:      change,
		Reason:     fmt.Sprintf("Δ=%.2f%% ticks=%d", change*100, count),
	}
}

func (s *trendSeries) append(tk signal.Tick, window time.Duration) {
	s.ticks = append(s.ticks, tk)
	cutoff := tk.Ts.Add(-window)
	idx := 0
	for i, existing := range s.ticks {
		if existing.Ts.After(cutoff) {
			idx = i
			break
		}
		idx = i + 1
	}
	if idx > 0 && idx <= len(s.ticks) {
		s.ticks = s.ticks[idx:]
	}
}

func (s *trendSeries) bounds() (signal.Tick, signal.Tick) {
	if len(s.ticks) == 0 {
		return signal.Tick{}, signal.Tick{}
	}
	return s.ticks[0], s.ticks[len(s.ticks)-1]
}
