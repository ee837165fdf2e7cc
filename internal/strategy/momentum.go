// Package strategy contains tick-based signal generation logic.
package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"copytrader-go/internal/signal"
)

const momentumMinTicks = 3

// Momentum combines uptick/downtick imbalance with price momentum over a sliding window.
type Momentum struct {
	threshold float64
	window    time.Duration
	scale     float64
	mu        sync.Mutex
	series    map[string]*tickSeries
}

// Name returns the identifier for the strategy implementation.
func (s *Momentum) Name() string { return "TickMomentum" }

type tickSeries struct {
	ticks []signal.Tick
}

// NewMomentum builds a Momentum instance. scale stretches the relative price change
// before it is squashed into [-1, 1]; synthetic indices move in basis points.
func NewMomentum(threshold float64, windowSec int, scale float64) *Momentum {
	if threshold <= 0 {
		threshold = 0.25
	}
	if windowSec <= 0 {
		windowSec = 60
	}
	if scale <= 0 {
		scale = 3
	}
	return &Momentum{
		threshold: threshold,
		window:    time.Duration(windowSec) * time.Second,
		scale:     scale,
		series:    make(map[string]*tickSeries),
	}
}

// OnTick returns a signal once the weighted imbalance/momentum score clears the threshold.
func (s *Momentum) OnTick(t signal.Tick) *signal.Signal {
	if t.Symbol == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.series[t.Symbol]
	if ts == nil {
		ts = &tickSeries{}
		s.series[t.Symbol] = ts
	}
	ts.append(t, s.window)
	if len(ts.ticks) < momentumMinTicks {
		return nil
	}

	imbalance, momentum := ts.computeFeatures(t, s.scale)
	score := 0.6*imbalance + 0.4*momentum
	if math.Abs(score) < s.threshold {
		return nil
	}

	dir, conf := signal.Grade(score, s.threshold)
	price := t.Price
	return &signal.Signal{
		Timestamp:  t.Ts,
		Market:     t.Symbol,
		Type:       dir,
		Confidence: conf,
		Strategy:   s.Name(),
		EntryPrice: &price,
		Score:      score,
		Reason:     fmt.Sprintf("imbalance=%.2f momentum=%.2f", imbalance, momentum),
	}
}

func (ts *tickSeries) append(t signal.Tick, window time.Duration) {
	ts.ticks = append(ts.ticks, t)
	cutoff := t.Ts.Add(-window)
	idx := 0
	for i, tk := range ts.ticks {
		if tk.Ts.After(cutoff) {
			idx = i
			break
		}
		idx = i + 1
	}
	if idx > 0 && idx <= len(ts.ticks) {
		ts.ticks = ts.ticks[idx:]
	}
}

func (ts *tickSeries) computeFeatures(latest signal.Tick, scale float64) (float64, float64) {
	if len(ts.ticks) == 0 {
		return 0, 0
	}

	var up, down float64
	for _, tk := range ts.ticks {
		weight := math.Abs(tk.Size)
		if weight == 0 {
			weight = 1
		}
		switch {
		case tk.Side > 0:
			up += weight
		case tk.Side < 0:
			down += weight
		}
	}

	total := up + down
	var imbalance float64
	if total > 0 {
		imbalance = clamp((up-down)/total, -1, 1)
	}

	anchor := ts.ticks[0].Price
	momentum := 0.0
	if anchor > 0 {
		raw := (latest.Price - anchor) / anchor
		momentum = clamp(math.Tanh(raw*scale), -1, 1)
	}

	return imbalance, momentum
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
