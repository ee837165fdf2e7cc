// Package widget is the backend of the floating signal widget: it streams ticks for a
// set of markets, runs a strategy over them, posts signals to a board and can fire a
// trade when a signal is strong enough.
package widget

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"copytrader-go/internal/copytrade"
	"copytrader-go/internal/derivws"
	"copytrader-go/internal/journal"
	"copytrader-go/internal/metrics"
	"copytrader-go/internal/signal"
	"copytrader-go/internal/strategy"
)

// RouteSignal labels journal entries placed by the widget.
const RouteSignal = "signal"

const tradeTimeout = 30 * time.Second

// Config controls the widget.
type Config struct {
	Markets       []string
	ValidFor      time.Duration
	AutoTrade     bool
	MinConfidence signal.Confidence
	Stake         float64
	Duration      int
	DurationUnit  string
	Currency      string
}

// Stats summarizes widget activity.
type Stats struct {
	Markets     []string `json:"markets"`
	Strategy    string   `json:"strategy"`
	Ticks       int      `json:"ticks"`
	Signals     int      `json:"signals"`
	AutoTrades  int      `json:"autoTrades"`
	FailedTrade int      `json:"failedTrades"`
	AutoTrading bool     `json:"autoTrading"`
}

type tickPayload struct {
	Symbol string  `json:"symbol"`
	Quote  float64 `json:"quote"`
	Epoch  int64   `json:"epoch"`
}

// Widget owns one tick subscription per market on a platform connection.
type Widget struct {
	conn     copytrade.Conn
	strat    strategy.Strategy
	board    *signal.Board
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
	recorder journal.Recorder

	mu        sync.Mutex
	lastPrice map[string]float64
	inFlight  map[string]bool
	cooldown  map[string]time.Time
	stats     Stats
	wg        sync.WaitGroup
}

// Option configures a Widget.
type Option func(*Widget)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Widget) { w.now = now }
}

// WithIDs overrides signal id generation.
func WithIDs(newID func() string) Option {
	return func(w *Widget) { w.newID = newID }
}

// WithJournal records auto trades.
func WithJournal(r journal.Recorder) Option {
	return func(w *Widget) { w.recorder = r }
}

// New builds a widget over conn.
func New(conn copytrade.Conn, strat strategy.Strategy, board *signal.Board, cfg Config, log zerolog.Logger, opts ...Option) *Widget {
	if cfg.ValidFor <= 0 {
		cfg.ValidFor = 60 * time.Second
	}
	if cfg.MinConfidence == "" {
		cfg.MinConfidence = signal.High
	}
	w := &Widget{
		conn:      conn,
		strat:     strat,
		board:     board,
		cfg:       cfg,
		log:       log.With().Str("component", "widget").Str("strategy", strat.Name()).Logger(),
		now:       time.Now,
		newID:     uuid.NewString,
		lastPrice: make(map[string]float64),
		inFlight:  make(map[string]bool),
		cooldown:  make(map[string]time.Time),
	}
	w.stats.Markets = append([]string(nil), cfg.Markets...)
	w.stats.Strategy = strat.Name()
	w.stats.AutoTrading = cfg.AutoTrade
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run subscribes to every market and processes ticks until ctx is done. A rejected
// subscription ends Run with an error.
func (w *Widget) Run(ctx context.Context) error {
	if len(w.cfg.Markets) == 0 {
		return errors.New("widget: no markets configured")
	}
	stop := w.conn.OnMessage(w.handle)
	defer stop()

	subs := make([]string, 0, len(w.cfg.Markets))
	defer func() {
		for _, id := range subs {
			_ = w.conn.Send(derivws.Request{"forget": id})
		}
		w.wg.Wait()
	}()

	for _, market := range w.cfg.Markets {
		resp, err := w.conn.Call(ctx, derivws.Request{"ticks": market, "subscribe": 1})
		if err != nil {
			return fmt.Errorf("%w: ticks %s: %w", copytrade.ErrSubscription, market, err)
		}
		if resp.SubscriptionID != "" {
			subs = append(subs, resp.SubscriptionID)
		}
		w.handle(resp)
	}
	w.log.Info().Strs("markets", w.cfg.Markets).Bool("auto_trade", w.cfg.AutoTrade).Msg("signal widget running")

	select {
	case <-ctx.Done():
	case <-w.conn.Done():
		return fmt.Errorf("widget: %w", derivws.ErrClosed)
	}
	return nil
}

// Signals returns the recent signals, newest first.
func (w *Widget) Signals() []signal.Signal { return w.board.Recent() }

// Stats returns a snapshot of widget counters.
func (w *Widget) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.stats
	out.Markets = append([]string(nil), w.stats.Markets...)
	return out
}

func (w *Widget) handle(resp derivws.Response) {
	if resp.MsgType != "tick" || resp.Error != nil {
		return
	}
	var payload tickPayload
	if err := resp.Decode("tick", &payload); err != nil || payload.Symbol == "" {
		return
	}

	ts := w.now()
	if payload.Epoch > 0 {
		ts = time.Unix(payload.Epoch, 0)
	}
	w.mu.Lock()
	side := 0
	if prev, ok := w.lastPrice[payload.Symbol]; ok {
		switch {
		case payload.Quote > prev:
			side = 1
		case payload.Quote < prev:
			side = -1
		}
	}
	w.lastPrice[payload.Symbol] = payload.Quote
	w.stats.Ticks++
	w.mu.Unlock()

	sig := w.strat.OnTick(signal.Tick{Symbol: payload.Symbol, Price: payload.Quote, Size: 1, Side: side, Ts: ts})
	if sig == nil {
		return
	}
	sig.ID = w.newID()
	sig.ValidFor = w.cfg.ValidFor
	if sig.Timestamp.IsZero() {
		sig.Timestamp = ts
	}
	w.board.Add(*sig)
	w.mu.Lock()
	w.stats.Signals++
	w.mu.Unlock()
	metrics.SignalsTotal.WithLabelValues(sig.Market, string(sig.Type)).Inc()
	w.log.Info().
		Str("market", sig.Market).
		Str("type", string(sig.Type)).
		Str("confidence", string(sig.Confidence)).
		Float64("score", sig.Score).
		Msg("signal")

	w.maybeTrade(*sig)
}

// maybeTrade fires at most one trade per market at a time, then waits one validity window.
func (w *Widget) maybeTrade(sig signal.Signal) {
	if !w.cfg.AutoTrade || w.cfg.Stake <= 0 || !sig.Confidence.AtLeast(w.cfg.MinConfidence) {
		return
	}
	now := w.now()
	w.mu.Lock()
	if w.inFlight[sig.Market] || now.Before(w.cooldown[sig.Market]) {
		w.mu.Unlock()
		metrics.AutoTradesTotal.WithLabelValues(sig.Market, "skipped").Inc()
		return
	}
	w.inFlight[sig.Market] = true
	w.mu.Unlock()

	req := copytrade.TradeRequest{
		Symbol:       sig.Market,
		ContractType: string(sig.Type),
		Stake:        w.cfg.Stake,
		Duration:     w.cfg.Duration,
		DurationUnit: w.cfg.DurationUnit,
		Currency:     w.cfg.Currency,
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), tradeTimeout)
		defer cancel()
		purchase, err := copytrade.PlaceTrade(ctx, w.conn, req)

		w.mu.Lock()
		w.inFlight[sig.Market] = false
		w.cooldown[sig.Market] = w.now().Add(w.cfg.ValidFor)
		if err != nil {
			w.stats.FailedTrade++
		} else {
			w.stats.AutoTrades++
		}
		w.mu.Unlock()

		if err != nil {
			metrics.AutoTradesTotal.WithLabelValues(sig.Market, "failed").Inc()
			w.log.Warn().Err(err).Str("signal", sig.ID).Str("market", sig.Market).Msg("auto trade failed")
			return
		}
		metrics.AutoTradesTotal.WithLabelValues(sig.Market, "placed").Inc()
		w.log.Info().Str("signal", sig.ID).Int64("contract_id", purchase.ContractID).Float64("buy_price", purchase.BuyPrice).Msg("auto trade placed")
		if w.recorder != nil {
			w.recorder.Record(journal.Trade{
				Source:        sig.ID,
				Route:         RouteSignal,
				Symbol:        req.Symbol,
				ContractType:  req.ContractType,
				ContractID:    purchase.ContractID,
				Stake:         req.Stake,
				BuyPrice:      purchase.BuyPrice,
				TransactionID: purchase.TransactionID,
				PlacedAt:      w.now(),
			})
		}
	}()
}
