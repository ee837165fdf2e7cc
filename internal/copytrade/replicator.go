package copytrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"copytrader-go/internal/derivws"
	"copytrader-go/internal/journal"
	"copytrader-go/internal/metrics"
)

const (
	// DefaultDuration is used when the source transaction carries none.
	DefaultDuration = 5
	// DefaultDurationUnit is ticks.
	DefaultDurationUnit = "t"
	// DefaultCurrency is the quote currency of replicated trades.
	DefaultCurrency = "USD"

	RoutePrimary = "primary"
	RouteMirror  = "mirror"
)

// TradeRequest describes a contract to quote and buy.
type TradeRequest struct {
	Symbol       string
	ContractType string
	Stake        float64
	Duration     int
	DurationUnit string
	Barrier      string
	Currency     string
}

func (r TradeRequest) proposal() derivws.Request {
	duration, unit := r.Duration, r.DurationUnit
	if duration <= 0 {
		duration = DefaultDuration
	}
	if unit == "" {
		unit = DefaultDurationUnit
	}
	currency := r.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	req := derivws.Request{
		"proposal":      1,
		"amount":        r.Stake,
		"basis":         "stake",
		"contract_type": r.ContractType,
		"currency":      currency,
		"duration":      duration,
		"duration_unit": unit,
		"symbol":        r.Symbol,
	}
	if r.Barrier != "" {
		req["barrier"] = r.Barrier
	}
	return req
}

// Purchase is the outcome of a successful quote and buy.
type Purchase struct {
	ProposalID    string
	AskPrice      float64
	ContractID    int64
	BuyPrice      float64
	TransactionID int64
	BalanceAfter  float64
	Longcode      string
}

type proposalResult struct {
	ID       string  `json:"id"`
	AskPrice float64 `json:"ask_price"`
}

type buyResult struct {
	ContractID    int64   `json:"contract_id"`
	BuyPrice      float64 `json:"buy_price"`
	TransactionID int64   `json:"transaction_id"`
	BalanceAfter  float64 `json:"balance_after"`
	Longcode      string  `json:"longcode"`
}

// PlaceTrade quotes req on conn and immediately buys the quoted contract at its ask
// price on the same connection. Neither step is retried.
func PlaceTrade(ctx context.Context, conn Conn, req TradeRequest) (Purchase, error) {
	resp, err := conn.Call(ctx, req.proposal())
	if err != nil {
		return Purchase{}, fmt.Errorf("%w: %w", ErrQuote, err)
	}
	var quote proposalResult
	if err := resp.Decode("proposal", &quote); err != nil {
		return Purchase{}, fmt.Errorf("%w: %w", ErrQuote, err)
	}

	resp, err = conn.Call(ctx, derivws.Request{"buy": quote.ID, "price": quote.AskPrice})
	if err != nil {
		return Purchase{}, fmt.Errorf("%w: %w", ErrPurchase, err)
	}
	var bought buyResult
	if err := resp.Decode("buy", &bought); err != nil {
		return Purchase{}, fmt.Errorf("%w: %w", ErrPurchase, err)
	}
	return Purchase{
		ProposalID:    quote.ID,
		AskPrice:      quote.AskPrice,
		ContractID:    bought.ContractID,
		BuyPrice:      bought.BuyPrice,
		TransactionID: bought.TransactionID,
		BalanceAfter:  bought.BalanceAfter,
		Longcode:      bought.Longcode,
	}, nil
}

// ScaleStake multiplies a source stake and rounds to cents.
func ScaleStake(amount, multiplier float64) float64 {
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	scaled, _ := decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(multiplier)).Round(2).Float64()
	return scaled
}

// failureStage labels a placement error for metrics.
func failureStage(err error) string {
	switch {
	case errors.Is(err, ErrRequestTimeout):
		return "timeout"
	case errors.Is(err, ErrQuote):
		return "quote"
	case errors.Is(err, ErrPurchase):
		return "purchase"
	case errors.Is(err, ErrSubscription):
		return "subscribe"
	case errors.Is(err, ErrStakeOutOfBounds):
		return "limits"
	default:
		return "other"
	}
}

// tradeSink receives the outcome of replications for one controller session.
type tradeSink interface {
	tradePlaced(session uint64) bool
	profitRealized(session uint64, profit float64)
}

type replication struct {
	session uint64
	target  Conn
	route   string
	source  *TraderConnection
	tx      Transaction
	cfg     Config
}

// Replicator turns accepted source transactions into quote+buy pairs and starts a
// contract monitor for every purchase.
type Replicator struct {
	log      zerolog.Logger
	now      func() time.Time
	recorder journal.Recorder
	sink     tradeSink
	currency string
	timeout  time.Duration
}

func (r *Replicator) replicate(ctx context.Context, job replication) error {
	stake := ScaleStake(job.tx.Stake(), job.cfg.Multiplier)
	log := r.log.With().
		Str("source", job.source.Token()).
		Int64("source_tx", job.tx.TransactionID).
		Str("symbol", job.tx.Symbol).
		Str("contract_type", job.tx.ContractType).
		Float64("stake", stake).
		Str("route", job.route).
		Logger()

	if limits := job.cfg.Limits(); !limits.Allow(stake) {
		if job.cfg.RevalidateScaledStake {
			metrics.ReplicationFailuresTotal.WithLabelValues(failureStage(ErrStakeOutOfBounds)).Inc()
			log.Warn().Msg("scaled stake outside bounds, not replicating")
			return ErrStakeOutOfBounds
		}
		log.Warn().Msg("scaled stake outside configured bounds, replicating anyway")
	}

	req := TradeRequest{
		Symbol:       job.tx.Symbol,
		ContractType: job.tx.ContractType,
		Stake:        stake,
		Duration:     job.tx.Duration,
		DurationUnit: job.tx.DurationUnit,
		Barrier:      string(job.tx.Barrier),
		Currency:     r.currency,
	}
	if req.Duration <= 0 {
		req.Duration, req.DurationUnit = DefaultDuration, DefaultDurationUnit
	}

	purchase, err := PlaceTrade(ctx, job.target, req)
	if err != nil {
		metrics.ReplicationFailuresTotal.WithLabelValues(failureStage(err)).Inc()
		log.Warn().Err(err).Msg("replication aborted")
		return err
	}

	if !r.sink.tradePlaced(job.session) {
		log.Info().Int64("contract_id", purchase.ContractID).Msg("purchase completed after session ended")
		return nil
	}
	metrics.CopiedTradesTotal.WithLabelValues(job.route).Inc()
	log.Info().Int64("contract_id", purchase.ContractID).Float64("buy_price", purchase.BuyPrice).Msg("trade replicated")

	if r.recorder != nil {
		r.recorder.Record(journal.Trade{
			Source:        job.source.Token(),
			SourceTxID:    job.tx.TransactionID,
			Account:       job.source.Account().LoginID,
			Route:         job.route,
			Symbol:        req.Symbol,
			ContractType:  req.ContractType,
			ContractID:    purchase.ContractID,
			Stake:         stake,
			BuyPrice:      purchase.BuyPrice,
			TransactionID: purchase.TransactionID,
			PlacedAt:      r.now(),
		})
	}

	monitor := &ContractMonitor{
		conn:       job.target,
		contractID: purchase.ContractID,
		log:        log,
		onSettled: func(profit float64) {
			r.sink.profitRealized(job.session, profit)
		},
	}
	subCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := monitor.Start(subCtx); err != nil {
		metrics.ReplicationFailuresTotal.WithLabelValues(failureStage(err)).Inc()
		log.Warn().Err(err).Int64("contract_id", purchase.ContractID).Msg("contract monitor not started")
	}
	return nil
}
