// Package journal records trades placed by the replicator and the signal widget.
package journal

import (
	"sync"
	"time"
)

// Trade is one purchase placed on behalf of a source account or a signal.
type Trade struct {
	Source        string    `json:"source"`
	SourceTxID    int64     `json:"source_transaction_id,omitempty"`
	Account       string    `json:"account"`
	Route         string    `json:"route"`
	Symbol        string    `json:"symbol"`
	ContractType  string    `json:"contract_type"`
	ContractID    int64     `json:"contract_id"`
	Stake         float64   `json:"stake"`
	BuyPrice      float64   `json:"buy_price"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	PlacedAt      time.Time `json:"placed_at"`
}

// Recorder captures placed trades.
type Recorder interface {
	Record(Trade)
}

// Ledger keeps the most recent trades in memory.
type Ledger struct {
	mu     sync.Mutex
	limit  int
	trades []Trade
}

// NewLedger creates a ledger retaining at most limit trades (unbounded when limit <= 0).
func NewLedger(limit int) *Ledger {
	if limit < 0 {
		limit = 0
	}
	return &Ledger{limit: limit, trades: make([]Trade, 0, min(limit, 64))}
}

// Record appends a trade, evicting the oldest beyond the limit.
func (l *Ledger) Record(trade Trade) {
	l.mu.Lock()
	l.trades = append(l.trades, trade)
	if l.limit > 0 && len(l.trades) > l.limit {
		l.trades = append(l.trades[:0], l.trades[len(l.trades)-l.limit:]...)
	}
	l.mu.Unlock()
}

// Snapshot returns a copy of the retained trades, oldest first.
func (l *Ledger) Snapshot() []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Len reports how many trades are retained.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.trades)
}

// Reset clears all stored trades.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.trades = l.trades[:0]
	l.mu.Unlock()
}

type multi []Recorder

func (m multi) Record(trade Trade) {
	for _, r := range m {
		r.Record(trade)
	}
}

// Multi fans a trade out to every non-nil recorder.
func Multi(recorders ...Recorder) Recorder {
	out := make(multi, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
