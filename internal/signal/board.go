package signal

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultBoardSize is how many recent signals are kept.
	DefaultBoardSize = 10
	// PruneInterval is how often Run drops expired signals.
	PruneInterval = time.Second
)

// Board keeps the most recent signals, newest first.
type Board struct {
	mu      sync.Mutex
	size    int
	now     func() time.Time
	signals []Signal
}

// NewBoard creates a board holding at most size signals.
func NewBoard(size int, now func() time.Time) *Board {
	if size <= 0 {
		size = DefaultBoardSize
	}
	if now == nil {
		now = time.Now
	}
	return &Board{size: size, now: now}
}

// Add inserts sig at the front, dropping the oldest beyond the board size.
func (b *Board) Add(sig Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = append([]Signal{sig}, b.signals...)
	if len(b.signals) > b.size {
		b.signals = b.signals[:b.size]
	}
}

// Recent returns a copy of the current signals, newest first.
func (b *Board) Recent() []Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Signal, len(b.signals))
	copy(out, b.signals)
	return out
}

// Prune drops signals whose validity window has elapsed and returns how many were removed.
func (b *Board) Prune(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.signals[:0]
	for _, s := range b.signals {
		if !s.Expired(now) {
			kept = append(kept, s)
		}
	}
	removed := len(b.signals) - len(kept)
	b.signals = kept
	return removed
}

// Run prunes once per PruneInterval until ctx is done.
func (b *Board) Run(ctx context.Context) {
	ticker := time.NewTicker(PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Prune(b.now())
		}
	}
}
