// Package signal standardizes payloads shared between the tick feed, strategies and the widget.
package signal

import (
	"encoding/json"
	"time"
)

// Tick models the essential pieces of market data consumed by strategies.
type Tick struct {
	Symbol string
	Price  float64
	Size   float64
	Side   int // +1 uptick, -1 downtick, 0 unchanged
	Ts     time.Time
}

// Direction is the contract type a signal recommends.
type Direction string

const (
	Call Direction = "CALL"
	Put  Direction = "PUT"
)

// Confidence grades a signal.
type Confidence string

const (
	Low    Confidence = "LOW"
	Medium Confidence = "MEDIUM"
	High   Confidence = "HIGH"
)

func (c Confidence) rank() int {
	switch c {
	case High:
		return 3
	case Medium:
		return 2
	case Low:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether c is graded min or better.
func (c Confidence) AtLeast(min Confidence) bool {
	return c.rank() >= min.rank()
}

// ParseConfidence maps a label to a Confidence, defaulting to High.
func ParseConfidence(s string) Confidence {
	switch Confidence(s) {
	case Low, Medium, High:
		return Confidence(s)
	default:
		return High
	}
}

// Signal expresses a trading bias produced by a strategy implementation.
type Signal struct {
	ID         string        `json:"id"`
	Timestamp  time.Time     `json:"timestamp"`
	Market     string        `json:"market"`
	Type       Direction     `json:"type"`
	Confidence Confidence    `json:"confidence"`
	Strategy   string        `json:"strategy"`
	EntryPrice *float64      `json:"entryPrice,omitempty"`
	ValidFor   time.Duration `json:"-"`

	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// MarshalJSON encodes ValidFor in seconds under validForSecs.
func (s Signal) MarshalJSON() ([]byte, error) {
	type Alias Signal
	return json.Marshal(struct {
		Alias
		ValidForSecs float64 `json:"validForSecs,omitempty"`
	}{Alias: Alias(s), ValidForSecs: s.ValidFor.Seconds()})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *Signal) UnmarshalJSON(data []byte) error {
	type Alias Signal
	aux := struct {
		*Alias
		ValidForSecs float64 `json:"validForSecs"`
	}{Alias: (*Alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.ValidFor = time.Duration(aux.ValidForSecs * float64(time.Second))
	return nil
}

// Expired reports whether the validity window has elapsed at now. Signals without
// a window never expire on their own.
func (s Signal) Expired(now time.Time) bool {
	if s.ValidFor <= 0 {
		return false
	}
	return !now.Before(s.Timestamp.Add(s.ValidFor))
}

// Grade turns a score into direction and confidence relative to threshold.
func Grade(score, threshold float64) (Direction, Confidence) {
	dir := Call
	if score < 0 {
		dir = Put
		score = -score
	}
	switch {
	case threshold > 0 && score >= 2*threshold:
		return dir, High
	case threshold > 0 && score >= 1.5*threshold:
		return dir, Medium
	default:
		return dir, Low
	}
}
