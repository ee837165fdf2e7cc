package copytrade

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"copytrader-go/internal/derivws"
)

type openContract struct {
	ContractID int64    `json:"contract_id"`
	IsSold     flexBool `json:"is_sold"`
	Status     string   `json:"status"`
	Profit     *float64 `json:"profit"`
}

// ContractMonitor follows one placed contract until it is sold, then reports its
// realized profit once and releases the subscription.
type ContractMonitor struct {
	conn       Conn
	contractID int64
	log        zerolog.Logger
	onSettled  func(profit float64)

	mu      sync.Mutex
	subID   string
	release func()
	settled bool
}

// Start subscribes to the contract's updates on the connection it was bought on.
func (m *ContractMonitor) Start(ctx context.Context) error {
	stop := m.conn.OnMessage(m.handle)
	m.mu.Lock()
	m.release = stop
	m.mu.Unlock()

	resp, err := m.conn.Call(ctx, derivws.Request{
		"proposal_open_contract": 1,
		"contract_id":            m.contractID,
		"subscribe":              1,
	})
	if err != nil {
		stop()
		return fmt.Errorf("%w: contract %d: %w", ErrSubscription, m.contractID, err)
	}
	m.handle(resp)
	return nil
}

// Settled reports whether the sold update has been processed.
func (m *ContractMonitor) Settled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled
}

func (m *ContractMonitor) handle(resp derivws.Response) {
	if resp.MsgType != "proposal_open_contract" || resp.Error != nil {
		return
	}
	var poc openContract
	if err := resp.Decode("proposal_open_contract", &poc); err != nil {
		return
	}
	if poc.ContractID != m.contractID {
		return
	}

	m.mu.Lock()
	if resp.SubscriptionID != "" {
		m.subID = resp.SubscriptionID
	}
	if m.settled || !(bool(poc.IsSold) || poc.Status == "sold") {
		m.mu.Unlock()
		return
	}
	m.settled = true
	subID, release := m.subID, m.release
	m.mu.Unlock()

	profit := 0.0
	if poc.Profit != nil {
		profit = *poc.Profit
	}
	m.log.Info().Int64("contract_id", m.contractID).Float64("profit", profit).Str("status", poc.Status).Msg("contract settled")
	if m.onSettled != nil {
		m.onSettled(profit)
	}
	if release != nil {
		release()
	}
	if subID != "" {
		_ = m.conn.Send(derivws.Request{"forget": subID})
	}
}
