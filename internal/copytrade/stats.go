package copytrade

import (
	"time"

	"copytrader-go/internal/journal"
)

// Status is the summary the UI polls.
type Status struct {
	IsActive         bool    `json:"isActive"`
	State            string  `json:"state"`
	ConnectedTraders int     `json:"connectedTraders"`
	TradesCopied     int     `json:"tradesCopied"`
	TotalProfit      float64 `json:"totalProfit"`
	MirrorToReal     bool    `json:"copyToRealAccount"`
}

// TraderInfo describes one tracked connection.
type TraderInfo struct {
	Token       string    `json:"token"`
	LoginID     string    `json:"loginid"`
	AccountType string    `json:"accountType"`
	Balance     float64   `json:"balance"`
	Currency    string    `json:"currency,omitempty"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Statistics extends Status with per-connection and per-trade detail.
type Statistics struct {
	Status
	StartedAt             *time.Time      `json:"startedAt,omitempty"`
	UptimeSeconds         float64         `json:"uptimeSeconds"`
	ProcessedTransactions int             `json:"processedTransactions"`
	Traders               []TraderInfo    `json:"traders"`
	Mirror                *TraderInfo     `json:"mirror,omitempty"`
	Config                *Config         `json:"config,omitempty"`
	RecentTrades          []journal.Trade `json:"recentTrades"`
}

// StopResult reports the outcome of Stop. A failed close is reported here instead
// of as an error; state is reset regardless.
type StopResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
