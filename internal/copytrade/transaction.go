package copytrade

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ActionBuy marks a transaction that opened a new position.
const ActionBuy = "buy"

// Transaction is one event of a trader's transaction feed.
type Transaction struct {
	Action        string     `json:"action"`
	TransactionID int64      `json:"transaction_id"`
	ContractID    int64      `json:"contract_id"`
	Symbol        string     `json:"symbol"`
	Amount        float64    `json:"amount"`
	Balance       float64    `json:"balance"`
	Currency      string     `json:"currency"`
	ContractType  string     `json:"contract_type"`
	Duration      int        `json:"duration"`
	DurationUnit  string     `json:"duration_unit"`
	Barrier       flexString `json:"barrier"`
}

// IsNewPosition reports whether the transaction is a buy.
func (t Transaction) IsNewPosition() bool {
	return strings.EqualFold(t.Action, ActionBuy)
}

// Stake is the absolute amount of the transaction; buys are debited as negative amounts.
func (t Transaction) Stake() float64 {
	return math.Abs(t.Amount)
}

// key identifies the event for de-duplication; empty when the feed sent no id.
func (t Transaction) key() string {
	id := t.TransactionID
	if id == 0 {
		id = t.ContractID
	}
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexBool accepts true/false or 0/1.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.TrimSpace(string(data)) {
	case "true", "1":
		*f = true
	case "false", "0", "null", "":
		*f = false
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*f = n != 0
	}
	return nil
}
