package copytrade

import "slices"

// ShouldCopy reports whether a buy transaction passes the configured filters. Each
// configured filter can reject on its own; unset filters pass everything.
func ShouldCopy(tx Transaction, cfg Config) bool {
	if len(cfg.Assets) > 0 && !slices.Contains(cfg.Assets, tx.Symbol) {
		return false
	}
	limits := cfg.Limits()
	if !limits.AboveMin(tx.Stake()) {
		return false
	}
	if !limits.BelowMax(tx.Stake()) {
		return false
	}
	if len(cfg.TradeTypes) > 0 && !slices.Contains(cfg.TradeTypes, tx.ContractType) {
		return false
	}
	return true
}
