// Package risk holds stake guard-rails shared by the copy filter and the replicator.
package risk

// Limits bounds a stake. A nil bound is not enforced.
type Limits struct {
	MinStake *float64
	MaxStake *float64
}

// Allow reports whether stake is within both configured bounds.
func (l Limits) Allow(stake float64) bool {
	return l.AboveMin(stake) && l.BelowMax(stake)
}

// AboveMin reports whether stake meets the minimum, if any.
func (l Limits) AboveMin(stake float64) bool {
	return l.MinStake == nil || stake >= *l.MinStake
}

// BelowMax reports whether stake does not exceed the maximum, if any.
func (l Limits) BelowMax(stake float64) bool {
	return l.MaxStake == nil || stake <= *l.MaxStake
}

// Bound is a helper for building optional limits.
func Bound(v float64) *float64 { return &v }
