package domain

import "sync"

// Basis values accepted by the venue for the proposal amount.
const (
	BasisStake  = "stake"
	BasisPayout = "payout"
)

// DefaultValues are the fallback order fields applied when a submission
// omits them.
type DefaultValues struct {
	Symbol   string `json:"symbol"`
	Currency string `json:"currency"`
	Basis    string `json:"basis"`
}

// Defaults holds the mutable default order fields. Updates replace the
// provided fields atomically; readers always observe a consistent set.
type Defaults struct {
	mu sync.RWMutex
	v  DefaultValues
}

// NewDefaults creates defaults with the given initial values.
func NewDefaults(symbol, currency, basis string) *Defaults {
	return &Defaults{v: DefaultValues{Symbol: symbol, Currency: currency, Basis: basis}}
}

// Snapshot returns the current default values.
func (d *Defaults) Snapshot() DefaultValues {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.v
}

// Update overwrites the non-empty fields of patch in one step and returns
// the resulting values.
func (d *Defaults) Update(patch DefaultValues) DefaultValues {
	d.mu.Lock()
	defer d.mu.Unlock()
	if patch.Symbol != "" {
		d.v.Symbol = patch.Symbol
	}
	if patch.Currency != "" {
		d.v.Currency = patch.Currency
	}
	if patch.Basis != "" {
		d.v.Basis = patch.Basis
	}
	return d.v
}
