package domain

import "github.com/shopspring/decimal"

// Tick is one price update from the venue tick stream.
type Tick struct {
	Symbol  string          `json:"symbol"`
	Quote   decimal.Decimal `json:"quote"`
	Bid     decimal.Decimal `json:"bid"`
	Ask     decimal.Decimal `json:"ask"`
	Epoch   int64           `json:"epoch"`
	PipSize int             `json:"pip_size,omitempty"`
}

// TickBuffer keeps the most recent ticks for one symbol, bounded to a fixed
// capacity with FIFO eviction. It is not safe for concurrent use; the market
// stream serializes access.
type TickBuffer struct {
	symbol   string
	latest   *Tick
	history  []Tick
	capacity int
}

// NewTickBuffer creates a buffer holding up to capacity ticks.
func NewTickBuffer(capacity int) *TickBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &TickBuffer{
		history:  make([]Tick, 0, capacity),
		capacity: capacity,
	}
}

// Reset clears all buffered ticks and rebinds the buffer to a symbol.
func (b *TickBuffer) Reset(symbol string) {
	b.symbol = symbol
	b.latest = nil
	b.history = b.history[:0]
}

// Append records a tick as the latest and pushes it onto the history,
// evicting the oldest entry once the capacity is exceeded.
func (b *TickBuffer) Append(t Tick) {
	tick := t
	b.latest = &tick
	b.history = append(b.history, t)
	if len(b.history) > b.capacity {
		b.history = b.history[1:]
	}
}

// Symbol returns the symbol the buffer is bound to.
func (b *TickBuffer) Symbol() string { return b.symbol }

// Latest returns the most recent tick, if any.
func (b *TickBuffer) Latest() (Tick, bool) {
	if b.latest == nil {
		return Tick{}, false
	}
	return *b.latest, true
}

// Len returns the number of buffered ticks.
func (b *TickBuffer) Len() int { return len(b.history) }

// Capacity returns the maximum number of buffered ticks.
func (b *TickBuffer) Capacity() int { return b.capacity }

// History returns a copy of the buffered ticks, oldest first.
func (b *TickBuffer) History() []Tick {
	out := make([]Tick, len(b.history))
	copy(out, b.history)
	return out
}
