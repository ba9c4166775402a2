package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradePhase tracks the lifecycle of a trade through the execution engine.
type TradePhase int

const (
	PhaseQueued TradePhase = iota
	PhaseProposing
	PhaseExecuting
	PhaseAwaitingSettlement
	PhaseSettled
	PhaseTimedOut
	PhaseFailed
)

func (p TradePhase) String() string {
	switch p {
	case PhaseQueued:
		return "QUEUED"
	case PhaseProposing:
		return "PROPOSING"
	case PhaseExecuting:
		return "EXECUTING"
	case PhaseAwaitingSettlement:
		return "AWAITING_SETTLEMENT"
	case PhaseSettled:
		return "SETTLED"
	case PhaseTimedOut:
		return "TIMED_OUT"
	case PhaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the phase ends the trade lifecycle.
func (p TradePhase) Terminal() bool {
	switch p {
	case PhaseSettled, PhaseTimedOut, PhaseFailed:
		return true
	default:
		return false
	}
}

func (p TradePhase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// OrderParams carries the order fields of a trade submission.
// Symbol, Currency and Basis may be empty; the engine fills them from
// Defaults when the trade starts.
type OrderParams struct {
	Symbol       string          `json:"symbol,omitempty"`
	ContractType string          `json:"contract_type"`
	Duration     int             `json:"duration"`
	DurationUnit string          `json:"duration_unit,omitempty"`
	Stake        decimal.Decimal `json:"stake"`
	Currency     string          `json:"currency,omitempty"`
	Basis        string          `json:"basis,omitempty"`
	Barrier      string          `json:"barrier,omitempty"`
	Prediction   *int            `json:"prediction,omitempty"`
}

// Trade is the engine's live view of one submission. It is mutated only
// under the engine mutex and exposed externally as value copies.
type Trade struct {
	RequestID  string      `json:"request_id"`
	ContractID int64       `json:"contract_id,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	Params     OrderParams `json:"params"`
	Phase      TradePhase  `json:"phase"`
}

// NewTrade creates a queued trade with a fresh request id.
func NewTrade(params OrderParams) *Trade {
	return &Trade{
		RequestID: uuid.NewString(),
		StartedAt: time.Now(),
		Params:    params,
		Phase:     PhaseQueued,
	}
}

// Snapshot returns a read-only copy for status reporting.
func (t *Trade) Snapshot() Trade {
	return *t
}

// TransactionIDs are the venue-side transaction identifiers of a contract.
type TransactionIDs struct {
	Buy  int64 `json:"buy,omitempty"`
	Sell int64 `json:"sell,omitempty"`
}

// TradeResult is the immutable outcome of a finished trade. Monetary fields
// are nil for timeout and failure results, which carry no settlement data.
type TradeResult struct {
	Kind         string           `json:"kind"` // won | lost | sold | timeout | failed
	RequestID    string           `json:"request_id"`
	ContractID   int64            `json:"contract_id,omitempty"`
	Profit       *decimal.Decimal `json:"profit,omitempty"`
	Payout       *decimal.Decimal `json:"payout,omitempty"`
	BuyPrice     *decimal.Decimal `json:"buy_price,omitempty"`
	SellPrice    *decimal.Decimal `json:"sell_price,omitempty"`
	ExitTick     *decimal.Decimal `json:"exit_tick,omitempty"`
	Transactions TransactionIDs   `json:"transaction_ids,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	FinalizedAt  time.Time        `json:"finalized_at"`
}

// ResultKindTimeout marks trades finalized by the settlement timeout
// fallback rather than by a venue settlement event.
const (
	ResultKindWon     = "won"
	ResultKindLost    = "lost"
	ResultKindSold    = "sold"
	ResultKindTimeout = "timeout"
	ResultKindFailed  = "failed"
)
