package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Wakaba24/deriv-fast-backend/internal/domain"
	"github.com/Wakaba24/deriv-fast-backend/internal/infra/deriv"
)

var (
	// ErrMissingProposalID marks a proposal response without an offer id.
	ErrMissingProposalID = errors.New("missing proposal id")
	// ErrMissingContractID marks a buy response without a contract id.
	ErrMissingContractID = errors.New("missing contract id")
	// ErrEngineClosed rejects submissions after shutdown began; queued
	// trades drained at shutdown carry it as their failure reason.
	ErrEngineClosed = errors.New("engine closed")
)

// DefaultSettlementTimeout bounds how long a trade may wait for its
// settlement event before the engine forces a terminal result.
const DefaultSettlementTimeout = 30 * time.Second

// Venue is the slice of the stream client the engine needs: correlated
// round trips for proposal and buy, and a fire-and-forget variant for the
// settlement subscription whose acknowledgment is not on the critical path.
type Venue interface {
	Request(ctx context.Context, kind string, req deriv.Request) (*deriv.Response, error)
	Do(ctx context.Context, kind string, req deriv.Request) (*deriv.Call, error)
}

// Journal records finalized trade results for later inspection. The
// engine never reads them back.
type Journal interface {
	Record(ctx context.Context, res *domain.TradeResult) error
}

// Admission is the synchronous outcome of a Submit call.
type Admission struct {
	RequestID string `json:"request_id"`
	Queued    bool   `json:"queued"`
	Position  int    `json:"queue_position,omitempty"`
}

// Engine serializes trade execution: at most one trade is in flight, the
// rest wait in a FIFO queue. Each trade runs propose, buy, then awaits its
// settlement event; a timeout finalizes it if the event never comes, so
// the slot can never be held indefinitely.
type Engine struct {
	venue    Venue
	defaults *domain.Defaults
	journal  Journal
	log      *slog.Logger

	settlementTimeout time.Duration
	ctx               context.Context

	mu             sync.Mutex
	closed         bool
	active         *domain.Trade
	activeContract int64
	queue          []*domain.Trade
	lastResult     *domain.TradeResult
	settleTimer    *time.Timer

	wg sync.WaitGroup
}

func NewEngine(venue Venue, defaults *domain.Defaults, journal Journal, timeout time.Duration, log *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = DefaultSettlementTimeout
	}
	return &Engine{
		venue:             venue,
		defaults:          defaults,
		journal:           journal,
		settlementTimeout: timeout,
		log:               log.With("component", "engine"),
	}
}

// Start binds the lifecycle context used for venue round trips. Must be
// called before the first Submit.
func (e *Engine) Start(ctx context.Context) {
	e.ctx = ctx
}

// Close rejects further submissions, fails the queued trades so every
// admitted trade still reaches a terminal result, and waits for the
// in-flight lifecycle goroutines.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}
	drained := e.queue
	e.queue = nil
	e.mu.Unlock()

	for _, t := range drained {
		e.failQueued(t, ErrEngineClosed)
	}

	e.wg.Wait()
}

// Submit admits an order: it either takes the free execution slot and
// starts immediately, or joins the FIFO queue. The call never blocks on
// the venue; admission is decided synchronously.
func (e *Engine) Submit(params domain.OrderParams) (Admission, error) {
	t := domain.NewTrade(params)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Admission{}, ErrEngineClosed
	}

	if e.active == nil {
		e.active = t
		e.wg.Add(1)
		e.mu.Unlock()

		e.log.Info("trade started", "request_id", t.RequestID, "contract_type", params.ContractType, "stake", params.Stake)
		go e.run(t)
		return Admission{RequestID: t.RequestID}, nil
	}

	e.queue = append(e.queue, t)
	pos := len(e.queue)
	e.mu.Unlock()

	e.log.Info("trade queued", "request_id", t.RequestID, "position", pos)
	return Admission{RequestID: t.RequestID, Queued: true, Position: pos}, nil
}

// run drives one trade through propose, buy, and settlement tracking. It
// owns the execution slot until a finalize releases it. A panic anywhere
// in the lifecycle is converted into a failed result instead of leaving
// the slot held.
func (e *Engine) run(t *domain.Trade) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("trade lifecycle panic", "request_id", t.RequestID, "panic", r)
			e.finalize(t, &domain.TradeResult{
				Kind:      domain.ResultKindFailed,
				RequestID: t.RequestID,
				Reason:    fmt.Sprintf("engine failure: %v", r),
				StartedAt: t.StartedAt,
			})
		}
	}()

	e.setPhase(t, domain.PhaseProposing)

	prop, err := e.propose(t)
	if err != nil {
		e.fail(t, err)
		return
	}

	e.setPhase(t, domain.PhaseExecuting)

	buy, err := e.buy(t, prop)
	if err != nil {
		e.fail(t, err)
		return
	}

	// The contract id is the join key: settlement events arrive keyed by
	// it, not by correlation id. Record it before the subscription goes
	// out so the first update can already match.
	e.mu.Lock()
	t.ContractID = buy.ContractID
	e.activeContract = buy.ContractID
	t.Phase = domain.PhaseAwaitingSettlement
	e.mu.Unlock()

	e.log.Info("awaiting settlement",
		"request_id", t.RequestID,
		"contract_id", buy.ContractID,
		"buy_price", buy.BuyPrice)

	if _, err := e.venue.Do(e.lifecycleCtx(), deriv.MsgTypeOpenContract, &deriv.OpenContractRequest{
		ProposalOpenContract: 1,
		ContractID:           buy.ContractID,
		Subscribe:            1,
	}); err != nil {
		e.log.Warn("settlement subscribe failed", "contract_id", buy.ContractID, "err", err)
	}

	e.armTimeout(t, buy.ContractID)
}

func (e *Engine) propose(t *domain.Trade) (*deriv.ProposalResult, error) {
	resp, err := e.venue.Request(e.lifecycleCtx(), deriv.MsgTypeProposal, e.buildProposal(t.Params))
	if err != nil {
		return nil, fmt.Errorf("proposal: %w", err)
	}

	prop, err := resp.Proposal()
	if err != nil || prop.ID == "" {
		return nil, ErrMissingProposalID
	}
	return prop, nil
}

func (e *Engine) buy(t *domain.Trade, prop *deriv.ProposalResult) (*deriv.BuyResult, error) {
	resp, err := e.venue.Request(e.lifecycleCtx(), deriv.MsgTypeBuy, &deriv.BuyRequest{
		Buy:   prop.ID,
		Price: json.Number(t.Params.Stake.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("buy: %w", err)
	}

	buy, err := resp.Buy()
	if err != nil || buy.ContractID == 0 {
		return nil, ErrMissingContractID
	}
	return buy, nil
}

// buildProposal fills omitted order fields from the current defaults.
func (e *Engine) buildProposal(p domain.OrderParams) *deriv.ProposalRequest {
	d := e.defaults.Snapshot()

	symbol := p.Symbol
	if symbol == "" {
		symbol = d.Symbol
	}
	currency := p.Currency
	if currency == "" {
		currency = d.Currency
	}
	basis := p.Basis
	if basis == "" {
		basis = d.Basis
	}
	unit := p.DurationUnit
	if unit == "" {
		unit = "t"
	}

	return &deriv.ProposalRequest{
		Proposal:     1,
		Amount:       json.Number(p.Stake.String()),
		Basis:        basis,
		ContractType: p.ContractType,
		Currency:     currency,
		Duration:     p.Duration,
		DurationUnit: unit,
		Symbol:       symbol,
		Barrier:      p.Barrier,
		Prediction:   p.Prediction,
	}
}

// HandleContractUpdate consumes settlement stream events. Non-final
// updates are ignored; a final update for the tracked contract finalizes
// the active trade unless the timeout got there first.
func (e *Engine) HandleContractUpdate(upd *deriv.ContractUpdate) {
	if !upd.Final() {
		return
	}

	e.mu.Lock()
	t := e.active
	if t == nil || e.activeContract == 0 || upd.ContractID != e.activeContract {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	e.finalize(t, &domain.TradeResult{
		Kind:       resultKind(upd),
		RequestID:  t.RequestID,
		ContractID: upd.ContractID,
		Profit:     upd.Profit,
		Payout:     upd.Payout,
		BuyPrice:   upd.BuyPrice,
		SellPrice:  upd.SellPrice,
		ExitTick:   upd.ExitTick,
		Transactions: domain.TransactionIDs{
			Buy:  upd.TransactionIDs.Buy,
			Sell: upd.TransactionIDs.Sell,
		},
		StartedAt: t.StartedAt,
	})
}

func resultKind(upd *deriv.ContractUpdate) string {
	switch upd.Status {
	case "won":
		return domain.ResultKindWon
	case "lost":
		return domain.ResultKindLost
	default:
		return domain.ResultKindSold
	}
}

func (e *Engine) armTimeout(t *domain.Trade, contractID int64) {
	e.mu.Lock()
	if e.closed || e.active != t {
		// Finalized already (a fast settlement can land inside the
		// subscription response) or shutdown stopped the timers.
		e.mu.Unlock()
		return
	}
	e.settleTimer = time.AfterFunc(e.settlementTimeout, func() {
		e.timeoutTrade(t, contractID)
	})
	e.mu.Unlock()
}

// timeoutTrade fires when no settlement event arrived inside the window.
func (e *Engine) timeoutTrade(t *domain.Trade, contractID int64) {
	e.mu.Lock()
	stale := e.active != t || e.activeContract != contractID
	e.mu.Unlock()
	if stale {
		return
	}

	e.log.Warn("settlement timed out", "request_id", t.RequestID, "contract_id", contractID)
	e.finalize(t, &domain.TradeResult{
		Kind:       domain.ResultKindTimeout,
		RequestID:  t.RequestID,
		ContractID: contractID,
		Reason:     "no settlement update within window",
		StartedAt:  t.StartedAt,
	})
}

// failQueued retires a trade that never took the execution slot. Unlike
// finalize it does not free the slot or promote a successor.
func (e *Engine) failQueued(t *domain.Trade, err error) {
	res := &domain.TradeResult{
		Kind:        domain.ResultKindFailed,
		RequestID:   t.RequestID,
		Reason:      err.Error(),
		StartedAt:   t.StartedAt,
		FinalizedAt: time.Now(),
	}

	e.mu.Lock()
	t.Phase = domain.PhaseFailed
	e.lastResult = res
	e.mu.Unlock()

	e.log.Info("queued trade failed", "request_id", t.RequestID, "reason", res.Reason)

	if e.journal != nil {
		if err := e.journal.Record(context.Background(), res); err != nil {
			e.log.Error("journal write failed", "request_id", res.RequestID, "err", err)
		}
	}
}

// fail finalizes t with a failure result before any contract exists.
func (e *Engine) fail(t *domain.Trade, err error) {
	e.log.Error("trade failed", "request_id", t.RequestID, "err", err)
	e.finalize(t, &domain.TradeResult{
		Kind:      domain.ResultKindFailed,
		RequestID: t.RequestID,
		Reason:    err.Error(),
		StartedAt: t.StartedAt,
	})
}

// finalize retires t with res, frees the slot, and starts the next queued
// trade on a fresh goroutine. Clearing the slot under the lock is the
// first-wins guard: when a settlement event races the timeout, whichever
// gets here second finds the slot already handed over and returns.
func (e *Engine) finalize(t *domain.Trade, res *domain.TradeResult) {
	e.mu.Lock()
	if e.active != t {
		e.mu.Unlock()
		return
	}
	if res.ContractID != 0 && e.activeContract != 0 && res.ContractID != e.activeContract {
		e.mu.Unlock()
		return
	}

	e.active = nil
	e.activeContract = 0
	if e.settleTimer != nil {
		e.settleTimer.Stop()
		e.settleTimer = nil
	}

	switch res.Kind {
	case domain.ResultKindTimeout:
		t.Phase = domain.PhaseTimedOut
	case domain.ResultKindFailed:
		t.Phase = domain.PhaseFailed
	default:
		t.Phase = domain.PhaseSettled
	}
	res.FinalizedAt = time.Now()
	e.lastResult = res

	var next *domain.Trade
	if !e.closed && len(e.queue) > 0 {
		next = e.queue[0]
		e.queue = e.queue[1:]
		e.active = next
		e.wg.Add(1)
	}
	e.mu.Unlock()

	e.log.Info("trade finalized",
		"request_id", res.RequestID,
		"kind", res.Kind,
		"contract_id", res.ContractID)

	if e.journal != nil {
		// Background context: the result must land even when the
		// lifecycle context is already cancelled during shutdown.
		if err := e.journal.Record(context.Background(), res); err != nil {
			e.log.Error("journal write failed", "request_id", res.RequestID, "err", err)
		}
	}

	if next != nil {
		e.log.Info("starting queued trade", "request_id", next.RequestID)
		go e.run(next)
	}
}

func (e *Engine) setPhase(t *domain.Trade, p domain.TradePhase) {
	e.mu.Lock()
	t.Phase = p
	e.mu.Unlock()
	e.log.Debug("trade phase", "request_id", t.RequestID, "phase", p)
}

func (e *Engine) lifecycleCtx() context.Context {
	if e.ctx != nil {
		return e.ctx
	}
	return context.Background()
}

// Status is the engine view reported by the HTTP facade.
type Status struct {
	Active      *domain.Trade       `json:"active,omitempty"`
	QueueLength int                 `json:"queue_length"`
	Queued      []string            `json:"queued_request_ids,omitempty"`
	LastResult  *domain.TradeResult `json:"last_result,omitempty"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{QueueLength: len(e.queue), LastResult: e.lastResult}
	if e.active != nil {
		snap := e.active.Snapshot()
		st.Active = &snap
	}
	for _, q := range e.queue {
		st.Queued = append(st.Queued, q.RequestID)
	}
	return st
}
