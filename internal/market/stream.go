package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Wakaba24/deriv-fast-backend/internal/domain"
	"github.com/Wakaba24/deriv-fast-backend/internal/infra/deriv"
)

// Venue is the slice of the stream client the market feed needs.
type Venue interface {
	Request(ctx context.Context, kind string, req deriv.Request) (*deriv.Response, error)
}

// Stream manages the tick subscription and the bounded history buffer.
// Ticks are appended only by the dispatcher goroutine; the lock exists for
// readers coming in through the HTTP facade.
type Stream struct {
	venue    Venue
	defaults *domain.Defaults
	log      *slog.Logger
	logTicks bool

	mu  sync.RWMutex
	buf *domain.TickBuffer
}

func NewStream(venue Venue, defaults *domain.Defaults, capacity int, logTicks bool, log *slog.Logger) *Stream {
	return &Stream{
		venue:    venue,
		defaults: defaults,
		log:      log.With("component", "market"),
		logTicks: logTicks,
		buf:      domain.NewTickBuffer(capacity),
	}
}

// Subscribe replaces the current subscription with symbol. The buffer is
// rebound only after the venue acknowledges, so a rejected symbol keeps
// the previous feed intact. The acknowledgment doubles as the first data
// point and is appended here.
func (s *Stream) Subscribe(ctx context.Context, symbol string) error {
	resp, err := s.venue.Request(ctx, "ticks", &deriv.TicksRequest{Ticks: symbol, Subscribe: 1})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}

	s.mu.Lock()
	s.buf.Reset(symbol)
	s.mu.Unlock()

	s.log.Info("subscribed", "symbol", symbol)

	if tick, err := resp.Tick(); err == nil {
		s.HandleTick(tick)
	}
	return nil
}

// Resubscribe restores the feed after reauthorization. The venue drops
// every subscription with the connection, so the configured default
// symbol is subscribed fresh.
func (s *Stream) Resubscribe(ctx context.Context) {
	symbol := s.defaults.Snapshot().Symbol
	if err := s.Subscribe(ctx, symbol); err != nil {
		s.log.Error("resubscribe failed", "symbol", symbol, "err", err)
	}
}

// HandleTick ingests one tick event. Ticks for a symbol other than the
// active subscription are dropped; a few can still arrive right after a
// resubscription replaces the feed.
func (s *Stream) HandleTick(t *deriv.TickPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.buf.Symbol() == "" || t.Symbol != s.buf.Symbol() {
		return
	}

	tick := domain.Tick{
		Symbol:  t.Symbol,
		Quote:   t.Quote,
		Bid:     t.Bid,
		Ask:     t.Ask,
		Epoch:   t.Epoch,
		PipSize: t.PipSize,
	}
	s.buf.Append(tick)

	if s.logTicks {
		s.log.Info("tick", "symbol", tick.Symbol, "quote", tick.Quote, "epoch", tick.Epoch)
	}
}

// Snapshot summarizes the feed for status reporting.
type Snapshot struct {
	Symbol    string       `json:"symbol,omitempty"`
	Latest    *domain.Tick `json:"latest,omitempty"`
	BufferLen int          `json:"buffer_len"`
	Capacity  int          `json:"capacity"`
}

func (s *Stream) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Symbol:    s.buf.Symbol(),
		BufferLen: s.buf.Len(),
		Capacity:  s.buf.Capacity(),
	}
	if t, ok := s.buf.Latest(); ok {
		snap.Latest = &t
	}
	return snap
}

// History returns the buffered ticks, oldest first.
func (s *Stream) History() []domain.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.buf.History()
}
