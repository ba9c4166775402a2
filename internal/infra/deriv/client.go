package deriv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Wakaba24/deriv-fast-backend/internal/domain"
	"github.com/Wakaba24/deriv-fast-backend/internal/infra"
)

// Client owns the venue stream connection: dialing, authorization,
// keepalive, inbound dispatch, and reconnection with exponential backoff.
// It is the sole reader and writer of the transport; every other
// component talks to the venue through it.
type Client struct {
	cfg   *infra.Config
	log   *slog.Logger
	corr  *Correlator
	limit *infra.RateLimiter

	// OnReady runs on the session goroutine after each successful
	// authorization. OnTick and OnContract run on the read goroutine in
	// message arrival order. All must be set before Start.
	OnReady    func(ctx context.Context)
	OnTick     func(tick *TickPayload)
	OnContract func(upd *ContractUpdate)

	ReadTimeout time.Duration

	mu      sync.RWMutex
	conn    *websocket.Conn
	lastErr string
	account *AuthorizeResult

	writeMu sync.Mutex

	state    atomic.Int32
	attempts atomic.Int64
	sessions atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewClient(cfg *infra.Config, log *slog.Logger) *Client {
	return &Client{
		cfg:         cfg,
		log:         log.With("component", "deriv"),
		corr:        NewCorrelator(),
		limit:       infra.NewVenueLimiter(),
		ReadTimeout: 60 * time.Second,
	}
}

// PendingRequests returns the number of calls awaiting a response.
func (c *Client) PendingRequests() int { return c.corr.PendingCount() }

// Start launches the connection loop and returns immediately.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop tears the connection down and waits for all loops to exit.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.dropConn(nil)
	c.wg.Wait()
}

// run dials, hands the connection to the read loop, and redials whenever
// it comes back. There is no give-up path; the loop only exits with the
// context.
func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.connect(ctx); err != nil {
			c.noteError(err)
			c.log.Warn("connect failed", "err", err)
		} else {
			c.readLoop(ctx)
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("connection lost")
		}

		// The counter resets only once a session reaches Ready, so
		// repeated failures keep widening the delay.
		attempt := c.attempts.Add(1) - 1
		delay := infra.CalculateBackoff(int(attempt), c.cfg.ReconnectBase(), c.cfg.ReconnectMax())
		c.log.Info("reconnecting", "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	c.setState(domain.StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.endpoint(), nil)
	if err != nil {
		c.setState(domain.StateDisconnected)
		return fmt.Errorf("dial %s: %w", c.endpoint(), err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setState(domain.StateConnected)
	c.log.Info("stream connected", "url", c.endpoint())

	c.wg.Add(2)
	go c.heartbeat(ctx, conn)
	go c.session(ctx)

	return nil
}

func (c *Client) endpoint() string {
	u := c.cfg.Venue.WSURL
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "app_id=" + c.cfg.Venue.AppID
}

// session authorizes the fresh connection. It runs on its own goroutine
// because the response only arrives once the read loop is pumping; waiting
// on the read goroutine itself would deadlock.
func (c *Client) session(ctx context.Context) {
	defer c.wg.Done()

	c.setState(domain.StateAuthorizing)

	resp, err := c.Request(ctx, MsgTypeAuthorize, &AuthorizeRequest{Authorize: c.cfg.Venue.Token})
	if err != nil {
		c.authFailed(fmt.Errorf("authorization failed: %w", err))
		return
	}

	acct, err := resp.Authorize()
	if err != nil {
		c.authFailed(fmt.Errorf("authorization payload malformed: %w", err))
		return
	}

	c.mu.Lock()
	c.account = acct
	c.mu.Unlock()

	c.attempts.Store(0)
	c.sessions.Add(1)
	c.setState(domain.StateReady)
	c.log.Info("authorized",
		"loginid", acct.LoginID,
		"currency", acct.Currency,
		"balance", acct.Balance,
		"virtual", acct.IsVirtual == 1)

	if c.OnReady != nil {
		c.OnReady(ctx)
	}
}

// authFailed records a rejected authorization. The connection stays up and
// keeps heartbeating; only the state falls back to Connected.
func (c *Client) authFailed(err error) {
	c.noteError(err)
	c.log.Error("authorization failed", "err", err)
	c.state.CompareAndSwap(int32(domain.StateAuthorizing), int32(domain.StateConnected))
}

// readLoop pumps inbound messages until the connection dies. It runs on
// the run goroutine, making it the single dispatcher: messages are fully
// routed in arrival order before the next read.
func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(c.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn("stream read failed", "err", err)
			}
			c.dropConn(err)
			return
		}

		c.dispatch(msg)
	}
}

// dispatch routes one inbound message. A response echoing a req_id settles
// the matching pending call. Stream events fan out independently: ticks
// only when uncorrelated (the first tick of a subscription rides on the
// subscribe response and is handed over by the subscriber), contract
// updates always, because a short contract can settle inside the
// subscription response itself.
func (c *Client) dispatch(msg []byte) {
	resp, err := parseResponse(msg)
	if err != nil {
		c.log.Warn("dropping malformed message", "err", err)
		return
	}

	if resp.ReqID != 0 {
		c.corr.Resolve(resp)
	}

	if resp.Err != nil {
		if resp.ReqID == 0 {
			c.log.Warn("venue error", "code", resp.Err.Code, "msg", resp.Err.Message, "msg_type", resp.MsgType)
		}
		return
	}

	switch resp.MsgType {
	case MsgTypeTick:
		if resp.ReqID == 0 && c.OnTick != nil {
			if tick, err := resp.Tick(); err == nil {
				c.OnTick(tick)
			}
		}
	case MsgTypeOpenContract:
		if c.OnContract != nil {
			if upd, err := resp.Contract(); err == nil {
				c.OnContract(upd)
			}
		}
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			current := c.conn
			c.mu.RUnlock()
			if current != conn {
				return
			}
			if err := c.Send(&PingRequest{Ping: 1}); err != nil {
				c.log.Warn("heartbeat failed", "err", err)
				c.dropConn(err)
				return
			}
		}
	}
}

// Send writes one JSON message to the transport. Writes are serialized;
// the websocket connection does not allow concurrent writers.
func (c *Client) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	return conn.WriteMessage(websocket.TextMessage, data)
}

// Do tags req with a fresh correlation id, transmits it, and returns the
// parked call for the caller to await. Calls are paced by the venue
// limiter before the id is allocated, so waiting in line does not eat
// into the correlation timeout. A write failure settles the call
// immediately.
func (c *Client) Do(ctx context.Context, kind string, req Request) (*Call, error) {
	if err := c.limit.Wait(ctx); err != nil {
		return nil, err
	}

	call := c.corr.Register(kind)
	req.setReqID(call.ID)

	if err := c.Send(req); err != nil {
		c.corr.Fail(call.ID, err)
		return nil, err
	}
	return call, nil
}

// Request performs one correlated round trip.
func (c *Client) Request(ctx context.Context, kind string, req Request) (*Response, error) {
	call, err := c.Do(ctx, kind, req)
	if err != nil {
		return nil, err
	}
	return call.Await(ctx)
}

// dropConn tears down the current connection exactly once. Outstanding
// correlated calls fail immediately rather than waiting out their timers.
func (c *Client) dropConn(reason error) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()

	if reason != nil {
		c.noteError(reason)
	}
	c.corr.FailAll(ErrConnectionClosed)
	c.setState(domain.StateDisconnected)
	c.log.Info("stream disconnected")
}

func (c *Client) setState(s domain.ConnState) {
	old := domain.ConnState(c.state.Swap(int32(s)))
	if old != s {
		c.log.Debug("connection state", "from", old, "to", s)
	}
}

// State returns the current connection state.
func (c *Client) State() domain.ConnState {
	return domain.ConnState(c.state.Load())
}

// Ready reports whether the session is authorized.
func (c *Client) Ready() bool { return c.State() == domain.StateReady }

func (c *Client) noteError(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

// LastError returns the most recent connection-level error, empty when none.
func (c *Client) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Account returns the snapshot captured at authorization, nil before the
// first successful session.
func (c *Client) Account() *AuthorizeResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.account == nil {
		return nil
	}
	acct := *c.account
	return &acct
}

// Reconnects counts completed re-authorizations after the first session.
func (c *Client) Reconnects() int64 {
	n := c.sessions.Load()
	if n <= 1 {
		return 0
	}
	return n - 1
}
