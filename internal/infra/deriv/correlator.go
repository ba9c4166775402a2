package deriv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNotConnected is returned when a message is sent with no transport up.
	ErrNotConnected = errors.New("venue connection not established")
	// ErrConnectionClosed fails every pending call when the transport drops.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrRequestTimeout fails a call whose response never arrived.
	ErrRequestTimeout = errors.New("request timed out")
)

// DefaultCallTimeout bounds how long a correlated request may stay pending.
const DefaultCallTimeout = 15 * time.Second

type callResult struct {
	resp *Response
	err  error
}

// Call is the handle for one in-flight correlated request. It completes
// exactly once: with the response, the venue's error, a timeout, or a
// connection failure, whichever happens first.
type Call struct {
	ID   int64
	Kind string

	timer *time.Timer
	done  chan callResult
}

// Await blocks until the call completes or ctx is cancelled.
func (c *Call) Await(ctx context.Context) (*Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-c.done:
		return r.resp, r.err
	}
}

// Correlator pairs outbound requests with their eventual responses by
// correlation id. Ids are allocated monotonically and never reused while
// a call is live.
type Correlator struct {
	// Timeout applies to calls registered after it is set. Zero selects
	// DefaultCallTimeout.
	Timeout time.Duration

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]*Call
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[int64]*Call)}
}

// Register allocates a correlation id and parks a call under it. The
// expiry timer starts immediately, before the request is even on the
// wire; transmission time counts against the deadline.
func (c *Correlator) Register(kind string) *Call {
	call := &Call{
		ID:   c.nextID.Add(1),
		Kind: kind,
		done: make(chan callResult, 1),
	}

	c.mu.Lock()
	call.timer = time.AfterFunc(c.timeout(), func() { c.expire(call.ID) })
	c.pending[call.ID] = call
	c.mu.Unlock()

	return call
}

// Resolve completes the pending call matching the response's correlation
// id. A response carrying a venue error completes the call with that
// error. Returns false when nothing was waiting, which happens when the
// call already expired or was never registered here.
func (c *Correlator) Resolve(resp *Response) bool {
	call := c.take(resp.ReqID)
	if call == nil {
		return false
	}
	call.timer.Stop()

	if resp.Err != nil {
		call.done <- callResult{err: resp.Err}
	} else {
		call.done <- callResult{resp: resp}
	}
	return true
}

// Fail completes a single pending call with err, if it is still pending.
func (c *Correlator) Fail(id int64, err error) bool {
	call := c.take(id)
	if call == nil {
		return false
	}
	call.timer.Stop()
	call.done <- callResult{err: err}
	return true
}

// FailAll completes every pending call with err and clears the table.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[int64]*Call)
	c.mu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.done <- callResult{err: err}
	}
}

// PendingCount returns the number of calls awaiting a response.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) expire(id int64) {
	call := c.take(id)
	if call == nil {
		return
	}
	call.done <- callResult{err: fmt.Errorf("%w: %s (req_id=%d)", ErrRequestTimeout, call.Kind, id)}
}

// take removes and returns the pending call with the given id. Removal
// under the lock is the single-completion guard: whoever takes the call
// completes it, every later resolve or expire finds nothing.
func (c *Correlator) take(id int64) *Call {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return call
}

func (c *Correlator) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultCallTimeout
}
