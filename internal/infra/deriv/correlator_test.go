package deriv

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func okResponse(reqID int64, msgType string) *Response {
	return &Response{MsgType: msgType, ReqID: reqID, Raw: json.RawMessage(`{}`)}
}

func TestCorrelator_ResolveCompletesCall(t *testing.T) {
	c := NewCorrelator()

	call := c.Register("proposal")
	if call.ID == 0 {
		t.Fatal("expected non-zero correlation id")
	}

	if !c.Resolve(okResponse(call.ID, "proposal")) {
		t.Fatal("Resolve found no pending call")
	}

	resp, err := call.Await(context.Background())
	if err != nil {
		t.Fatalf("Await returned error: %v", err)
	}
	if resp.ReqID != call.ID {
		t.Errorf("expected req_id %d, got %d", call.ID, resp.ReqID)
	}
	if c.PendingCount() != 0 {
		t.Errorf("expected empty table, got %d pending", c.PendingCount())
	}
}

func TestCorrelator_UniqueMonotonicIDs(t *testing.T) {
	c := NewCorrelator()

	seen := make(map[int64]bool)
	var prev int64
	for i := 0; i < 100; i++ {
		call := c.Register("ticks")
		if seen[call.ID] {
			t.Fatalf("id %d reused", call.ID)
		}
		if call.ID <= prev {
			t.Fatalf("ids not monotonic: %d after %d", call.ID, prev)
		}
		seen[call.ID] = true
		prev = call.ID
	}
}

func TestCorrelator_ResolveUnknownID(t *testing.T) {
	c := NewCorrelator()

	if c.Resolve(okResponse(42, "buy")) {
		t.Error("Resolve reported success for an unknown id")
	}
}

func TestCorrelator_VenueErrorFailsCall(t *testing.T) {
	c := NewCorrelator()

	call := c.Register("buy")
	c.Resolve(&Response{
		MsgType: "buy",
		ReqID:   call.ID,
		Err:     &APIError{Code: "InvalidContractProposal", Message: "proposal expired"},
	})

	_, err := call.Await(context.Background())
	if err == nil {
		t.Fatal("expected error from venue error response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Code != "InvalidContractProposal" {
		t.Errorf("unexpected code %q", apiErr.Code)
	}
}

func TestCorrelator_Timeout(t *testing.T) {
	c := NewCorrelator()
	c.Timeout = 20 * time.Millisecond

	call := c.Register("proposal")

	_, err := call.Await(context.Background())
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if c.PendingCount() != 0 {
		t.Errorf("expired call still pending")
	}

	// The late response finds nothing to complete.
	if c.Resolve(okResponse(call.ID, "proposal")) {
		t.Error("Resolve succeeded after expiry")
	}
}

func TestCorrelator_ResolveBeatsTimeout(t *testing.T) {
	c := NewCorrelator()
	c.Timeout = 30 * time.Millisecond

	call := c.Register("authorize")
	if !c.Resolve(okResponse(call.ID, "authorize")) {
		t.Fatal("Resolve found no pending call")
	}

	// Wait past the deadline; the stopped timer must not overwrite the
	// delivered result.
	time.Sleep(60 * time.Millisecond)

	resp, err := call.Await(context.Background())
	if err != nil {
		t.Fatalf("resolved call reported error: %v", err)
	}
	if resp == nil {
		t.Fatal("resolved call carried no response")
	}
}

func TestCorrelator_FailAll(t *testing.T) {
	c := NewCorrelator()

	calls := make([]*Call, 5)
	for i := range calls {
		calls[i] = c.Register("ticks")
	}

	c.FailAll(ErrConnectionClosed)

	for _, call := range calls {
		_, err := call.Await(context.Background())
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("expected ErrConnectionClosed, got %v", err)
		}
	}
	if c.PendingCount() != 0 {
		t.Errorf("expected empty table after FailAll, got %d", c.PendingCount())
	}
}

func TestCorrelator_FirstCompletionWins(t *testing.T) {
	c := NewCorrelator()

	for i := 0; i < 50; i++ {
		call := c.Register("buy")

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Resolve(okResponse(call.ID, "buy"))
		}()
		go func() {
			defer wg.Done()
			c.Fail(call.ID, ErrConnectionClosed)
		}()
		wg.Wait()

		// Exactly one completion lands; a second send would have blocked
		// one of the goroutines forever on the size-1 channel.
		if _, err := call.Await(context.Background()); err != nil && !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("unexpected error: %v", err)
		}
		if c.PendingCount() != 0 {
			t.Fatal("call left pending after racing completions")
		}
	}
}

func TestCall_AwaitContextCancel(t *testing.T) {
	c := NewCorrelator()
	call := c.Register("proposal")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := call.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
