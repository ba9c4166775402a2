package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestNewTrade_FreshIdentity(t *testing.T) {
	params := OrderParams{
		ContractType: "DIGITEVEN",
		Duration:     3,
		Stake:        decimal.RequireFromString("0.35"),
	}

	t1 := NewTrade(params)
	t2 := NewTrade(params)

	if t1.RequestID == "" || t2.RequestID == "" {
		t.Fatal("trade created without a request id")
	}
	if t1.RequestID == t2.RequestID {
		t.Errorf("request ids collide: %q", t1.RequestID)
	}
	if t1.Phase != PhaseQueued {
		t.Errorf("new trade phase %v, want PhaseQueued", t1.Phase)
	}
	if t1.StartedAt.IsZero() {
		t.Error("started_at not set")
	}
}

func TestTradePhase_Terminal(t *testing.T) {
	cases := []struct {
		phase TradePhase
		want  bool
	}{
		{PhaseQueued, false},
		{PhaseProposing, false},
		{PhaseExecuting, false},
		{PhaseAwaitingSettlement, false},
		{PhaseSettled, true},
		{PhaseTimedOut, true},
		{PhaseFailed, true},
	}
	for _, tc := range cases {
		if got := tc.phase.Terminal(); got != tc.want {
			t.Errorf("%v.Terminal() = %v, want %v", tc.phase, got, tc.want)
		}
	}
}

func TestTradePhase_JSONEncodesAsName(t *testing.T) {
	data, err := json.Marshal(PhaseAwaitingSettlement)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"AWAITING_SETTLEMENT"` {
		t.Errorf("encoded as %s", data)
	}
}

func TestTrade_SnapshotIsACopy(t *testing.T) {
	tr := NewTrade(OrderParams{ContractType: "DIGITEVEN", Duration: 1, Stake: decimal.New(1, 0)})
	snap := tr.Snapshot()

	tr.Phase = PhaseSettled
	tr.ContractID = 42

	if snap.Phase != PhaseQueued || snap.ContractID != 0 {
		t.Errorf("snapshot tracks live trade: %+v", snap)
	}
}
