package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Wakaba24/deriv-fast-backend/internal/domain"
	"github.com/Wakaba24/deriv-fast-backend/internal/engine"
	"github.com/Wakaba24/deriv-fast-backend/internal/infra/deriv"
	"github.com/Wakaba24/deriv-fast-backend/internal/market"
	"github.com/Wakaba24/deriv-fast-backend/internal/storage"
)

// stubVenue answers every round trip instantly so facade tests never wait
// on the wire. It satisfies both the market and the engine venue views.
type stubVenue struct {
	subscribeErr error
}

func (v *stubVenue) Request(ctx context.Context, kind string, req deriv.Request) (*deriv.Response, error) {
	switch kind {
	case "ticks":
		if v.subscribeErr != nil {
			return nil, v.subscribeErr
		}
		tr := req.(*deriv.TicksRequest)
		raw := fmt.Sprintf(`{"msg_type":"tick","req_id":1,"tick":{"symbol":%q,"quote":99.5,"epoch":1700000000}}`, tr.Ticks)
		return &deriv.Response{MsgType: "tick", ReqID: 1, Raw: []byte(raw)}, nil
	case "proposal":
		return &deriv.Response{MsgType: "proposal", ReqID: 1,
			Raw: []byte(`{"msg_type":"proposal","proposal":{"id":"prop-1","ask_price":0.35}}`)}, nil
	case "buy":
		return &deriv.Response{MsgType: "buy", ReqID: 1,
			Raw: []byte(`{"msg_type":"buy","buy":{"contract_id":1001,"transaction_id":501001,"buy_price":0.35}}`)}, nil
	}
	return nil, fmt.Errorf("unexpected request kind %q", kind)
}

func (v *stubVenue) Do(ctx context.Context, kind string, req deriv.Request) (*deriv.Call, error) {
	return nil, nil
}

type fakeConn struct {
	state domain.ConnState
}

func (f *fakeConn) State() domain.ConnState { return f.state }
func (f *fakeConn) Ready() bool             { return f.state == domain.StateReady }
func (f *fakeConn) LastError() string       { return "" }
func (f *fakeConn) Reconnects() int64       { return 2 }
func (f *fakeConn) PendingRequests() int    { return 0 }
func (f *fakeConn) Account() *deriv.AuthorizeResult {
	return &deriv.AuthorizeResult{LoginID: "VRTC1234", Currency: "USD"}
}

type testServer struct {
	srv      *Server
	venue    *stubVenue
	conn     *fakeConn
	engine   *engine.Engine
	stream   *market.Stream
	journal  *storage.Journal
	defaults *domain.Defaults
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	journal, err := storage.NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal init failed: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	venue := &stubVenue{}
	defaults := domain.NewDefaults("R_100", "USD", "stake")
	stream := market.NewStream(venue, defaults, 10, false, log)

	eng := engine.NewEngine(venue, defaults, journal, time.Minute, log)
	eng.Start(context.Background())
	t.Cleanup(func() { eng.Close() })

	conn := &fakeConn{state: domain.StateReady}
	return &testServer{
		srv:      NewServer(conn, stream, eng, journal, defaults, log),
		venue:    venue,
		conn:     conn,
		engine:   eng,
		stream:   stream,
		journal:  journal,
		defaults: defaults,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler([]string{"*"}).ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("response body is not valid JSON: %v", err)
	}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, "GET", "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}

	var resp HealthResponse
	decodeBody(t, rr, &resp)
	if !resp.OK || !resp.Connected || !resp.Authorized {
		t.Errorf("unexpected health payload: %+v", resp)
	}

	ts.conn.state = domain.StateDisconnected
	rr = ts.do(t, "GET", "/health", "")
	decodeBody(t, rr, &resp)
	if !resp.OK {
		t.Error("health must report ok while the process is up")
	}
	if resp.Connected || resp.Authorized {
		t.Errorf("disconnected state leaked as healthy: %+v", resp)
	}
}

func TestServer_Status(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, "GET", "/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}

	var resp StatusResponse
	decodeBody(t, rr, &resp)
	if resp.Connection.State != "READY" || !resp.Connection.Ready {
		t.Errorf("unexpected connection block: %+v", resp.Connection)
	}
	if resp.Connection.Reconnects != 2 {
		t.Errorf("reconnects %d, want 2", resp.Connection.Reconnects)
	}
	if resp.Account == nil || resp.Account.LoginID != "VRTC1234" {
		t.Errorf("account block missing or wrong: %+v", resp.Account)
	}
	if resp.Defaults.Symbol != "R_100" || resp.Defaults.Basis != "stake" {
		t.Errorf("unexpected defaults: %+v", resp.Defaults)
	}
	if resp.Market.Capacity != 10 {
		t.Errorf("market capacity %d, want 10", resp.Market.Capacity)
	}
}

func TestServer_TradeValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing contract type", `{"duration":3,"stake":0.35}`, "contract_type is required"},
		{"zero duration", `{"contract_type":"DIGITEVEN","stake":0.35}`, "duration must be a positive integer"},
		{"negative stake", `{"contract_type":"DIGITEVEN","duration":3,"stake":-1}`, "stake must be positive"},
		{"zero stake", `{"contract_type":"DIGITEVEN","duration":3,"stake":0}`, "stake must be positive"},
		{"malformed json", `{"contract_type":`, "invalid request body"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.do(t, "POST", "/trade", tc.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status %d, want 400", rr.Code)
			}
			var resp ErrorResponse
			decodeBody(t, rr, &resp)
			if resp.Error != tc.want {
				t.Errorf("error %q, want %q", resp.Error, tc.want)
			}
		})
	}
}

func TestServer_TradeAcceptedAndQueued(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, "POST", "/trade", `{"contract_type":"DIGITEVEN","duration":3,"stake":0.35}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rr.Code, rr.Body)
	}
	var first TradeResponse
	decodeBody(t, rr, &first)
	if !first.OK || !first.Accepted || first.Queued {
		t.Errorf("unexpected first trade response: %+v", first)
	}
	if first.RequestID == "" {
		t.Error("missing request id")
	}

	// The first trade is awaiting settlement; the second must queue.
	rr = ts.do(t, "POST", "/trade", `{"contract_type":"DIGITODD","duration":3,"stake":0.35}`)
	var second TradeResponse
	decodeBody(t, rr, &second)
	if !second.Accepted || !second.Queued || second.Position != 1 {
		t.Errorf("unexpected second trade response: %+v", second)
	}
}

func TestServer_TradeEngineClosed(t *testing.T) {
	ts := newTestServer(t)
	ts.engine.Close()

	rr := ts.do(t, "POST", "/trade", `{"contract_type":"DIGITEVEN","duration":3,"stake":0.35}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", rr.Code)
	}
	var resp ErrorResponse
	decodeBody(t, rr, &resp)
	if resp.Error != "trade submission failed" {
		t.Errorf("unexpected error %q", resp.Error)
	}
}

func TestServer_Subscribe(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, "POST", "/subscribe", `{"symbol":"R_25"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200: %s", rr.Code, rr.Body)
	}
	var resp SubscribeResponse
	decodeBody(t, rr, &resp)
	if !resp.OK || resp.Symbol != "R_25" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if got := ts.stream.Snapshot().Symbol; got != "R_25" {
		t.Errorf("stream bound to %q, want R_25", got)
	}
}

func TestServer_SubscribeMissingSymbol(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, "POST", "/subscribe", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rr.Code)
	}
	var resp ErrorResponse
	decodeBody(t, rr, &resp)
	if resp.Error != "missing symbol" {
		t.Errorf("unexpected error %q", resp.Error)
	}
}

func TestServer_SubscribeVenueFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.venue.subscribeErr = &deriv.APIError{Code: "InvalidSymbol", Message: "unknown symbol"}

	rr := ts.do(t, "POST", "/subscribe", `{"symbol":"BOGUS"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status %d, want 502", rr.Code)
	}
	var resp ErrorResponse
	decodeBody(t, rr, &resp)
	if !strings.Contains(resp.Detail, "InvalidSymbol") {
		t.Errorf("detail should carry the venue code: %q", resp.Detail)
	}
}

func TestServer_SetDefaults(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, "POST", "/set-defaults", `{"symbol":"R_75","basis":"payout"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}
	var resp DefaultsResponse
	decodeBody(t, rr, &resp)
	if resp.Defaults.Symbol != "R_75" || resp.Defaults.Basis != "payout" {
		t.Errorf("unexpected defaults: %+v", resp.Defaults)
	}
	if resp.Defaults.Currency != "USD" {
		t.Errorf("omitted field overwritten: currency %q", resp.Defaults.Currency)
	}

	if got := ts.defaults.Snapshot(); got.Symbol != "R_75" {
		t.Errorf("defaults store not updated: %+v", got)
	}
}

func TestServer_SetDefaultsInvalidBasis(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, "POST", "/set-defaults", `{"basis":"weird"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rr.Code)
	}
	if got := ts.defaults.Snapshot().Basis; got != "stake" {
		t.Errorf("invalid basis applied: %q", got)
	}
}

func TestServer_Trades(t *testing.T) {
	ts := newTestServer(t)

	profit := decimal.RequireFromString("0.30")
	for i, kind := range []string{domain.ResultKindWon, domain.ResultKindLost} {
		res := &domain.TradeResult{
			Kind:        kind,
			RequestID:   fmt.Sprintf("req-%d", i+1),
			ContractID:  int64(1000 + i),
			Profit:      &profit,
			StartedAt:   time.Now(),
			FinalizedAt: time.Now(),
		}
		if err := ts.journal.Record(context.Background(), res); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	rr := ts.do(t, "GET", "/trades", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}
	var resp TradesResponse
	decodeBody(t, rr, &resp)
	if resp.Count != 2 {
		t.Fatalf("count %d, want 2", resp.Count)
	}
	if resp.Trades[0].RequestID != "req-2" {
		t.Errorf("newest-first ordering broken: first is %q", resp.Trades[0].RequestID)
	}

	rr = ts.do(t, "GET", "/trades?limit=1", "")
	decodeBody(t, rr, &resp)
	if resp.Count != 1 {
		t.Errorf("limit ignored: count %d", resp.Count)
	}

	rr = ts.do(t, "GET", "/trades?limit=abc", "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid limit accepted: status %d", rr.Code)
	}
}

// newDisabledJournalServer builds a facade with the journal turned off,
// the way bootstrap wires it when JOURNAL_PATH is empty.
func newDisabledJournalServer(t *testing.T) *testServer {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	venue := &stubVenue{}
	defaults := domain.NewDefaults("R_100", "USD", "stake")
	stream := market.NewStream(venue, defaults, 10, false, log)

	eng := engine.NewEngine(venue, defaults, nil, time.Minute, log)
	eng.Start(context.Background())
	t.Cleanup(func() { eng.Close() })

	conn := &fakeConn{state: domain.StateReady}
	return &testServer{
		srv:      NewServer(conn, stream, eng, nil, defaults, log),
		venue:    venue,
		conn:     conn,
		engine:   eng,
		stream:   stream,
		defaults: defaults,
	}
}

func TestServer_TradesJournalDisabled(t *testing.T) {
	ts := newDisabledJournalServer(t)

	rr := ts.do(t, "GET", "/trades", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status %d, want 503", rr.Code)
	}
	var resp ErrorResponse
	decodeBody(t, rr, &resp)
	if resp.OK {
		t.Error("disabled journal must report ok=false")
	}
	if resp.Error != "trade journal disabled" {
		t.Errorf("unexpected error %q", resp.Error)
	}

	// Trading keeps working without persistence.
	trr := ts.do(t, "POST", "/trade", `{"contract_type":"DIGITEVEN","duration":3,"stake":0.35}`)
	if trr.Code != http.StatusOK {
		t.Fatalf("trade with journal disabled: status %d: %s", trr.Code, trr.Body)
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, "GET", "/trade", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status %d, want 405", rr.Code)
	}
}
