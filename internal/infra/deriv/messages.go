package deriv

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Message types echoed by the venue in the msg_type field.
const (
	MsgTypeAuthorize    = "authorize"
	MsgTypeTick         = "tick"
	MsgTypeProposal     = "proposal"
	MsgTypeBuy          = "buy"
	MsgTypeOpenContract = "proposal_open_contract"
)

// Request is an outbound message that carries a correlation id. The id is
// assigned by the client when the request is transmitted.
type Request interface {
	setReqID(id int64)
}

type reqID struct {
	ReqID int64 `json:"req_id,omitempty"`
}

func (r *reqID) setReqID(id int64) { r.ReqID = id }

// AuthorizeRequest authenticates the session with an API token.
type AuthorizeRequest struct {
	Authorize string `json:"authorize"`
	reqID
}

// PingRequest is the application-level keepalive. It is deliberately not
// correlated; nobody waits for the pong.
type PingRequest struct {
	Ping int `json:"ping"`
}

// TicksRequest subscribes to the tick stream of one symbol.
type TicksRequest struct {
	Ticks     string `json:"ticks"`
	Subscribe int    `json:"subscribe,omitempty"`
	reqID
}

// ProposalRequest asks the venue to price a contract before purchase.
type ProposalRequest struct {
	Proposal     int         `json:"proposal"`
	Amount       json.Number `json:"amount"`
	Basis        string      `json:"basis"`
	ContractType string      `json:"contract_type"`
	Currency     string      `json:"currency"`
	Duration     int         `json:"duration"`
	DurationUnit string      `json:"duration_unit"`
	Symbol       string      `json:"symbol"`
	Barrier      string      `json:"barrier,omitempty"`
	Prediction   *int        `json:"prediction,omitempty"`
	reqID
}

// BuyRequest purchases a previously priced proposal.
type BuyRequest struct {
	Buy   string      `json:"buy"`
	Price json.Number `json:"price"`
	reqID
}

// OpenContractRequest subscribes to settlement updates for a contract.
type OpenContractRequest struct {
	ProposalOpenContract int   `json:"proposal_open_contract"`
	ContractID           int64 `json:"contract_id"`
	Subscribe            int   `json:"subscribe,omitempty"`
	reqID
}

// APIError is the error object the venue embeds in a failed response.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue error %s: %s", e.Code, e.Message)
}

// Response is one parsed inbound message. Raw retains the full body so the
// payload can be decoded by message type after routing.
type Response struct {
	MsgType string
	ReqID   int64
	Err     *APIError
	Raw     json.RawMessage
}

func parseResponse(data []byte) (*Response, error) {
	var env struct {
		MsgType string    `json:"msg_type"`
		ReqID   int64     `json:"req_id"`
		Error   *APIError `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed venue message: %w", err)
	}
	return &Response{MsgType: env.MsgType, ReqID: env.ReqID, Err: env.Error, Raw: data}, nil
}

// AuthorizeResult is the account snapshot returned on authorization.
type AuthorizeResult struct {
	LoginID   string          `json:"loginid"`
	Email     string          `json:"email"`
	FullName  string          `json:"fullname"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	IsVirtual int             `json:"is_virtual"`
}

// TickPayload is one price update from the tick stream.
type TickPayload struct {
	Symbol  string          `json:"symbol"`
	Quote   decimal.Decimal `json:"quote"`
	Bid     decimal.Decimal `json:"bid"`
	Ask     decimal.Decimal `json:"ask"`
	Epoch   int64           `json:"epoch"`
	PipSize int             `json:"pip_size"`
	ID      string          `json:"id,omitempty"`
}

// ProposalResult is the venue's priced offer for a contract.
type ProposalResult struct {
	ID           string          `json:"id"`
	AskPrice     decimal.Decimal `json:"ask_price"`
	Payout       decimal.Decimal `json:"payout"`
	Spot         decimal.Decimal `json:"spot"`
	DisplayValue string          `json:"display_value"`
	Longcode     string          `json:"longcode"`
}

// BuyResult confirms a purchase and names the contract to track.
type BuyResult struct {
	ContractID    int64           `json:"contract_id"`
	TransactionID int64           `json:"transaction_id"`
	BuyPrice      decimal.Decimal `json:"buy_price"`
	Payout        decimal.Decimal `json:"payout"`
	StartTime     int64           `json:"start_time"`
	PurchaseTime  int64           `json:"purchase_time"`
	Longcode      string          `json:"longcode"`
}

// ContractUpdate is one settlement stream event for an open contract.
// Monetary fields are pointers because partial updates omit them.
type ContractUpdate struct {
	ContractID     int64            `json:"contract_id"`
	Status         string           `json:"status"`
	IsSold         int              `json:"is_sold"`
	Profit         *decimal.Decimal `json:"profit,omitempty"`
	Payout         *decimal.Decimal `json:"payout,omitempty"`
	BuyPrice       *decimal.Decimal `json:"buy_price,omitempty"`
	SellPrice      *decimal.Decimal `json:"sell_price,omitempty"`
	ExitTick       *decimal.Decimal `json:"exit_tick,omitempty"`
	ExitTickTime   int64            `json:"exit_tick_time,omitempty"`
	CurrentSpot    *decimal.Decimal `json:"current_spot,omitempty"`
	Longcode       string           `json:"longcode,omitempty"`
	TransactionIDs struct {
		Buy  int64 `json:"buy"`
		Sell int64 `json:"sell"`
	} `json:"transaction_ids"`
}

// Final reports whether the update describes a settled contract. Anything
// else is an intermediate tick-by-tick update and carries no outcome.
func (u *ContractUpdate) Final() bool {
	if u.IsSold == 1 {
		return true
	}
	switch u.Status {
	case "won", "lost", "sold":
		return true
	}
	return false
}

// Authorize decodes the authorization payload.
func (r *Response) Authorize() (*AuthorizeResult, error) {
	var body struct {
		Authorize *AuthorizeResult `json:"authorize"`
	}
	if err := json.Unmarshal(r.Raw, &body); err != nil {
		return nil, err
	}
	if body.Authorize == nil {
		return nil, fmt.Errorf("message %q carries no authorize payload", r.MsgType)
	}
	return body.Authorize, nil
}

// Tick decodes the tick payload.
func (r *Response) Tick() (*TickPayload, error) {
	var body struct {
		Tick *TickPayload `json:"tick"`
	}
	if err := json.Unmarshal(r.Raw, &body); err != nil {
		return nil, err
	}
	if body.Tick == nil {
		return nil, fmt.Errorf("message %q carries no tick payload", r.MsgType)
	}
	return body.Tick, nil
}

// Proposal decodes the proposal payload.
func (r *Response) Proposal() (*ProposalResult, error) {
	var body struct {
		Proposal *ProposalResult `json:"proposal"`
	}
	if err := json.Unmarshal(r.Raw, &body); err != nil {
		return nil, err
	}
	if body.Proposal == nil {
		return nil, fmt.Errorf("message %q carries no proposal payload", r.MsgType)
	}
	return body.Proposal, nil
}

// Buy decodes the buy payload.
func (r *Response) Buy() (*BuyResult, error) {
	var body struct {
		Buy *BuyResult `json:"buy"`
	}
	if err := json.Unmarshal(r.Raw, &body); err != nil {
		return nil, err
	}
	if body.Buy == nil {
		return nil, fmt.Errorf("message %q carries no buy payload", r.MsgType)
	}
	return body.Buy, nil
}

// Contract decodes the settlement update payload.
func (r *Response) Contract() (*ContractUpdate, error) {
	var body struct {
		Contract *ContractUpdate `json:"proposal_open_contract"`
	}
	if err := json.Unmarshal(r.Raw, &body); err != nil {
		return nil, err
	}
	if body.Contract == nil {
		return nil, fmt.Errorf("message %q carries no contract payload", r.MsgType)
	}
	return body.Contract, nil
}
