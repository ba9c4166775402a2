package api

import (
	"github.com/Wakaba24/deriv-fast-backend/internal/domain"
	"github.com/Wakaba24/deriv-fast-backend/internal/engine"
	"github.com/Wakaba24/deriv-fast-backend/internal/infra/deriv"
	"github.com/Wakaba24/deriv-fast-backend/internal/market"
)

type HealthResponse struct {
	OK         bool  `json:"ok"`
	Connected  bool  `json:"connected"`
	Authorized bool  `json:"authorized"`
	Time       int64 `json:"time"`
}

type ConnectionStatus struct {
	State           string `json:"state"`
	Ready           bool   `json:"ready"`
	LastError       string `json:"last_error,omitempty"`
	Reconnects      int64  `json:"reconnects"`
	PendingRequests int    `json:"pending_requests"`
	UptimeSec       int64  `json:"uptime_sec"`
}

type StatusResponse struct {
	Connection ConnectionStatus       `json:"connection"`
	Account    *deriv.AuthorizeResult `json:"account,omitempty"`
	Market     market.Snapshot        `json:"market"`
	Engine     engine.Status          `json:"engine"`
	Defaults   domain.DefaultValues   `json:"defaults"`
}

type TradesResponse struct {
	Count  int                   `json:"count"`
	Trades []*domain.TradeResult `json:"trades"`
}

type DefaultsResponse struct {
	OK       bool                 `json:"ok"`
	Defaults domain.DefaultValues `json:"defaults"`
}

type SubscribeRequest struct {
	Symbol string `json:"symbol"`
}

type SubscribeResponse struct {
	OK     bool   `json:"ok"`
	Symbol string `json:"symbol"`
}

type TradeResponse struct {
	OK        bool   `json:"ok"`
	Accepted  bool   `json:"accepted"`
	Queued    bool   `json:"queued"`
	RequestID string `json:"request_id"`
	Position  int    `json:"queue_position,omitempty"`
}

// ErrorResponse is the error body shared by all handlers. OK is always
// false; it is kept explicit so callers can branch on one field.
type ErrorResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
