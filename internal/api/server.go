package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/Wakaba24/deriv-fast-backend/internal/domain"
	"github.com/Wakaba24/deriv-fast-backend/internal/engine"
	"github.com/Wakaba24/deriv-fast-backend/internal/infra/deriv"
	"github.com/Wakaba24/deriv-fast-backend/internal/market"
	"github.com/Wakaba24/deriv-fast-backend/internal/storage"
)

// Conn is the connection view the facade reports. *deriv.Client satisfies it.
type Conn interface {
	State() domain.ConnState
	Ready() bool
	LastError() string
	Reconnects() int64
	PendingRequests() int
	Account() *deriv.AuthorizeResult
}

// Server is the thin HTTP facade over the trading core: field validation,
// JSON marshaling, and nothing else. All state lives in the components.
type Server struct {
	router   *mux.Router
	log      *slog.Logger
	conn     Conn
	stream   *market.Stream
	engine   *engine.Engine
	journal  *storage.Journal // nil when disabled
	defaults *domain.Defaults
	started  time.Time
}

func NewServer(conn Conn, stream *market.Stream, eng *engine.Engine, journal *storage.Journal, defaults *domain.Defaults, log *slog.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		log:      log.With("component", "api"),
		conn:     conn,
		stream:   stream,
		engine:   eng,
		journal:  journal,
		defaults: defaults,
		started:  time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/trades", s.handleTrades).Methods("GET")
	s.router.HandleFunc("/set-defaults", s.handleSetDefaults).Methods("POST")
	s.router.HandleFunc("/subscribe", s.handleSubscribe).Methods("POST")
	s.router.HandleFunc("/trade", s.handleTrade).Methods("POST")
}

// Handler wraps the router with CORS for the given origin allowlist.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.conn.State()
	respondJSON(w, HealthResponse{
		OK:         true,
		Connected:  state >= domain.StateConnected,
		Authorized: state == domain.StateReady,
		Time:       time.Now().UnixMilli(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Connection: ConnectionStatus{
			State:           s.conn.State().String(),
			Ready:           s.conn.Ready(),
			LastError:       s.conn.LastError(),
			Reconnects:      s.conn.Reconnects(),
			PendingRequests: s.conn.PendingRequests(),
			UptimeSec:       int64(time.Since(s.started).Seconds()),
		},
		Account:  s.conn.Account(),
		Market:   s.stream.Snapshot(),
		Engine:   s.engine.Status(),
		Defaults: s.defaults.Snapshot(),
	}
	respondJSON(w, resp)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusServiceUnavailable, "trade journal disabled", "")
		return
	}

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", q)
			return
		}
		limit = n
	}

	results, err := s.journal.List(r.Context(), limit)
	if err != nil {
		s.log.Error("journal read failed", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to read trade journal", err.Error())
		return
	}
	if results == nil {
		results = []*domain.TradeResult{}
	}
	respondJSON(w, TradesResponse{Count: len(results), Trades: results})
}

func (s *Server) handleSetDefaults(w http.ResponseWriter, r *http.Request) {
	var patch domain.DefaultValues
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if patch.Basis != "" && patch.Basis != domain.BasisStake && patch.Basis != domain.BasisPayout {
		respondError(w, http.StatusBadRequest, "basis must be stake or payout", patch.Basis)
		return
	}

	updated := s.defaults.Update(patch)
	s.log.Info("defaults updated", "symbol", updated.Symbol, "currency", updated.Currency, "basis", updated.Basis)
	respondJSON(w, DefaultsResponse{OK: true, Defaults: updated})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Symbol == "" {
		respondError(w, http.StatusBadRequest, "missing symbol", "")
		return
	}

	if err := s.stream.Subscribe(r.Context(), req.Symbol); err != nil {
		respondError(w, http.StatusBadGateway, "subscribe failed", err.Error())
		return
	}
	respondJSON(w, SubscribeResponse{OK: true, Symbol: req.Symbol})
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var params domain.OrderParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if params.ContractType == "" {
		respondError(w, http.StatusBadRequest, "contract_type is required", "")
		return
	}
	if params.Duration <= 0 {
		respondError(w, http.StatusBadRequest, "duration must be a positive integer", "")
		return
	}
	if params.Stake.Sign() <= 0 {
		respondError(w, http.StatusBadRequest, "stake must be positive", "")
		return
	}

	adm, err := s.engine.Submit(params)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade submission failed", err.Error())
		return
	}

	respondJSON(w, TradeResponse{
		OK:        true,
		Accepted:  true,
		Queued:    adm.Queued,
		RequestID: adm.RequestID,
		Position:  adm.Position,
	})
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg string, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Detail: detail})
}
