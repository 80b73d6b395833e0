// Package api is the HTTP shell around the matching core: REST endpoints for
// the market screens, session login, order submission, the newsfeed, and a
// WebSocket feed of executed trades and posted comments.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/markbook/markbook/pkg/app/core"
	"github.com/markbook/markbook/pkg/app/core/engine"
	"github.com/markbook/markbook/pkg/app/core/ledger"
	"github.com/markbook/markbook/pkg/app/core/market"
	"github.com/markbook/markbook/pkg/app/core/newsfeed"
	"github.com/markbook/markbook/pkg/app/core/pricehist"
	"github.com/markbook/markbook/pkg/app/core/user"
)

// Telemetry receives API-side events. Satisfied by metrics.Monitor.
type Telemetry interface {
	CommentPosted()
	WSConnected()
	WSDisconnected()
}

type nopTelemetry struct{}

func (nopTelemetry) CommentPosted()  {}
func (nopTelemetry) WSConnected()    {}
func (nopTelemetry) WSDisconnected() {}

// Config carries the server's knobs.
type Config struct {
	AllowedOrigins []string
	SessionTTL     time.Duration
	Telemetry      Telemetry
}

// Server wires the HTTP surface to the core services.
type Server struct {
	engine   *engine.Engine
	registry *market.Registry
	ledger   *ledger.Ledger
	deriver  *pricehist.Deriver
	feed     *newsfeed.Feed
	users    *user.Manager
	sessions *SessionManager
	hub      *Hub
	router   *mux.Router
	log      *zap.Logger
	cfg      Config
}

func NewServer(
	eng *engine.Engine,
	reg *market.Registry,
	led *ledger.Ledger,
	der *pricehist.Deriver,
	feed *newsfeed.Feed,
	users *user.Manager,
	log *zap.Logger,
	cfg Config,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = nopTelemetry{}
	}

	s := &Server{
		engine:   eng,
		registry: reg,
		ledger:   led,
		deriver:  der,
		feed:     feed,
		users:    users,
		sessions: NewSessionManager(cfg.SessionTTL, nil),
		hub:      NewHub(log),
		router:   mux.NewRouter(),
		log:      log,
		cfg:      cfg,
	}
	s.hub.SetConnectionHooks(cfg.Telemetry.WSConnected, cfg.Telemetry.WSDisconnected)
	s.setupRoutes()
	go s.hub.Run()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/login", s.handleLogin).Methods("POST")
	api.HandleFunc("/auth/logout", s.handleLogout).Methods("POST")

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{id}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{id}/trades", s.handleGetMarketTrades).Methods("GET")
	api.HandleFunc("/markets/{id}/pricehistory", s.handleGetPriceHistory).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")

	api.HandleFunc("/newsfeed", s.handleGetNewsfeed).Methods("GET")
	api.HandleFunc("/newsfeed", s.handlePostComment).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the fully wired handler, CORS included. Exposed for tests.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves until the listener fails.
func (s *Server) Start(addr string) error {
	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Handler())
}

// ==============================
// Auth
// ==============================

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	username, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrBadCredentials) {
			respondError(w, http.StatusUnauthorized, "invalid username or password", "")
			return
		}
		s.log.Error("authenticate failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "login unavailable", "")
		return
	}

	token, err := s.sessions.Open(username)
	if err != nil {
		s.log.Error("session open failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "login unavailable", "")
		return
	}
	respondJSON(w, LoginResponse{Token: token, Username: username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := bearerToken(r); token != "" {
		s.sessions.Close(token)
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

// authenticate resolves the caller's identity, or writes a 401 and returns
// false.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, "must be logged in", "")
		return "", false
	}
	username, ok := s.sessions.Resolve(token)
	if !ok {
		respondError(w, http.StatusUnauthorized, "session expired or invalid", "")
		return "", false
	}
	return username, true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// ==============================
// Markets and books
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.registry.List()
	out := make([]MarketInfo, len(markets))
	for i, m := range markets {
		out[i] = MarketInfo{MarketID: m.MarketID, DisplayName: m.DisplayName}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["id"]
	bids, asks, err := s.engine.Levels(marketID)
	if err != nil {
		respondError(w, http.StatusNotFound, "market not found", marketID)
		return
	}
	respondJSON(w, BookSnapshot{
		MarketID:  marketID,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetMarketTrades(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["id"]
	if !s.registry.Exists(marketID) {
		respondError(w, http.StatusNotFound, "market not found", marketID)
		return
	}
	s.respondTrades(w, marketID, queryLimit(r, ledger.DefaultRecentLimit))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	s.respondTrades(w, "", queryLimit(r, ledger.DefaultRecentLimit))
}

func (s *Server) respondTrades(w http.ResponseWriter, marketID string, limit int) {
	trades, err := s.ledger.Recent(marketID, limit)
	if err != nil {
		s.log.Error("list trades failed", zap.String("market", marketID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "trade history unavailable", "")
		return
	}
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = tradeInfo(t)
	}
	respondJSON(w, out)
}

func (s *Server) handleGetPriceHistory(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["id"]
	if !s.registry.Exists(marketID) {
		respondError(w, http.StatusNotFound, "market not found", marketID)
		return
	}

	points, err := s.deriver.History(marketID)
	if err != nil {
		s.log.Error("price history failed", zap.String("market", marketID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "price history unavailable", "")
		return
	}

	resp := PriceHistoryResponse{MarketID: marketID, Points: make([]PricePoint, len(points))}
	for i, p := range points {
		resp.Points[i] = PricePoint{Time: p.At / int64(time.Millisecond), Price: p.Price, EMA: p.EMA}
	}
	bid, hasBid, ask, hasAsk := s.engine.BestQuotes(marketID)
	if hasBid {
		resp.BestBid = &bid
	}
	if hasAsk {
		resp.BestAsk = &ask
	}
	respondJSON(w, resp)
}

// ==============================
// Orders
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	username, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	side, ok := core.ParseSide(req.Side)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid side", "must be \"buy\" or \"sell\"")
		return
	}

	result, err := s.engine.Submit(engine.Submission{
		MarketID: req.MarketID,
		UserID:   username,
		Side:     side,
		Price:    req.Price,
		Volume:   req.Volume,
	})
	if err != nil {
		if core.IsValidation(err) {
			respondError(w, http.StatusBadRequest, "order rejected", err.Error())
			return
		}
		s.log.Error("order submission failed",
			zap.String("market", req.MarketID),
			zap.String("user", username),
			zap.Error(err))
		if result == nil {
			respondError(w, http.StatusServiceUnavailable, "order not accepted", "try again")
			return
		}
		// The order rests durably and some trades may have committed before
		// the failure; report them rather than inviting a duplicate
		// submission. The unresolved cross is retried on the next match.
	}

	resp := SubmitOrderResponse{
		Status:  "accepted",
		OrderID: result.Order.ID,
		Trades:  make([]TradeInfo, len(result.Trades)),
	}
	for i, t := range result.Trades {
		resp.Trades[i] = tradeInfo(t)
		s.hub.Broadcast("trades:"+t.MarketID, TradeUpdate{
			Type:     "trade",
			MarketID: t.MarketID,
			Price:    t.Price,
			Volume:   t.Volume,
			Time:     t.ExecutedAt / int64(time.Millisecond),
		})
	}
	respondJSON(w, resp)
}

// ==============================
// Newsfeed
// ==============================

func (s *Server) handleGetNewsfeed(w http.ResponseWriter, r *http.Request) {
	comments, err := s.feed.Recent(queryLimit(r, newsfeed.DefaultRecentLimit))
	if err != nil {
		s.log.Error("list comments failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "newsfeed unavailable", "")
		return
	}
	out := make([]CommentInfo, len(comments))
	for i, c := range comments {
		out[i] = CommentInfo{ID: c.ID, Comment: c.Body, Time: c.CreatedAt / int64(time.Millisecond)}
	}
	respondJSON(w, out)
}

func (s *Server) handlePostComment(w http.ResponseWriter, r *http.Request) {
	// Posting requires a session, but the stored comment stays anonymous.
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	var req PostCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	c, err := s.feed.Post(req.Comment)
	if err != nil {
		if core.IsValidation(err) {
			respondError(w, http.StatusBadRequest, "comment rejected", err.Error())
			return
		}
		s.log.Error("post comment failed", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, "comment not posted", "try again")
		return
	}

	s.cfg.Telemetry.CommentPosted()
	s.hub.Broadcast("newsfeed", CommentUpdate{
		Type:    "comment",
		Comment: c.Body,
		Time:    c.CreatedAt / int64(time.Millisecond),
	})
	respondJSON(w, CommentInfo{ID: c.ID, Comment: c.Body, Time: c.CreatedAt / int64(time.Millisecond)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func tradeInfo(t *core.Trade) TradeInfo {
	return TradeInfo{
		ID:       t.ID,
		MarketID: t.MarketID,
		BuyerID:  t.BuyerID,
		SellerID: t.SellerID,
		Price:    t.Price,
		Volume:   t.Volume,
		Time:     t.ExecutedAt / int64(time.Millisecond),
	}
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		return fallback
	}
	return n
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}
