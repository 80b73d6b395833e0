package api

import "github.com/markbook/markbook/pkg/app/core/orderbook"

// REST request/response types.

// MarketInfo describes one tradable market.
type MarketInfo struct {
	MarketID    string `json:"marketId"`
	DisplayName string `json:"displayName"`
}

// BookSnapshot is the aggregated order book for display, bids high to low
// and asks low to high.
type BookSnapshot struct {
	MarketID  string            `json:"marketId"`
	Bids      []orderbook.Level `json:"bids"`
	Asks      []orderbook.Level `json:"asks"`
	Timestamp int64             `json:"timestamp"` // Unix milliseconds
}

// TradeInfo is one executed trade as shown in the trade feed.
type TradeInfo struct {
	ID       string `json:"id"`
	MarketID string `json:"marketId"`
	BuyerID  string `json:"buyerId"`
	SellerID string `json:"sellerId"`
	Price    int64  `json:"price"`
	Volume   int64  `json:"volume"`
	Time     int64  `json:"time"` // Unix milliseconds
}

// LoginRequest carries the credentials for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse returns the bearer token for subsequent calls.
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// SubmitOrderRequest is the payload for POST /orders. The submitting identity
// comes from the session, never from the body.
type SubmitOrderRequest struct {
	MarketID string `json:"marketId"`
	Side     string `json:"side"` // "buy" or "sell"
	Price    int64  `json:"price"`
	Volume   int64  `json:"volume"`
}

// SubmitOrderResponse reports the accepted order and every trade the
// submission produced. An order that crossed nothing is still accepted.
type SubmitOrderResponse struct {
	Status  string      `json:"status"` // "accepted"
	OrderID string      `json:"orderId"`
	Trades  []TradeInfo `json:"trades"`
}

// PostCommentRequest is the payload for POST /newsfeed.
type PostCommentRequest struct {
	Comment string `json:"comment"`
}

// CommentInfo is one newsfeed entry. Deliberately anonymous.
type CommentInfo struct {
	ID      string `json:"id"`
	Comment string `json:"comment"`
	Time    int64  `json:"time"` // Unix milliseconds
}

// PricePoint is one step of the EMA series.
type PricePoint struct {
	Time  int64   `json:"time"` // Unix milliseconds
	Price int64   `json:"price"`
	EMA   float64 `json:"ema"`
}

// PriceHistoryResponse carries the chart data: the EMA series plus the
// current best quotes.
type PriceHistoryResponse struct {
	MarketID string       `json:"marketId"`
	Points   []PricePoint `json:"points"`
	BestBid  *int64       `json:"bestBid,omitempty"`
	BestAsk  *int64       `json:"bestAsk,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WebSocket message types.

// WSSubscribeRequest is sent by clients to manage channel subscriptions,
// e.g. {"op":"subscribe","channels":["trades:thesis-alice","newsfeed"]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// TradeUpdate is broadcast on the "trades:<market>" channel.
type TradeUpdate struct {
	Type     string `json:"type"` // "trade"
	MarketID string `json:"marketId"`
	Price    int64  `json:"price"`
	Volume   int64  `json:"volume"`
	Time     int64  `json:"time"`
}

// CommentUpdate is broadcast on the "newsfeed" channel.
type CommentUpdate struct {
	Type    string `json:"type"` // "comment"
	Comment string `json:"comment"`
	Time    int64  `json:"time"`
}
