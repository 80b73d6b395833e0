// Package engine drives the crossing algorithm over per-market order books.
// One submit-then-match unit of work runs to completion under a per-market
// lock; books for different markets operate fully in parallel.
package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markbook/markbook/pkg/app/core"
	"github.com/markbook/markbook/pkg/app/core/market"
	"github.com/markbook/markbook/pkg/app/core/orderbook"
	"github.com/markbook/markbook/pkg/util"
)

// Submission is an order request that already passed authentication. The
// engine is stateless with respect to "current user": the identity always
// arrives with the call.
type Submission struct {
	MarketID string
	UserID   string
	Side     core.Side
	Price    int64
	Volume   int64
}

// Result reports one accepted submission: the resting order as submitted and
// every trade the crossing loop produced. When a crossing fails to commit
// mid-loop, the Result still carries the order and the trades that durably
// committed before the failure; only the failed crossing is retried later.
type Result struct {
	Order  *core.Order
	Trades []*core.Trade
}

type marketBook struct {
	mu   sync.Mutex // serializes submit+match for this market
	book *orderbook.Book
}

// Engine crosses compatible interest into trades. All mutations flow through
// the gateway first; the in-memory book only advances after the durable write
// lands, so a failed crossing is simply retried as a whole on the next match.
type Engine struct {
	gw       core.Gateway
	registry *market.Registry
	policy   SelfTradePolicy
	clock    util.Clock
	log      *zap.Logger
	obs      Observer

	mu    sync.Mutex
	books map[string]*marketBook
}

func New(gw core.Gateway, reg *market.Registry, policy SelfTradePolicy, log *zap.Logger, clock util.Clock, obs Observer) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Engine{
		gw:       gw,
		registry: reg,
		policy:   policy,
		clock:    clock,
		log:      log,
		obs:      obs,
		books:    make(map[string]*marketBook),
	}
}

// Hydrate loads every market's resting orders from the gateway into memory.
// Call once at startup, before serving submissions.
func (e *Engine) Hydrate() error {
	for _, m := range e.registry.List() {
		mb := e.bookFor(m.MarketID)
		orders, err := e.gw.ListOpenOrders(m.MarketID)
		if err != nil {
			return &core.PersistenceError{Op: "list open orders", Err: err}
		}
		for _, o := range orders {
			cp := *o
			if err := mb.book.Insert(&cp); err != nil {
				return err
			}
		}
		e.log.Info("book hydrated",
			zap.String("market", m.MarketID),
			zap.Int("orders", len(orders)))
	}
	return nil
}

// Submit validates an order, rests it in the book, and immediately runs the
// crossing loop for its market. The whole sequence is atomic with respect to
// other submissions for the same market.
func (e *Engine) Submit(sub Submission) (*Result, error) {
	if sub.UserID == "" {
		e.obs.OrderRejected("unauthenticated")
		return nil, &core.ValidationError{Field: "user", Reason: "submission requires an authenticated identity"}
	}
	if sub.Side != core.Buy && sub.Side != core.Sell {
		e.obs.OrderRejected("side")
		return nil, &core.ValidationError{Field: "side", Reason: "must be buy or sell"}
	}
	if err := core.ValidateOrder(sub.Price, sub.Volume); err != nil {
		e.obs.OrderRejected("bounds")
		return nil, err
	}
	if !e.registry.Exists(sub.MarketID) {
		e.obs.OrderRejected("market")
		return nil, &core.ValidationError{Field: "market", Reason: fmt.Sprintf("unknown market %q", sub.MarketID)}
	}

	mb := e.bookFor(sub.MarketID)
	mb.mu.Lock()
	defer mb.mu.Unlock()

	order := &core.Order{
		ID:        uuid.NewString(),
		MarketID:  sub.MarketID,
		UserID:    sub.UserID,
		Side:      sub.Side,
		Price:     sub.Price,
		Volume:    sub.Volume,
		CreatedAt: e.clock.Now().UnixNano(),
	}

	if err := e.gw.InsertOrder(order); err != nil {
		return nil, &core.PersistenceError{Op: "insert order", Err: err}
	}
	cp := *order
	if err := mb.book.Insert(&cp); err != nil {
		return nil, err
	}
	e.obs.OrderAccepted(sub.MarketID)
	e.log.Info("order accepted",
		zap.String("market", sub.MarketID),
		zap.String("order", order.ID),
		zap.String("user", order.UserID),
		zap.Stringer("side", order.Side),
		zap.Int64("price", order.Price),
		zap.Int64("volume", order.Volume))

	// A mid-loop commit failure still returns the accepted order and every
	// trade that landed before it; the live cross is retried by the next
	// match. Dropping them here would hide durable work from the caller.
	trades, err := e.matchLocked(mb, sub.MarketID)
	return &Result{Order: order, Trades: trades}, err
}

// Match runs the crossing loop for one market to its fixed point and returns
// the trades produced. Matching a quiet book is a no-op.
func (e *Engine) Match(marketID string) ([]*core.Trade, error) {
	if !e.registry.Exists(marketID) {
		return nil, &core.ValidationError{Field: "market", Reason: fmt.Sprintf("unknown market %q", marketID)}
	}
	mb := e.bookFor(marketID)
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return e.matchLocked(mb, marketID)
}

// matchLocked is the crossing loop. Caller holds the market lock.
//
// Each iteration either produces a trade (total book volume strictly
// decreases) or removes a blocked buy order, so the loop terminates after at
// most the number of resident orders.
func (e *Engine) matchLocked(mb *marketBook, marketID string) ([]*core.Trade, error) {
	started := time.Now()
	var trades []*core.Trade
	defer func() {
		e.obs.MatchLoop(marketID, time.Since(started), len(trades))
		e.obs.BookDepth(marketID, mb.book.Len())
	}()

	for {
		bid := mb.book.BestBid()
		ask := mb.book.BestAsk()
		if bid == nil || ask == nil {
			return trades, nil
		}
		if bid.Price < ask.Price {
			// No cross left: fixed point reached.
			return trades, nil
		}

		if !e.policy.IsAllowed(bid.UserID, ask.UserID) {
			// Blocked pairing. Remove the resting buy so the loop makes
			// progress with the next-best bid; no trade is recorded.
			if err := e.gw.DeleteOrder(bid.ID); err != nil {
				return trades, &core.PersistenceError{Op: "delete blocked order", Err: err}
			}
			mb.book.Remove(bid.ID)
			e.obs.SelfTradeRemoval(marketID)
			e.log.Info("self-trade pairing removed",
				zap.String("market", marketID),
				zap.String("order", bid.ID),
				zap.String("user", bid.UserID))
			continue
		}

		volume := bid.Volume
		if ask.Volume < volume {
			volume = ask.Volume
		}
		// The resting sell's quote sets the price: the aggressor always
		// receives the improvement.
		trade := &core.Trade{
			ID:          uuid.NewString(),
			MarketID:    marketID,
			BuyOrderID:  bid.ID,
			SellOrderID: ask.ID,
			BuyerID:     bid.UserID,
			SellerID:    ask.UserID,
			Price:       ask.Price,
			Volume:      volume,
			ExecutedAt:  e.clock.Now().UnixNano(),
		}

		err := e.gw.CommitCrossing(trade,
			core.OrderMutation{OrderID: bid.ID, NewVolume: bid.Volume - volume},
			core.OrderMutation{OrderID: ask.ID, NewVolume: ask.Volume - volume},
		)
		if err != nil {
			// Nothing of this crossing reached memory; the cross is still
			// live and will be retried whole on the next match.
			return trades, &core.PersistenceError{Op: "commit crossing", Err: err}
		}

		if err := mb.book.ReduceVolume(bid.ID, volume); err != nil {
			return trades, err
		}
		if err := mb.book.ReduceVolume(ask.ID, volume); err != nil {
			return trades, err
		}

		trades = append(trades, trade)
		e.obs.TradeExecuted(marketID, volume)
		e.log.Info("trade executed",
			zap.String("market", marketID),
			zap.String("trade", trade.ID),
			zap.String("buyer", trade.BuyerID),
			zap.String("seller", trade.SellerID),
			zap.Int64("price", trade.Price),
			zap.Int64("volume", trade.Volume))
	}
}

// Levels returns the aggregated book for display, bids best-first and asks
// best-first.
func (e *Engine) Levels(marketID string) (bids, asks []orderbook.Level, err error) {
	if !e.registry.Exists(marketID) {
		return nil, nil, &core.ValidationError{Field: "market", Reason: fmt.Sprintf("unknown market %q", marketID)}
	}
	mb := e.bookFor(marketID)
	return mb.book.BidLevels(), mb.book.AskLevels(), nil
}

// BestQuotes returns the current best bid and ask prices. The booleans report
// whether the side is populated.
func (e *Engine) BestQuotes(marketID string) (bid int64, hasBid bool, ask int64, hasAsk bool) {
	mb := e.bookFor(marketID)
	if o := mb.book.BestBid(); o != nil {
		bid, hasBid = o.Price, true
	}
	if o := mb.book.BestAsk(); o != nil {
		ask, hasAsk = o.Price, true
	}
	return
}

// Book exposes the market's book for tests and read-only inspection.
func (e *Engine) Book(marketID string) *orderbook.Book {
	return e.bookFor(marketID).book
}

func (e *Engine) bookFor(marketID string) *marketBook {
	e.mu.Lock()
	defer e.mu.Unlock()
	mb, ok := e.books[marketID]
	if !ok {
		mb = &marketBook{book: orderbook.New()}
		e.books[marketID] = mb
	}
	return mb
}
