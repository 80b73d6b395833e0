package engine

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markbook/markbook/pkg/app/core"
	"github.com/markbook/markbook/pkg/app/core/market"
	"github.com/markbook/markbook/pkg/util"
)

// memGateway is an in-memory Gateway for engine tests. It records the same
// effects the Pebble store would, and can fail the next crossing commit to
// exercise the retry contract.
type memGateway struct {
	mu           sync.Mutex
	orders       map[string]*core.Order
	trades       []*core.Trade
	markets      []*core.Market
	commits      int
	failCommitAt int // 1-based index of the commit to fail once, 0 = never
}

func newMemGateway() *memGateway {
	return &memGateway{orders: make(map[string]*core.Order)}
}

func (g *memGateway) FindBest(marketID string, side core.Side) (*core.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var best *core.Order
	for _, o := range g.orders {
		if o.MarketID != marketID || o.Side != side {
			continue
		}
		if best == nil {
			best = o
			continue
		}
		better := o.Price > best.Price
		if side == core.Sell {
			better = o.Price < best.Price
		}
		if better || (o.Price == best.Price && o.CreatedAt < best.CreatedAt) {
			best = o
		}
	}
	return best, nil
}

func (g *memGateway) InsertOrder(o *core.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *o
	g.orders[o.ID] = &cp
	return nil
}

func (g *memGateway) UpdateOrderVolume(orderID string, newVolume int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mutate(core.OrderMutation{OrderID: orderID, NewVolume: newVolume})
}

func (g *memGateway) DeleteOrder(orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.orders[orderID]; !ok {
		return errors.New("order not found")
	}
	delete(g.orders, orderID)
	return nil
}

func (g *memGateway) CommitCrossing(t *core.Trade, buy, sell core.OrderMutation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commits++
	if g.failCommitAt != 0 && g.commits == g.failCommitAt {
		g.failCommitAt = 0
		return errors.New("store offline")
	}
	if err := g.mutate(buy); err != nil {
		return err
	}
	if err := g.mutate(sell); err != nil {
		return err
	}
	cp := *t
	g.trades = append(g.trades, &cp)
	return nil
}

func (g *memGateway) mutate(mut core.OrderMutation) error {
	o, ok := g.orders[mut.OrderID]
	if !ok {
		return errors.New("order not found")
	}
	if mut.NewVolume == 0 {
		delete(g.orders, mut.OrderID)
		return nil
	}
	o.Volume = mut.NewVolume
	return nil
}

func (g *memGateway) AppendTrade(t *core.Trade) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cp := *t
	g.trades = append(g.trades, &cp)
	return nil
}

func (g *memGateway) ListRecentTrades(marketID string, limit int) ([]*core.Trade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*core.Trade
	for i := len(g.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if marketID == "" || g.trades[i].MarketID == marketID {
			out = append(out, g.trades[i])
		}
	}
	return out, nil
}

func (g *memGateway) ListTrades(marketID string) ([]*core.Trade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*core.Trade
	for _, t := range g.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (g *memGateway) ListOpenOrders(marketID string) ([]*core.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*core.Order
	for _, o := range g.orders {
		if o.MarketID == marketID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (g *memGateway) ListMarkets() ([]*core.Market, error) { return g.markets, nil }
func (g *memGateway) InsertMarket(m *core.Market) error {
	g.markets = append(g.markets, m)
	return nil
}

const testMarket = "thesis-alpha"

func newTestEngine(t *testing.T) (*Engine, *memGateway) {
	t.Helper()
	gw := newMemGateway()
	reg := market.NewRegistry()
	require.NoError(t, reg.Register(&core.Market{MarketID: testMarket, DisplayName: "Thesis Alpha"}))
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	eng := New(gw, reg, NewAllowListPolicy(nil), nil, clock, nil)
	return eng, gw
}

func submit(t *testing.T, eng *Engine, user string, side core.Side, price, volume int64) *Result {
	t.Helper()
	res, err := eng.Submit(Submission{
		MarketID: testMarket,
		UserID:   user,
		Side:     side,
		Price:    price,
		Volume:   volume,
	})
	require.NoError(t, err)
	return res
}

// requireNoCross asserts the fixed-point postcondition: either a side is
// empty or best bid < best ask.
func requireNoCross(t *testing.T, eng *Engine) {
	t.Helper()
	bid, hasBid, ask, hasAsk := eng.BestQuotes(testMarket)
	if hasBid && hasAsk {
		require.Less(t, bid, ask, "live cross left after match")
	}
}

func TestSubmitValidationBoundaries(t *testing.T) {
	eng, gw := newTestEngine(t)

	tests := []struct {
		name   string
		sub    Submission
		reason string
	}{
		{
			name:   "price above cap",
			sub:    Submission{MarketID: testMarket, UserID: "alice", Side: core.Buy, Price: 101, Volume: 1},
			reason: "price",
		},
		{
			name:   "negative price",
			sub:    Submission{MarketID: testMarket, UserID: "alice", Side: core.Buy, Price: -1, Volume: 1},
			reason: "price",
		},
		{
			name:   "zero volume",
			sub:    Submission{MarketID: testMarket, UserID: "alice", Side: core.Sell, Price: 50, Volume: 0},
			reason: "volume",
		},
		{
			name:   "volume above cap",
			sub:    Submission{MarketID: testMarket, UserID: "alice", Side: core.Sell, Price: 50, Volume: 11},
			reason: "volume",
		},
		{
			name:   "missing identity",
			sub:    Submission{MarketID: testMarket, Side: core.Buy, Price: 50, Volume: 1},
			reason: "user",
		},
		{
			name:   "unknown market",
			sub:    Submission{MarketID: "nope", UserID: "alice", Side: core.Buy, Price: 50, Volume: 1},
			reason: "market",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Submit(tt.sub)
			require.Error(t, err)
			require.True(t, core.IsValidation(err), "want validation error, got %v", err)
		})
	}

	// Nothing may have reached the book or the store.
	assert.Equal(t, 0, eng.Book(testMarket).Len())
	assert.Empty(t, gw.orders)
}

func TestBoundaryPricesAccepted(t *testing.T) {
	eng, _ := newTestEngine(t)
	submit(t, eng, "alice", core.Buy, 0, 1)
	submit(t, eng, "bob", core.Sell, 100, 10)
	assert.Equal(t, 2, eng.Book(testMarket).Len())
}

func TestResting_NoCross(t *testing.T) {
	eng, gw := newTestEngine(t)

	res := submit(t, eng, "alice", core.Buy, 40, 5)
	assert.Empty(t, res.Trades, "submission below the ask crosses nothing")
	res = submit(t, eng, "bob", core.Sell, 60, 5)
	assert.Empty(t, res.Trades)

	assert.Len(t, gw.orders, 2, "both orders rest")
	requireNoCross(t, eng)
}

func TestPartialFill(t *testing.T) {
	eng, gw := newTestEngine(t)

	buy := submit(t, eng, "Alice", core.Buy, 60, 5)
	res := submit(t, eng, "Bob", core.Sell, 55, 3)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, int64(55), tr.Price, "price set by the resting sell")
	assert.Equal(t, int64(3), tr.Volume)
	assert.Equal(t, "Alice", tr.BuyerID)
	assert.Equal(t, "Bob", tr.SellerID)
	assert.Equal(t, buy.Order.ID, tr.BuyOrderID)
	assert.Equal(t, res.Order.ID, tr.SellOrderID)

	book := eng.Book(testMarket)
	assert.Equal(t, int64(2), book.Volume(buy.Order.ID), "buy order partially filled")
	assert.False(t, book.Contains(res.Order.ID), "sell order fully consumed")

	// The store mirrors the book.
	require.Contains(t, gw.orders, buy.Order.ID)
	assert.Equal(t, int64(2), gw.orders[buy.Order.ID].Volume)
	assert.NotContains(t, gw.orders, res.Order.ID)
	requireNoCross(t, eng)
}

func TestSelfTradeResolutionRemovesBuy(t *testing.T) {
	eng, gw := newTestEngine(t)

	buy := submit(t, eng, "Dana", core.Buy, 70, 2)
	sell := submit(t, eng, "Dana", core.Sell, 70, 2)

	assert.Empty(t, sell.Trades, "self-trade must not execute")

	book := eng.Book(testMarket)
	assert.False(t, book.Contains(buy.Order.ID), "blocked buy removed from the book")
	assert.Equal(t, int64(2), book.Volume(sell.Order.ID), "sell stays open for the next bid")
	assert.NotContains(t, gw.orders, buy.Order.ID)
	assert.Empty(t, gw.trades)
}

func TestSelfTradeAllowListBypass(t *testing.T) {
	gw := newMemGateway()
	reg := market.NewRegistry()
	require.NoError(t, reg.Register(&core.Market{MarketID: testMarket, DisplayName: "Thesis Alpha"}))
	eng := New(gw, reg, NewAllowListPolicy([]string{"Charlie"}), nil,
		util.NewManualClock(time.Unix(1_700_000_000, 0)), nil)

	submit(t, eng, "Charlie", core.Buy, 70, 2)
	res := submit(t, eng, "Charlie", core.Sell, 70, 2)

	require.Len(t, res.Trades, 1, "allow-listed identity may self-match")
	assert.Equal(t, "Charlie", res.Trades[0].BuyerID)
	assert.Equal(t, "Charlie", res.Trades[0].SellerID)
}

func TestSelfTradeResolutionContinuesWithNextBid(t *testing.T) {
	eng, _ := newTestEngine(t)

	submit(t, eng, "erin", core.Buy, 72, 1)  // best bid after Dana's removal
	submit(t, eng, "Dana", core.Buy, 75, 2)  // best bid, will be blocked
	res := submit(t, eng, "Dana", core.Sell, 70, 1)

	require.Len(t, res.Trades, 1, "loop continues past the blocked pairing")
	assert.Equal(t, "erin", res.Trades[0].BuyerID)
	assert.Equal(t, int64(70), res.Trades[0].Price)
	requireNoCross(t, eng)
}

func TestExhaustiveCrossing(t *testing.T) {
	eng, gw := newTestEngine(t)

	buy := submit(t, eng, "alice", core.Buy, 80, 4)

	res1 := submit(t, eng, "bob", core.Sell, 50, 1)
	require.Len(t, res1.Trades, 1)
	assert.Equal(t, int64(50), res1.Trades[0].Price)
	assert.Equal(t, int64(1), res1.Trades[0].Volume)

	res2 := submit(t, eng, "carol", core.Sell, 55, 3)
	require.Len(t, res2.Trades, 1)
	assert.Equal(t, int64(55), res2.Trades[0].Price)
	assert.Equal(t, int64(3), res2.Trades[0].Volume)

	assert.False(t, eng.Book(testMarket).Contains(buy.Order.ID), "buy fully consumed")
	assert.NotContains(t, gw.orders, buy.Order.ID)

	// Recorded in execution order, price priority honored: 50 before 55.
	require.Len(t, gw.trades, 2)
	assert.Equal(t, int64(50), gw.trades[0].Price)
	assert.Equal(t, int64(55), gw.trades[1].Price)
	requireNoCross(t, eng)
}

func TestMatchDrainsDeepCross(t *testing.T) {
	eng, gw := newTestEngine(t)

	// Several resting sells, then one large buy that crosses them all. The
	// loop must run to its fixed point inside a single submission, consuming
	// sells cheapest-first.
	submit(t, eng, "s1", core.Sell, 52, 2)
	submit(t, eng, "s2", core.Sell, 51, 3)
	submit(t, eng, "s3", core.Sell, 53, 4)

	res := submit(t, eng, "buyer", core.Buy, 53, 9)
	require.Len(t, res.Trades, 3)
	assert.Equal(t, []int64{51, 52, 53}, []int64{res.Trades[0].Price, res.Trades[1].Price, res.Trades[2].Price})

	var traded int64
	for _, tr := range res.Trades {
		traded += tr.Volume
	}
	assert.Equal(t, int64(9), traded, "volume conservation across the loop")
	assert.Equal(t, 0, eng.Book(testMarket).Len(), "book fully drained")
	assert.Len(t, gw.orders, 0)
	requireNoCross(t, eng)
}

func TestPriceTimePriority(t *testing.T) {
	eng, _ := newTestEngine(t)

	first := submit(t, eng, "early", core.Buy, 60, 1)
	submit(t, eng, "late", core.Buy, 60, 1)

	res := submit(t, eng, "seller", core.Sell, 60, 1)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "early", res.Trades[0].BuyerID, "earlier order at equal price fills first")
	assert.Equal(t, first.Order.ID, res.Trades[0].BuyOrderID)
}

func TestMatchIdempotentOnQuietBook(t *testing.T) {
	eng, _ := newTestEngine(t)

	submit(t, eng, "alice", core.Buy, 40, 2)
	submit(t, eng, "bob", core.Sell, 60, 2)

	before := eng.Book(testMarket).Len()
	trades, err := eng.Match(testMarket)
	require.NoError(t, err)
	assert.Empty(t, trades, "no new orders, no trades")
	assert.Equal(t, before, eng.Book(testMarket).Len(), "no book mutation")
}

func TestFailedCommitLeavesCrossLiveForRetry(t *testing.T) {
	eng, gw := newTestEngine(t)

	buy := submit(t, eng, "alice", core.Buy, 60, 2)

	gw.failCommitAt = gw.commits + 1
	res, err := eng.Submit(Submission{
		MarketID: testMarket, UserID: "bob", Side: core.Sell, Price: 55, Volume: 2,
	})
	require.Error(t, err)
	var pe *core.PersistenceError
	require.ErrorAs(t, err, &pe)

	// The order was accepted before the crossing failed, and the caller must
	// still learn its id.
	require.NotNil(t, res)
	require.NotNil(t, res.Order)
	assert.Empty(t, res.Trades)

	// Nothing of the crossing landed: both orders still rest at full volume.
	book := eng.Book(testMarket)
	assert.Equal(t, int64(2), book.Volume(buy.Order.ID))
	assert.Empty(t, gw.trades)

	// The cross is still live; the next match commits it whole.
	trades, err := eng.Match(testMarket)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(55), trades[0].Price)
	assert.Equal(t, int64(2), trades[0].Volume)
	requireNoCross(t, eng)
}

func TestSubmitReportsTradesCommittedBeforeFailure(t *testing.T) {
	eng, gw := newTestEngine(t)

	submit(t, eng, "s1", core.Sell, 51, 1)
	submit(t, eng, "s2", core.Sell, 52, 1)

	// One buy crosses both sells; the second crossing's commit fails. The
	// first trade is durable and must be reported alongside the error.
	gw.failCommitAt = gw.commits + 2
	res, err := eng.Submit(Submission{
		MarketID: testMarket, UserID: "buyer", Side: core.Buy, Price: 52, Volume: 2,
	})
	require.Error(t, err)
	var pe *core.PersistenceError
	require.ErrorAs(t, err, &pe)

	require.NotNil(t, res)
	require.Len(t, res.Trades, 1, "the committed trade must not be dropped")
	assert.Equal(t, int64(51), res.Trades[0].Price)
	require.Len(t, gw.trades, 1)
	assert.Equal(t, res.Trades[0].ID, gw.trades[0].ID)

	// The failed crossing left its orders untouched and still crossed.
	book := eng.Book(testMarket)
	assert.Equal(t, int64(1), book.Volume(res.Order.ID))

	trades, err := eng.Match(testMarket)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(52), trades[0].Price)
	requireNoCross(t, eng)
}

func TestHydrateRestoresBook(t *testing.T) {
	eng, gw := newTestEngine(t)
	submit(t, eng, "alice", core.Buy, 40, 2)
	submit(t, eng, "bob", core.Sell, 60, 3)

	// A fresh engine over the same gateway sees the same book.
	reg := market.NewRegistry()
	require.NoError(t, reg.Register(&core.Market{MarketID: testMarket, DisplayName: "Thesis Alpha"}))
	eng2 := New(gw, reg, NewAllowListPolicy(nil), nil, util.NewManualClock(time.Unix(1_700_000_100, 0)), nil)
	require.NoError(t, eng2.Hydrate())

	assert.Equal(t, 2, eng2.Book(testMarket).Len())
	bid, hasBid, ask, hasAsk := eng2.BestQuotes(testMarket)
	require.True(t, hasBid)
	require.True(t, hasAsk)
	assert.Equal(t, int64(40), bid)
	assert.Equal(t, int64(60), ask)
}

func TestConcurrentSubmissionsConserveVolume(t *testing.T) {
	eng, gw := newTestEngine(t)

	// Hammer one market from several goroutines. The per-market lock must
	// make each submit-then-match unit atomic: every trade consumes the
	// liquidity it reports exactly once, so volume in equals volume resting
	// plus volume traded on each side, and no live cross survives.
	const workers = 8
	const perWorker = 25

	type tally struct {
		buyVol, sellVol int64
		err             error
	}
	results := make(chan tally, workers)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			var tl tally
			for i := 0; i < perWorker; i++ {
				side := core.Buy
				if (w+i)%2 == 1 {
					side = core.Sell
				}
				sub := Submission{
					MarketID: testMarket,
					UserID:   fmt.Sprintf("%s-%d", side, w),
					Side:     side,
					Price:    int64(40 + (w*7+i*3)%21),
					Volume:   int64(1 + i%10),
				}
				if _, err := eng.Submit(sub); err != nil {
					tl.err = err
					break
				}
				if side == core.Buy {
					tl.buyVol += sub.Volume
				} else {
					tl.sellVol += sub.Volume
				}
			}
			results <- tl
		}(w)
	}
	wg.Wait()
	close(results)

	var buyIn, sellIn int64
	for tl := range results {
		require.NoError(t, tl.err)
		buyIn += tl.buyVol
		sellIn += tl.sellVol
	}

	gw.mu.Lock()
	var traded, buyRest, sellRest int64
	for _, tr := range gw.trades {
		traded += tr.Volume
	}
	for _, o := range gw.orders {
		if o.Side == core.Buy {
			buyRest += o.Volume
		} else {
			sellRest += o.Volume
		}
	}
	gw.mu.Unlock()

	assert.Equal(t, buyIn, buyRest+traded, "buy volume conservation")
	assert.Equal(t, sellIn, sellRest+traded, "sell volume conservation")
	requireNoCross(t, eng)
}

func TestCrossMarketIndependence(t *testing.T) {
	gw := newMemGateway()
	reg := market.NewRegistry()
	require.NoError(t, reg.Register(&core.Market{MarketID: "m1", DisplayName: "M1"}))
	require.NoError(t, reg.Register(&core.Market{MarketID: "m2", DisplayName: "M2"}))
	eng := New(gw, reg, NewAllowListPolicy(nil), nil, util.NewManualClock(time.Unix(1_700_000_000, 0)), nil)

	_, err := eng.Submit(Submission{MarketID: "m1", UserID: "a", Side: core.Buy, Price: 60, Volume: 1})
	require.NoError(t, err)
	res, err := eng.Submit(Submission{MarketID: "m2", UserID: "b", Side: core.Sell, Price: 50, Volume: 1})
	require.NoError(t, err)

	assert.Empty(t, res.Trades, "books never match across markets")
	assert.Equal(t, 1, eng.Book("m1").Len())
	assert.Equal(t, 1, eng.Book("m2").Len())
}
