// Package orderbook holds the per-market view of resting orders, partitioned
// by side with price-time priority. The book is pure state: the crossing
// algorithm lives in the engine package and drives it through BestBid,
// BestAsk, ReduceVolume and Remove.
package orderbook

import (
	"sync"

	"github.com/markbook/markbook/pkg/app/core"
)

// Level aggregates resting volume at one price, for display snapshots.
type Level struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
	Orders int   `json:"orders"`
}

type ref struct {
	side  core.Side
	price int64
}

// Book is a single market's order book. Heaps give O(1) best-price peeks;
// FIFO slices per price level give time priority within a price.
type Book struct {
	mu sync.RWMutex

	bidHeap *priceHeap
	askHeap *priceHeap

	bids map[int64][]*core.Order // price -> FIFO queue
	asks map[int64][]*core.Order

	index map[string]ref // order ID -> side+price, for O(1) lookup
}

func New() *Book {
	return &Book{
		bidHeap: newPriceHeap(true),
		askHeap: newPriceHeap(false),
		bids:    make(map[int64][]*core.Order),
		asks:    make(map[int64][]*core.Order),
		index:   make(map[string]ref),
	}
}

// Insert adds an open order to its side. Domain bounds are validated at the
// submission boundary, not here. Orders must arrive in CreatedAt order within
// a price level; the engine's per-market serialization guarantees that, and
// startup hydration feeds orders in stored (time-ascending) order.
func (b *Book) Insert(o *core.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dup := b.index[o.ID]; dup {
		return core.Invariantf("order %s inserted twice", o.ID)
	}
	if o.Volume <= 0 {
		return core.Invariantf("order %s inserted with volume %d", o.ID, o.Volume)
	}

	side, hp := b.bids, b.bidHeap
	if o.Side == core.Sell {
		side, hp = b.asks, b.askHeap
	}
	if len(side[o.Price]) == 0 {
		hp.push(o.Price)
	}
	side[o.Price] = append(side[o.Price], o)
	b.index[o.ID] = ref{side: o.Side, price: o.Price}
	return nil
}

// BestBid returns the highest-priced buy order, earliest first within the
// price. Nil when there are no buys.
func (b *Book) BestBid() *core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.best(b.bids, b.bidHeap)
}

// BestAsk returns the lowest-priced sell order, earliest first within the
// price. Nil when there are no sells.
func (b *Book) BestAsk() *core.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.best(b.asks, b.askHeap)
}

func (b *Book) best(side map[int64][]*core.Order, hp *priceHeap) *core.Order {
	p, ok := hp.peek()
	if !ok {
		return nil
	}
	level := side[p]
	if len(level) == 0 {
		// Heap and level maps are mutated together; an empty level under a
		// live heap entry cannot happen.
		return nil
	}
	return level[0]
}

// ReduceVolume decreases an order's volume by delta. Reaching zero removes
// the order from the book. Reducing below zero is a contract violation: the
// engine computed a fill larger than the resting volume.
func (b *Book) ReduceVolume(orderID string, delta int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.index[orderID]
	if !ok {
		return core.Invariantf("reduce on unknown order %s", orderID)
	}
	o := b.find(r, orderID)
	if o == nil {
		return core.Invariantf("order %s indexed but not in level", orderID)
	}
	if delta > o.Volume {
		return core.Invariantf("reduce %d exceeds volume %d on order %s", delta, o.Volume, orderID)
	}
	o.Volume -= delta
	if o.Volume == 0 {
		b.drop(r, orderID)
	}
	return nil
}

// Remove unconditionally drops an order from the book. Used by self-trade
// resolution. Returns false if the order is not resident.
func (b *Book) Remove(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.index[orderID]
	if !ok {
		return false
	}
	b.drop(r, orderID)
	return true
}

func (b *Book) find(r ref, orderID string) *core.Order {
	side := b.bids
	if r.side == core.Sell {
		side = b.asks
	}
	for _, o := range side[r.price] {
		if o.ID == orderID {
			return o
		}
	}
	return nil
}

func (b *Book) drop(r ref, orderID string) {
	side, hp := b.bids, b.bidHeap
	if r.side == core.Sell {
		side, hp = b.asks, b.askHeap
	}
	level := side[r.price]
	for i, o := range level {
		if o.ID == orderID {
			side[r.price] = append(level[:i], level[i+1:]...)
			break
		}
	}
	if len(side[r.price]) == 0 {
		delete(side, r.price)
		hp.remove(r.price)
	}
	delete(b.index, orderID)
}

// Contains reports whether an order is resident.
func (b *Book) Contains(orderID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.index[orderID]
	return ok
}

// Volume returns the resting volume of an order, or 0 if absent.
func (b *Book) Volume(orderID string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.index[orderID]
	if !ok {
		return 0
	}
	if o := b.find(r, orderID); o != nil {
		return o.Volume
	}
	return 0
}

// Len returns the number of resting orders on both sides.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}

// BidLevels returns aggregated bid levels, best (highest) first.
func (b *Book) BidLevels() []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return levels(b.bids, true)
}

// AskLevels returns aggregated ask levels, best (lowest) first.
func (b *Book) AskLevels() []Level {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return levels(b.asks, false)
}

func levels(side map[int64][]*core.Order, desc bool) []Level {
	out := make([]Level, 0, len(side))
	for price, orders := range side {
		if len(orders) == 0 {
			continue
		}
		var vol int64
		for _, o := range orders {
			vol += o.Volume
		}
		out = append(out, Level{Price: price, Volume: vol, Orders: len(orders)})
	}
	sortLevels(out, desc)
	return out
}

func sortLevels(ls []Level, desc bool) {
	// Insertion sort: the price domain is 0-100, level counts stay tiny.
	for i := 1; i < len(ls); i++ {
		for j := i; j > 0; j-- {
			less := ls[j].Price < ls[j-1].Price
			if desc {
				less = ls[j].Price > ls[j-1].Price
			}
			if !less {
				break
			}
			ls[j], ls[j-1] = ls[j-1], ls[j]
		}
	}
}
