package orderbook

import "container/heap"

// priceHeap tracks the prices that currently hold at least one resting order
// on one side of the book. With max set it behaves as a max-heap (bids),
// otherwise as a min-heap (asks). Peek is O(1); that is the whole point.
type priceHeap struct {
	prices []int64
	max    bool
}

func newPriceHeap(max bool) *priceHeap {
	h := &priceHeap{max: max}
	heap.Init(h)
	return h
}

func (h *priceHeap) Len() int { return len(h.prices) }

func (h *priceHeap) Less(i, j int) bool {
	if h.max {
		return h.prices[i] > h.prices[j]
	}
	return h.prices[i] < h.prices[j]
}

func (h *priceHeap) Swap(i, j int) { h.prices[i], h.prices[j] = h.prices[j], h.prices[i] }

func (h *priceHeap) Push(x any) { h.prices = append(h.prices, x.(int64)) }

func (h *priceHeap) Pop() any {
	old := h.prices
	n := len(old)
	x := old[n-1]
	h.prices = old[:n-1]
	return x
}

// peek returns the best price without removing it.
func (h *priceHeap) peek() (int64, bool) {
	if len(h.prices) == 0 {
		return 0, false
	}
	return h.prices[0], true
}

// push adds a price level.
func (h *priceHeap) push(p int64) { heap.Push(h, p) }

// remove drops a price level. Linear scan, but levels are few (prices are
// bounded 0-100) and removal only happens when a level empties.
func (h *priceHeap) remove(p int64) {
	for i, v := range h.prices {
		if v == p {
			heap.Remove(h, i)
			return
		}
	}
}
