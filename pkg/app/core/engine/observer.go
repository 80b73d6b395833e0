package engine

import "time"

// Observer receives engine events for metrics. The engine never blocks on it.
type Observer interface {
	OrderAccepted(marketID string)
	OrderRejected(reason string)
	TradeExecuted(marketID string, volume int64)
	SelfTradeRemoval(marketID string)
	MatchLoop(marketID string, d time.Duration, trades int)
	BookDepth(marketID string, orders int)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) OrderAccepted(string)                 {}
func (NopObserver) OrderRejected(string)                 {}
func (NopObserver) TradeExecuted(string, int64)          {}
func (NopObserver) SelfTradeRemoval(string)              {}
func (NopObserver) MatchLoop(string, time.Duration, int) {}
func (NopObserver) BookDepth(string, int)                {}
