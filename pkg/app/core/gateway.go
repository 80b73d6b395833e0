package core

// OrderMutation is the durable effect of one crossing on one order: its new
// resting volume. NewVolume == 0 deletes the order.
type OrderMutation struct {
	OrderID   string
	NewVolume int64
}

// Gateway is the persistence contract the engine consumes. Implementations
// must keep per-side ordering: buys by (price desc, createdAt asc), sells by
// (price asc, createdAt asc).
type Gateway interface {
	// FindBest returns the best resting order for a side, or nil when the
	// side is empty.
	FindBest(marketID string, side Side) (*Order, error)

	InsertOrder(o *Order) error
	UpdateOrderVolume(orderID string, newVolume int64) error
	DeleteOrder(orderID string) error

	// CommitCrossing applies one trade and both order mutations as a single
	// atomic write. Either everything lands or nothing does; a failed commit
	// leaves the store exactly as it was.
	CommitCrossing(t *Trade, buy, sell OrderMutation) error

	AppendTrade(t *Trade) error

	// ListRecentTrades returns trades ordered by ExecutedAt descending.
	// An empty marketID means all markets.
	ListRecentTrades(marketID string, limit int) ([]*Trade, error)

	// ListTrades returns every trade for a market, ExecutedAt ascending.
	// Price-history derivations consume this.
	ListTrades(marketID string) ([]*Trade, error)

	// ListOpenOrders returns all resting orders for a market, used to
	// hydrate in-memory books at startup.
	ListOpenOrders(marketID string) ([]*Order, error)

	ListMarkets() ([]*Market, error)
	InsertMarket(m *Market) error
}
