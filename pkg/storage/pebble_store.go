// Package storage implements the persistence gateway on Pebble. Records are
// JSON values under prefix-partitioned keys; ordered reads (best order, trade
// history) are prefix scans over keys built to sort in domain order.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/markbook/markbook/pkg/app/core"
	"github.com/markbook/markbook/pkg/app/core/newsfeed"
	"github.com/markbook/markbook/pkg/app/core/user"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

var (
	_ core.Gateway   = (*PebbleStore)(nil)
	_ newsfeed.Store = (*PebbleStore)(nil)
	_ user.Store     = (*PebbleStore)(nil)
)

// ============================================================
// Orders
// ============================================================

// FindBest returns the best resting order on a side, or nil when empty.
// The key layout sorts best-first, so this is the first key under the
// side prefix.
func (s *PebbleStore) FindBest(marketID string, side core.Side) (*core.Order, error) {
	prefix := orderSidePrefix(marketID, side)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	if !iter.First() {
		return nil, nil
	}
	var o core.Order
	if err := json.Unmarshal(iter.Value(), &o); err != nil {
		return nil, fmt.Errorf("decode order at %q: %w", iter.Key(), err)
	}
	return &o, nil
}

func (s *PebbleStore) InsertOrder(o *core.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	key := orderKey(o)

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(key, data, nil); err != nil {
		return err
	}
	if err := b.Set(orderIndexKey(o.ID), key, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) UpdateOrderVolume(orderID string, newVolume int64) error {
	if newVolume == 0 {
		return s.DeleteOrder(orderID)
	}
	o, key, err := s.getOrder(orderID)
	if err != nil {
		return err
	}
	o.Volume = newVolume
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	return s.db.Set(key, data, pebble.Sync)
}

func (s *PebbleStore) DeleteOrder(orderID string) error {
	_, key, err := s.getOrder(orderID)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(key, nil); err != nil {
		return err
	}
	if err := b.Delete(orderIndexKey(orderID), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// ListOpenOrders returns a market's resting orders in key order: buys
// best-first, then sells best-first, time-ascending within each price.
func (s *PebbleStore) ListOpenOrders(marketID string) ([]*core.Order, error) {
	prefix := orderMarketPrefix(marketID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []*core.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o core.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("decode order at %q: %w", iter.Key(), err)
		}
		orders = append(orders, &o)
	}
	return orders, iter.Error()
}

func (s *PebbleStore) getOrder(orderID string) (*core.Order, []byte, error) {
	keyVal, closer, err := s.db.Get(orderIndexKey(orderID))
	if err == pebble.ErrNotFound {
		return nil, nil, fmt.Errorf("order %s not found", orderID)
	}
	if err != nil {
		return nil, nil, err
	}
	key := append([]byte(nil), keyVal...)
	closer.Close()

	data, closer, err := s.db.Get(key)
	if err != nil {
		return nil, nil, fmt.Errorf("order %s index points at missing record: %w", orderID, err)
	}
	defer closer.Close()

	var o core.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, nil, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return &o, key, nil
}

// ============================================================
// Crossings and trades
// ============================================================

// CommitCrossing writes one trade and both order mutations in a single
// synced batch. A failed commit leaves no partial state behind.
func (s *PebbleStore) CommitCrossing(t *core.Trade, buy, sell core.OrderMutation) error {
	b := s.db.NewBatch()
	defer b.Close()

	if err := s.batchAppendTrade(b, t); err != nil {
		return err
	}
	for _, mut := range []core.OrderMutation{buy, sell} {
		if err := s.batchMutateOrder(b, mut); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) batchMutateOrder(b *pebble.Batch, mut core.OrderMutation) error {
	o, key, err := s.getOrder(mut.OrderID)
	if err != nil {
		return err
	}
	if mut.NewVolume == 0 {
		if err := b.Delete(key, nil); err != nil {
			return err
		}
		return b.Delete(orderIndexKey(mut.OrderID), nil)
	}
	o.Volume = mut.NewVolume
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	return b.Set(key, data, nil)
}

func (s *PebbleStore) AppendTrade(t *core.Trade) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := s.batchAppendTrade(b, t); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

func (s *PebbleStore) batchAppendTrade(b *pebble.Batch, t *core.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode trade: %w", err)
	}
	if err := b.Set(tradeKey(t), data, nil); err != nil {
		return err
	}
	return b.Set(globalTradeKey(t), data, nil)
}

// ListRecentTrades scans backwards so the newest trades come first. An empty
// marketID scans the global feed.
func (s *PebbleStore) ListRecentTrades(marketID string, limit int) ([]*core.Trade, error) {
	prefix := []byte(prefixGlobal)
	if marketID != "" {
		prefix = tradePrefix(marketID)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []*core.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t core.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("decode trade at %q: %w", iter.Key(), err)
		}
		trades = append(trades, &t)
	}
	return trades, iter.Error()
}

func (s *PebbleStore) ListTrades(marketID string) ([]*core.Trade, error) {
	prefix := tradePrefix(marketID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []*core.Trade
	for iter.First(); iter.Valid(); iter.Next() {
		var t core.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("decode trade at %q: %w", iter.Key(), err)
		}
		trades = append(trades, &t)
	}
	return trades, iter.Error()
}

// ============================================================
// Markets
// ============================================================

func (s *PebbleStore) InsertMarket(m *core.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode market: %w", err)
	}
	return s.db.Set(marketKey(m.MarketID), data, pebble.Sync)
}

func (s *PebbleStore) ListMarkets() ([]*core.Market, error) {
	prefix := []byte(prefixMarket)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var markets []*core.Market
	for iter.First(); iter.Valid(); iter.Next() {
		var m core.Market
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("decode market at %q: %w", iter.Key(), err)
		}
		markets = append(markets, &m)
	}
	return markets, iter.Error()
}

// ============================================================
// Newsfeed
// ============================================================

func (s *PebbleStore) AppendComment(c *core.Comment) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}
	return s.db.Set(commentKey(c), data, pebble.Sync)
}

func (s *PebbleStore) ListRecentComments(limit int) ([]*core.Comment, error) {
	prefix := []byte(prefixComment)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var comments []*core.Comment
	for iter.Last(); iter.Valid() && len(comments) < limit; iter.Prev() {
		var c core.Comment
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("decode comment at %q: %w", iter.Key(), err)
		}
		comments = append(comments, &c)
	}
	return comments, iter.Error()
}

// ============================================================
// Users
// ============================================================

func (s *PebbleStore) SaveUser(u *user.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return s.db.Set(userKey(u.Name), data, pebble.Sync)
}

func (s *PebbleStore) LoadUser(name string) (*user.User, error) {
	data, closer, err := s.db.Get(userKey(name))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var u user.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", name, err)
	}
	return &u, nil
}
