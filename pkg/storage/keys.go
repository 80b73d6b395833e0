package storage

import (
	"fmt"

	"github.com/markbook/markbook/pkg/app/core"
)

// Key schema. Prefixes keep record families disjoint:
//
//   mkt:<marketID>                          -> Market
//   ord:<marketID>:<b|s>:<ppp>:<ts20>:<id>  -> Order
//   oid:<orderID>                           -> full order key (index)
//   trd:<marketID>:<ts20>:<id>              -> Trade (per-market history)
//   tga:<ts20>:<id>                         -> Trade (global feed)
//   nfc:<ts20>:<id>                         -> Comment
//   usr:<name>                              -> User
//
// Order keys sort so that a forward scan visits the BEST order first on
// either side: sells carry their price, buys carry the inverted price
// (MaxPrice - price), and the zero-padded timestamp breaks ties in favor of
// the earlier order. Trade and comment timestamps are zero-padded to 20
// digits so lexicographic order is execution order.
const (
	prefixMarket  = "mkt:"
	prefixOrder   = "ord:"
	prefixOrderID = "oid:"
	prefixTrade   = "trd:"
	prefixGlobal  = "tga:"
	prefixComment = "nfc:"
	prefixUser    = "usr:"
)

func marketKey(marketID string) []byte {
	return []byte(prefixMarket + marketID)
}

func sideTag(s core.Side) string {
	if s == core.Buy {
		return "b"
	}
	return "s"
}

// priceRank makes forward key order equal best-first order on both sides.
func priceRank(o *core.Order) int64 {
	if o.Side == core.Buy {
		return core.MaxPrice - o.Price
	}
	return o.Price
}

func orderKey(o *core.Order) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%03d:%020d:%s",
		prefixOrder, o.MarketID, sideTag(o.Side), priceRank(o), o.CreatedAt, o.ID))
}

func orderSidePrefix(marketID string, side core.Side) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:", prefixOrder, marketID, sideTag(side)))
}

func orderMarketPrefix(marketID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixOrder, marketID))
}

func orderIndexKey(orderID string) []byte {
	return []byte(prefixOrderID + orderID)
}

func tradeKey(t *core.Trade) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, t.MarketID, t.ExecutedAt, t.ID))
}

func tradePrefix(marketID string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, marketID))
}

func globalTradeKey(t *core.Trade) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixGlobal, t.ExecutedAt, t.ID))
}

func commentKey(c *core.Comment) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixComment, c.CreatedAt, c.ID))
}

func userKey(name string) []byte {
	return []byte(prefixUser + name)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		bound[i]++
		if bound[i] != 0 {
			return bound[:i+1]
		}
	}
	return nil // prefix was all 0xff; scan to the end
}
