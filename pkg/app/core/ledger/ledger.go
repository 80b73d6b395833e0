// Package ledger is the query surface over the append-only trade record.
// Trades are written by the engine as part of each committed crossing and are
// never mutated or deleted afterwards.
package ledger

import (
	"github.com/markbook/markbook/pkg/app/core"
)

// DefaultRecentLimit matches the display convention of the trade feed.
const DefaultRecentLimit = 20

type Ledger struct {
	gw core.Gateway
}

func New(gw core.Gateway) *Ledger {
	return &Ledger{gw: gw}
}

// Append records a trade outside the submit path (backfills, tests). The
// engine itself appends through the crossing commit.
func (l *Ledger) Append(t *core.Trade) error {
	if t.Volume <= 0 {
		return core.Invariantf("trade %s has volume %d", t.ID, t.Volume)
	}
	return l.gw.AppendTrade(t)
}

// Recent returns trades ordered by execution time descending. An empty
// marketID spans all markets; limit <= 0 falls back to DefaultRecentLimit.
func (l *Ledger) Recent(marketID string, limit int) ([]*core.Trade, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return l.gw.ListRecentTrades(marketID, limit)
}

// AllForMarket returns every trade for a market in execution order,
// ascending. Price-history derivations consume this.
func (l *Ledger) AllForMarket(marketID string) ([]*core.Trade, error) {
	return l.gw.ListTrades(marketID)
}
