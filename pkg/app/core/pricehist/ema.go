// Package pricehist derives price history from the trade ledger. The display
// layer charts an exponential moving average over executed trade prices.
package pricehist

import (
	"github.com/markbook/markbook/pkg/app/core"
	"github.com/markbook/markbook/pkg/app/core/ledger"
)

// DefaultSpan is the EMA span used by the market chart.
const DefaultSpan = 10

// Point is one trade with the moving average up to and including it.
type Point struct {
	At    int64   `json:"at"`    // Unix nanoseconds
	Price int64   `json:"price"` // trade price
	EMA   float64 `json:"ema"`
}

// Series computes the EMA over trades in execution order. The smoothing
// factor is 2/(span+1) and the series is seeded with the first trade price.
func Series(trades []*core.Trade, span int) []Point {
	if len(trades) == 0 {
		return nil
	}
	if span < 1 {
		span = DefaultSpan
	}
	alpha := 2.0 / float64(span+1)

	out := make([]Point, len(trades))
	ema := float64(trades[0].Price)
	for i, t := range trades {
		if i > 0 {
			ema = alpha*float64(t.Price) + (1-alpha)*ema
		}
		out[i] = Point{At: t.ExecutedAt, Price: t.Price, EMA: ema}
	}
	return out
}

// Deriver reads a market's full trade history and derives its EMA series.
type Deriver struct {
	ledger *ledger.Ledger
	span   int
}

func NewDeriver(l *ledger.Ledger) *Deriver {
	return &Deriver{ledger: l, span: DefaultSpan}
}

// History returns the EMA series for one market, oldest first.
func (d *Deriver) History(marketID string) ([]Point, error) {
	trades, err := d.ledger.AllForMarket(marketID)
	if err != nil {
		return nil, err
	}
	return Series(trades, d.span), nil
}
