// Package market keeps the catalog of tradable markets. Markets are
// immutable once created; the registry is an in-memory view hydrated from
// the persistence gateway at startup.
package market

import (
	"fmt"
	"sort"
	"sync"

	"github.com/markbook/markbook/pkg/app/core"
)

// Registry manages the market catalog in a thread-safe manner.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*core.Market // market ID -> market
}

func NewRegistry() *Registry {
	return &Registry{markets: make(map[string]*core.Market)}
}

// Register adds a market. Returns an error if the ID is taken or blank.
func (r *Registry) Register(m *core.Market) error {
	if m == nil || m.MarketID == "" {
		return fmt.Errorf("cannot register market without an id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.markets[m.MarketID]; exists {
		return fmt.Errorf("market %s already registered", m.MarketID)
	}
	r.markets[m.MarketID] = m
	return nil
}

// Get retrieves a market by ID.
func (r *Registry) Get(marketID string) (*core.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.markets[marketID]
	if !exists {
		return nil, fmt.Errorf("market %s not found", marketID)
	}
	return m, nil
}

// Exists checks whether a market is registered.
func (r *Registry) Exists(marketID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.markets[marketID]
	return exists
}

// List returns all markets sorted by ID. The slice is a copy; callers may
// not mutate the markets themselves.
func (r *Registry) List() []*core.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*core.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out
}

// Count returns the number of registered markets.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
