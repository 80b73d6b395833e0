package engine

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// SelfTradePolicy decides whether a prospective match between a buyer and a
// seller identity may trade.
type SelfTradePolicy interface {
	IsAllowed(buyerID, sellerID string) bool
}

// AllowListPolicy disallows matches where buyer and seller are the same
// identity, except for identities on an explicit, reloadable allow-list.
type AllowListPolicy struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
}

func NewAllowListPolicy(allowed []string) *AllowListPolicy {
	p := &AllowListPolicy{}
	p.Reload(allowed)
	return p
}

// IsAllowed permits any match between distinct identities, and self-matches
// only for allow-listed identities.
func (p *AllowListPolicy) IsAllowed(buyerID, sellerID string) bool {
	if buyerID != sellerID {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.allowed[buyerID]
	return ok
}

// Reload replaces the allow-list. Blank entries are dropped.
func (p *AllowListPolicy) Reload(allowed []string) {
	next := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		id = strings.TrimSpace(id)
		if id != "" {
			next[id] = struct{}{}
		}
	}
	p.mu.Lock()
	p.allowed = next
	p.mu.Unlock()
}

// Allowed returns the current allow-list entries, unordered.
func (p *AllowListPolicy) Allowed() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.allowed))
	for id := range p.allowed {
		out = append(out, id)
	}
	return out
}

// ReadAllowListFile parses an allow-list file: one identity per line,
// '#' starts a comment.
func ReadAllowListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}
