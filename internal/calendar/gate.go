package calendar

import "sync"

// Gate records, per instrument, which period keys an action was already
// taken in. Lookups always use a freshly derived key, so entries for past
// periods are inert and may be pruned at any time.
type Gate struct {
	symbols sync.Map // symbol → *periods
}

type periods struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewGate creates an empty Gate.
func NewGate() *Gate {
	return &Gate{}
}

func (g *Gate) periods(symbol string) *periods {
	if p, ok := g.symbols.Load(symbol); ok {
		return p.(*periods)
	}
	p, _ := g.symbols.LoadOrStore(symbol, &periods{keys: make(map[string]struct{})})
	return p.(*periods)
}

// MarkActed records that an action was taken for symbol in period key.
func (g *Gate) MarkActed(symbol, key string) {
	p := g.periods(symbol)
	p.mu.Lock()
	p.keys[key] = struct{}{}
	p.mu.Unlock()
}

// HasActed reports whether MarkActed was called for symbol and key.
func (g *Gate) HasActed(symbol, key string) bool {
	v, ok := g.symbols.Load(symbol)
	if !ok {
		return false
	}
	p := v.(*periods)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, acted := p.keys[key]
	return acted
}

// Prune drops every key recorded for symbol except keep.
func (g *Gate) Prune(symbol, keep string) {
	v, ok := g.symbols.Load(symbol)
	if !ok {
		return
	}
	p := v.(*periods)
	p.mu.Lock()
	defer p.mu.Unlock()
	for k := range p.keys {
		if k != keep {
			delete(p.keys, k)
		}
	}
}

// Len returns the number of keys held for symbol.
func (g *Gate) Len(symbol string) int {
	v, ok := g.symbols.Load(symbol)
	if !ok {
		return 0
	}
	p := v.(*periods)
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keys)
}

// Reset forgets everything.
func (g *Gate) Reset() {
	g.symbols.Range(func(k, _ any) bool {
		g.symbols.Delete(k)
		return true
	})
}
