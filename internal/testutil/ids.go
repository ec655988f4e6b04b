package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns submission ids from a fixed list, then falls
// back to "<prefix>-N" once the list runs out.
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario with the same generator produces byte-identical logs.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu     sync.Mutex
	ids    []string
	prefix string
	n      int
}

// NewFixedIDGenerator creates a generator handing out ids in order.
// If prefix is empty, "sub" is used for ids past the end of the list.
func NewFixedIDGenerator(prefix string, ids ...string) *FixedIDGenerator {
	if prefix == "" {
		prefix = "sub"
	}
	return &FixedIDGenerator{ids: ids, prefix: prefix}
}

// Generate returns the next id.
//
// Implements engine.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	if g.n <= len(g.ids) {
		return g.ids[g.n-1]
	}
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
