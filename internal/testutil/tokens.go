package testutil

import (
	"fmt"
	"sync"
)

// SequentialTokens issues "<prefix>-1", "<prefix>-2", ... and never runs
// out. It satisfies chain.TokenGenerator for tests that need stable
// capability tokens without counting how many will be issued.
type SequentialTokens struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialTokens creates a generator. An empty prefix means "token".
func NewSequentialTokens(prefix string) *SequentialTokens {
	if prefix == "" {
		prefix = "token"
	}
	return &SequentialTokens{prefix: prefix}
}

// Generate returns the next token.
func (g *SequentialTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
