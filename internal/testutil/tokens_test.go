package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialTokens(t *testing.T) {
	g := NewSequentialTokens("cap")
	assert.Equal(t, "cap-1", g.Generate())
	assert.Equal(t, "cap-2", g.Generate())
	assert.Equal(t, "cap-3", g.Generate())
}

func TestSequentialTokens_DefaultPrefix(t *testing.T) {
	g := NewSequentialTokens("")
	assert.Equal(t, "token-1", g.Generate())
}
