package store

import (
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testAddr builds an address from a small integer for readable fixtures.
func testAddr(n int64) common.Address {
	return common.BigToAddress(big.NewInt(n))
}

func bigInt(n int64) *big.Int {
	return big.NewInt(n)
}
