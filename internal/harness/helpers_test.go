package harness

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/roach88/forkharness/internal/chain"
	"github.com/roach88/forkharness/internal/simchain"
	"github.com/roach88/forkharness/internal/testutil"
)

var (
	factoryAddr  = common.HexToAddress("0x00000000000000000000000000000000000f0001")
	treasuryAddr = common.HexToAddress("0x00000000000000000000000000000000000f0002")
	pauseAddr    = common.HexToAddress("0x00000000000000000000000000000000000f0003")
	multisigAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	adminAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	carolAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	strangerAddr = common.HexToAddress("0x00000000000000000000000000000000000000ff")
)

func ether(s string) *big.Int {
	return chain.MustParseAmount(s + " ether")
}

// newTestChain returns a strict in-memory chain with the object sale
// deployments and a gas price of 1 wei.
func newTestChain(t *testing.T) *simchain.Chain {
	t.Helper()
	env, err := simchain.New(context.Background(), simchain.Config{
		Deployments: map[string]common.Address{
			"ObjectFactory": factoryAddr,
			"Treasury":      treasuryAddr,
			"PauseSwitch":   pauseAddr,
		},
		Accounts: map[common.Address]*big.Int{
			treasuryAddr: ether("5"),
			multisigAddr: big.NewInt(0),
			adminAddr:    big.NewInt(0),
			carolAddr:    big.NewInt(0),
		},
		GasPrice:     big.NewInt(1),
		StrictActors: true,
		Tokens:       testutil.NewSequentialTokens("cap"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func objectSaleConfig(env chain.Environment) Config {
	return Config{
		Name: "object-sale",
		Env:  env,
		Handles: map[string]string{
			"factory":  "ObjectFactory",
			"treasury": "Treasury",
			"pause":    "PauseSwitch",
		},
		Actors: []ActorConfig{
			{Role: "multisig", Address: multisigAddr, Fund: ether("100")},
			{Role: "admin", Address: adminAddr, Fund: ether("100")},
		},
	}
}

// newReadySuite returns an initialized object sale suite and its chain.
func newReadySuite(t *testing.T) (*Suite, *simchain.Chain) {
	t.Helper()
	env := newTestChain(t)
	s := New(objectSaleConfig(env))
	require.NoError(t, s.Initialize(context.Background()))
	return s, env
}

func fingerprint(t *testing.T, env chain.Environment) common.Hash {
	t.Helper()
	fp, err := env.Fingerprint(context.Background())
	require.NoError(t, err)
	return fp
}

func noop(context.Context, *T) error { return nil }
