package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Checkpoint is an opaque token identifying a captured environment state.
type Checkpoint string

// Capability proves that Address was impersonated in the current epoch.
// Token is environment specific and must be treated as opaque.
type Capability struct {
	Address common.Address
	Token   string
}

// Environment is the set of deployed contracts and their state that a
// harness drives. Implementations are not required to be safe for
// concurrent use; the harness serializes all calls.
type Environment interface {
	// ResolveHandle looks up a deployed contract by logical name.
	// Fails with *UnresolvedNameError if no such deployment exists.
	ResolveHandle(ctx context.Context, name string) (common.Address, error)

	// Impersonate makes addr a controllable actor until the next revert
	// past this point. Fails with *UnsupportedActorError.
	Impersonate(ctx context.Context, addr common.Address) (Capability, error)

	// SetBalance overwrites the native balance of addr.
	SetBalance(ctx context.Context, addr common.Address, amount *big.Int) error

	// Balance returns the native balance of addr.
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)

	// Transfer sends native value from the capability's address to to,
	// paying fees. Fails with *RevertError if the transaction reverts.
	Transfer(ctx context.Context, from Capability, to common.Address, amount *big.Int) error

	// SetStorage overwrites a storage slot of a contract.
	SetStorage(ctx context.Context, contract common.Address, slot, value common.Hash) error

	// Storage reads a storage slot of a contract.
	Storage(ctx context.Context, contract common.Address, slot common.Hash) (common.Hash, error)

	// Snapshot captures the full state.
	Snapshot(ctx context.Context) (Checkpoint, error)

	// Revert restores the state captured by cp. Fails with
	// *StaleCheckpointError when cp is not part of the current lineage.
	Revert(ctx context.Context, cp Checkpoint) error

	// Fingerprint summarizes all observable state. Two equal fingerprints
	// mean balances, nonces, storage and impersonations are identical.
	Fingerprint(ctx context.Context) (common.Hash, error)

	Close() error
}
