package harness

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/forkharness/internal/chain"
)

// Actor is an impersonated address. Holding an Actor is the only way to
// send transactions as that address.
type Actor struct {
	// Role is the configured role name, empty for actors impersonated
	// inside a test.
	Role    string
	Address common.Address

	capability chain.Capability
	suite      *Suite
}

// Capability returns the environment capability backing the actor.
func (a *Actor) Capability() chain.Capability {
	return a.capability
}

// Transfer sends native value from the actor to to. A rejected transfer
// returns a *chain.RevertError.
func (a *Actor) Transfer(ctx context.Context, to common.Address, amount *big.Int) error {
	s := a.suite
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.env.Transfer(ctx, a.capability, to, amount)
	s.record("transfer", a.Address, to, amount, err)
	if err != nil {
		s.logger.Debug("transfer failed", "from", a.Address.Hex(), "to", to.Hex(), "error", err)
	}
	return err
}

// Balance returns the actor's native balance.
func (a *Actor) Balance(ctx context.Context) (*big.Int, error) {
	s := a.suite
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.env.Balance(ctx, a.Address)
}
