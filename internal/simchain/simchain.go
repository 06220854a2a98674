// Package simchain is an in-process chain.Environment backed by SQLite.
//
// It models only what the harness needs: named deployments, native
// balances and nonces, contract storage slots, impersonation and
// checkpoints. Contract code is never executed.
//
// Checkpoint ids follow development-node conventions: "0x1", "0x2", ...
// Reverting to a checkpoint consumes it and every later checkpoint.
package simchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/forkharness/internal/chain"
	"github.com/roach88/forkharness/internal/store"
)

// TxGas is the fee-bearing gas charged for every transfer.
const TxGas = 21000

// DefaultGasPrice is used when Config.GasPrice is nil (1 gwei).
var DefaultGasPrice = big.NewInt(1_000_000_000)

// ErrInsufficientFunds is the revert reason of an underfunded transfer.
const ErrInsufficientFunds = "insufficient funds for gas * price + value"

// maxPrecompile is the highest precompile address; precompiles can never
// sign anything.
var maxPrecompile = common.BigToAddress(big.NewInt(0x0a))

// Config describes the genesis state of a simulated chain.
type Config struct {
	// Path is the SQLite database path. Empty means ":memory:".
	Path string

	// Deployments maps contract names to addresses.
	Deployments map[string]common.Address

	// Accounts maps addresses to their genesis balance.
	Accounts map[common.Address]*big.Int

	// GasPrice is the wei charged per gas unit. Nil means DefaultGasPrice.
	GasPrice *big.Int

	// StrictActors limits impersonation to genesis accounts and deployments.
	// When false any non-zero, non-precompile address can be impersonated.
	StrictActors bool

	// Tokens issues capability tokens. Nil means chain.UUIDv7Generator.
	Tokens chain.TokenGenerator
}

// Chain implements chain.Environment.
type Chain struct {
	st       *store.Store
	gasPrice *big.Int
	strict   bool
	tokens   chain.TokenGenerator
}

var _ chain.Environment = (*Chain)(nil)

// New opens the database and writes the genesis state.
func New(ctx context.Context, cfg Config) (*Chain, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("simchain: %w", err)
	}

	c := &Chain{
		st:       st,
		gasPrice: cfg.GasPrice,
		strict:   cfg.StrictActors,
		tokens:   cfg.Tokens,
	}
	if c.gasPrice == nil {
		c.gasPrice = DefaultGasPrice
	}
	if c.tokens == nil {
		c.tokens = chain.UUIDv7Generator{}
	}

	err = st.WithTx(ctx, func(tx *store.Tx) error {
		for name, addr := range cfg.Deployments {
			if err := tx.PutDeployment(ctx, normalizeName(name), addr); err != nil {
				return err
			}
		}
		for addr, bal := range cfg.Accounts {
			if err := tx.SetBalance(ctx, addr, bal); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("simchain: genesis: %w", err)
	}

	return c, nil
}

// normalizeName maps equivalent Unicode spellings of a contract name to
// one key.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Store exposes the backing store for inspection in tests.
func (c *Chain) Store() *store.Store {
	return c.st
}

// ResolveHandle implements chain.Environment.
func (c *Chain) ResolveHandle(ctx context.Context, name string) (common.Address, error) {
	addr, err := c.st.Deployment(ctx, normalizeName(name))
	if errors.Is(err, store.ErrNotFound) {
		return common.Address{}, &chain.UnresolvedNameError{Name: name}
	}
	if err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// Impersonate implements chain.Environment. Impersonating the same address
// again in the same epoch returns the same token.
func (c *Chain) Impersonate(ctx context.Context, addr common.Address) (chain.Capability, error) {
	if err := c.checkControllable(ctx, addr); err != nil {
		return chain.Capability{}, err
	}

	token, err := c.st.Impersonation(ctx, addr)
	if err == nil {
		return chain.Capability{Address: addr, Token: token}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return chain.Capability{}, err
	}

	token = c.tokens.Generate()
	if err := c.st.PutImpersonation(ctx, addr, token); err != nil {
		return chain.Capability{}, err
	}
	return chain.Capability{Address: addr, Token: token}, nil
}

func (c *Chain) checkControllable(ctx context.Context, addr common.Address) error {
	if addr == (common.Address{}) {
		return &chain.UnsupportedActorError{Address: addr, Reason: "zero address"}
	}
	if addr.Big().Cmp(maxPrecompile.Big()) <= 0 {
		return &chain.UnsupportedActorError{Address: addr, Reason: "precompile"}
	}
	if !c.strict {
		return nil
	}

	known, err := c.st.HasAccount(ctx, addr)
	if err != nil {
		return err
	}
	if known {
		return nil
	}
	deployed, err := c.st.IsDeployment(ctx, addr)
	if err != nil {
		return err
	}
	if !deployed {
		return &chain.UnsupportedActorError{Address: addr, Reason: "unknown account"}
	}
	return nil
}

// SetBalance implements chain.Environment.
func (c *Chain) SetBalance(ctx context.Context, addr common.Address, amount *big.Int) error {
	return c.st.SetBalance(ctx, addr, amount)
}

// Balance implements chain.Environment.
func (c *Chain) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	acct, err := c.st.Account(ctx, addr)
	if err != nil {
		return nil, err
	}
	return acct.Balance, nil
}

// Transfer implements chain.Environment. The sender pays TxGas*GasPrice on
// top of amount; an underfunded sender gets a *chain.RevertError and no
// state changes.
func (c *Chain) Transfer(ctx context.Context, from chain.Capability, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer: amount must be non-negative")
	}

	token, err := c.st.Impersonation(ctx, from.Address)
	if errors.Is(err, store.ErrNotFound) || (err == nil && token != from.Token) {
		return &chain.UnsupportedActorError{Address: from.Address, Reason: "not impersonated"}
	}
	if err != nil {
		return err
	}

	fee := new(big.Int).Mul(big.NewInt(TxGas), c.gasPrice)
	cost := new(big.Int).Add(amount, fee)

	return c.st.WithTx(ctx, func(tx *store.Tx) error {
		sender, err := tx.Account(ctx, from.Address)
		if err != nil {
			return err
		}
		if sender.Balance.Cmp(cost) < 0 {
			return &chain.RevertError{Reason: ErrInsufficientFunds}
		}

		if err := tx.SetBalance(ctx, from.Address, new(big.Int).Sub(sender.Balance, cost)); err != nil {
			return err
		}
		recipient, err := tx.Account(ctx, to)
		if err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, to, new(big.Int).Add(recipient.Balance, amount)); err != nil {
			return err
		}
		if err := tx.IncrementNonce(ctx, from.Address); err != nil {
			return err
		}
		_, err = tx.AdvanceBlock(ctx)
		return err
	})
}

// SetStorage implements chain.Environment.
func (c *Chain) SetStorage(ctx context.Context, contract common.Address, slot, value common.Hash) error {
	return c.st.SetSlot(ctx, contract, slot, value)
}

// Storage implements chain.Environment.
func (c *Chain) Storage(ctx context.Context, contract common.Address, slot common.Hash) (common.Hash, error) {
	return c.st.Slot(ctx, contract, slot)
}

// Snapshot implements chain.Environment.
func (c *Chain) Snapshot(ctx context.Context) (chain.Checkpoint, error) {
	id, err := c.st.CreateCheckpoint(ctx)
	if err != nil {
		return "", err
	}
	return chain.Checkpoint(hexutil.EncodeUint64(uint64(id))), nil
}

// Revert implements chain.Environment.
func (c *Chain) Revert(ctx context.Context, cp chain.Checkpoint) error {
	id, err := hexutil.DecodeUint64(string(cp))
	if err != nil {
		return &chain.StaleCheckpointError{Checkpoint: cp}
	}
	err = c.st.RestoreCheckpoint(ctx, int64(id))
	if errors.Is(err, store.ErrNotFound) {
		return &chain.StaleCheckpointError{Checkpoint: cp}
	}
	return err
}

// Fingerprint implements chain.Environment.
func (c *Chain) Fingerprint(ctx context.Context) (common.Hash, error) {
	return c.st.Fingerprint(ctx)
}

// Close implements chain.Environment.
func (c *Chain) Close() error {
	return c.st.Close()
}
