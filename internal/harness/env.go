package harness

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/forkharness/internal/chain"
	"github.com/roach88/forkharness/internal/devnode"
	"github.com/roach88/forkharness/internal/simchain"
)

// OpenEnvironment builds the environment a scenario describes. The caller
// closes it.
func OpenEnvironment(ctx context.Context, cfg EnvironmentConfig) (chain.Environment, error) {
	deployments, err := parseAddressMap(cfg.Deployments)
	if err != nil {
		return nil, fmt.Errorf("deployments: %w", err)
	}

	switch cfg.Backend {
	case "", BackendMemory:
		return openMemory(ctx, cfg, deployments)
	case BackendRPC:
		return devnode.Dial(ctx, devnode.Config{
			URL:            cfg.URL,
			Dialect:        devnode.Dialect(cfg.Dialect),
			Deployments:    deployments,
			DeploymentsDir: cfg.DeploymentsDir,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func openMemory(ctx context.Context, cfg EnvironmentConfig, deployments map[string]common.Address) (chain.Environment, error) {
	all := make(map[string]common.Address)
	if cfg.DeploymentsDir != "" {
		loaded, err := devnode.LoadDeployments(cfg.DeploymentsDir)
		if err != nil {
			return nil, err
		}
		for name, addr := range loaded {
			all[name] = addr
		}
	}
	for name, addr := range deployments {
		all[name] = addr
	}

	accounts := make(map[common.Address]*big.Int, len(cfg.Accounts))
	for _, hex := range sortedKeys(cfg.Accounts) {
		addr, err := parseAddress(hex)
		if err != nil {
			return nil, fmt.Errorf("accounts: %w", err)
		}
		bal, err := chain.ParseAmount(cfg.Accounts[hex])
		if err != nil {
			return nil, fmt.Errorf("accounts[%s]: %w", hex, err)
		}
		accounts[addr] = bal
	}

	var gasPrice *big.Int
	if cfg.GasPrice != "" {
		p, err := chain.ParseAmount(cfg.GasPrice)
		if err != nil {
			return nil, fmt.Errorf("gas_price: %w", err)
		}
		gasPrice = p
	}

	strict := true
	if cfg.StrictActors != nil {
		strict = *cfg.StrictActors
	}

	return simchain.New(ctx, simchain.Config{
		Deployments:  all,
		Accounts:     accounts,
		GasPrice:     gasPrice,
		StrictActors: strict,
	})
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAddressMap(m map[string]string) (map[string]common.Address, error) {
	out := make(map[string]common.Address, len(m))
	for _, name := range sortedKeys(m) {
		addr, err := parseAddress(m[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = addr
	}
	return out, nil
}
