package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Account is a native account record.
type Account struct {
	Address common.Address
	Balance *big.Int
	Nonce   uint64
}

const metaBlockNumber = "block_number"

// state implements the accessors shared by Store and Tx.
type state struct {
	q querier
}

// addrKey is the canonical text form of an address column.
func addrKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// hashKey is the canonical text form of a slot or value column.
func hashKey(h common.Hash) string {
	return h.Hex()
}

// Account returns the account at addr. Missing accounts are returned with
// a zero balance and nonce; use HasAccount to distinguish them.
func (s state) Account(ctx context.Context, addr common.Address) (Account, error) {
	var balance string
	var nonce int64
	err := s.q.QueryRowContext(ctx,
		`SELECT balance, nonce FROM accounts WHERE address = ?`, addrKey(addr),
	).Scan(&balance, &nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{Address: addr, Balance: new(big.Int)}, nil
	}
	if err != nil {
		return Account{}, fmt.Errorf("read account: %w", err)
	}

	bal, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return Account{}, fmt.Errorf("read account: corrupt balance %q for %s", balance, addrKey(addr))
	}
	return Account{Address: addr, Balance: bal, Nonce: uint64(nonce)}, nil
}

// HasAccount reports whether addr has an account record.
func (s state) HasAccount(ctx context.Context, addr common.Address) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM accounts WHERE address = ?`, addrKey(addr),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has account: %w", err)
	}
	return n > 0, nil
}

// SetBalance creates or updates the balance of addr, keeping its nonce.
func (s state) SetBalance(ctx context.Context, addr common.Address, balance *big.Int) error {
	if balance == nil || balance.Sign() < 0 {
		return fmt.Errorf("set balance: balance must be non-negative")
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (address, balance, nonce) VALUES (?, ?, 0)
		ON CONFLICT(address) DO UPDATE SET balance = excluded.balance
	`, addrKey(addr), balance.String())
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// IncrementNonce bumps the nonce of addr, creating the account if needed.
func (s state) IncrementNonce(ctx context.Context, addr common.Address) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO accounts (address, balance, nonce) VALUES (?, '0', 1)
		ON CONFLICT(address) DO UPDATE SET nonce = nonce + 1
	`, addrKey(addr))
	if err != nil {
		return fmt.Errorf("increment nonce: %w", err)
	}
	return nil
}

// PutDeployment registers a named deployment.
func (s state) PutDeployment(ctx context.Context, name string, addr common.Address) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO deployments (name, address) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET address = excluded.address
	`, name, addrKey(addr))
	if err != nil {
		return fmt.Errorf("put deployment: %w", err)
	}
	return nil
}

// Deployment returns the address registered under name, or ErrNotFound.
func (s state) Deployment(ctx context.Context, name string) (common.Address, error) {
	var addr string
	err := s.q.QueryRowContext(ctx,
		`SELECT address FROM deployments WHERE name = ?`, name,
	).Scan(&addr)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Address{}, ErrNotFound
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("read deployment: %w", err)
	}
	return common.HexToAddress(addr), nil
}

// IsDeployment reports whether addr is a registered deployment.
func (s state) IsDeployment(ctx context.Context, addr common.Address) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deployments WHERE address = ?`, addrKey(addr),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is deployment: %w", err)
	}
	return n > 0, nil
}

// Deployments returns all registered deployments ordered by name.
func (s state) Deployments(ctx context.Context) (map[string]common.Address, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT name, address FROM deployments ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	out := make(map[string]common.Address)
	for rows.Next() {
		var name, addr string
		if err := rows.Scan(&name, &addr); err != nil {
			return nil, fmt.Errorf("list deployments: %w", err)
		}
		out[name] = common.HexToAddress(addr)
	}
	return out, rows.Err()
}

// SetSlot writes a storage slot. Writing the zero value deletes the slot,
// matching EVM storage semantics.
func (s state) SetSlot(ctx context.Context, contract common.Address, slot, value common.Hash) error {
	var err error
	if value == (common.Hash{}) {
		_, err = s.q.ExecContext(ctx,
			`DELETE FROM storage_slots WHERE contract = ? AND slot = ?`,
			addrKey(contract), hashKey(slot))
	} else {
		_, err = s.q.ExecContext(ctx, `
			INSERT INTO storage_slots (contract, slot, value) VALUES (?, ?, ?)
			ON CONFLICT(contract, slot) DO UPDATE SET value = excluded.value
		`, addrKey(contract), hashKey(slot), hashKey(value))
	}
	if err != nil {
		return fmt.Errorf("set slot: %w", err)
	}
	return nil
}

// Slot reads a storage slot. Unset slots read as zero.
func (s state) Slot(ctx context.Context, contract common.Address, slot common.Hash) (common.Hash, error) {
	var value string
	err := s.q.QueryRowContext(ctx,
		`SELECT value FROM storage_slots WHERE contract = ? AND slot = ?`,
		addrKey(contract), hashKey(slot),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("read slot: %w", err)
	}
	return common.HexToHash(value), nil
}

// PutImpersonation records the capability token issued for addr.
func (s state) PutImpersonation(ctx context.Context, addr common.Address, token string) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO impersonations (address, token) VALUES (?, ?)`,
		addrKey(addr), token)
	if err != nil {
		return fmt.Errorf("put impersonation: %w", err)
	}
	return nil
}

// Impersonation returns the token issued for addr, or ErrNotFound.
func (s state) Impersonation(ctx context.Context, addr common.Address) (string, error) {
	var token string
	err := s.q.QueryRowContext(ctx,
		`SELECT token FROM impersonations WHERE address = ?`, addrKey(addr),
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read impersonation: %w", err)
	}
	return token, nil
}

// BlockNumber returns the current block counter.
func (s state) BlockNumber(ctx context.Context) (uint64, error) {
	var n int64
	err := s.q.QueryRowContext(ctx,
		`SELECT value FROM chain_meta WHERE key = ?`, metaBlockNumber,
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read block number: %w", err)
	}
	return uint64(n), nil
}

// AdvanceBlock increments the block counter and returns the new value.
func (s state) AdvanceBlock(ctx context.Context) (uint64, error) {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO chain_meta (key, value) VALUES (?, 1)
		ON CONFLICT(key) DO UPDATE SET value = value + 1
	`, metaBlockNumber)
	if err != nil {
		return 0, fmt.Errorf("advance block: %w", err)
	}
	return s.BlockNumber(ctx)
}
