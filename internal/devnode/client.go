package devnode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/forkharness/internal/chain"
)

// Config describes how to reach a node and where its contracts live.
type Config struct {
	// URL of the node's JSON-RPC endpoint (http, ws or ipc path).
	URL string

	// Dialect of the cheat methods. Empty means DialectHardhat.
	Dialect Dialect

	// Deployments maps contract names to addresses. Entries override
	// those loaded from DeploymentsDir.
	Deployments map[string]common.Address

	// DeploymentsDir is a hardhat-deploy network directory.
	DeploymentsDir string
}

// Client implements chain.Environment against a development node.
type Client struct {
	rpc         *rpc.Client
	dialect     Dialect
	deployments map[string]common.Address

	// touched collects every address and slot read or written through the
	// client; Fingerprint covers exactly this set.
	touched map[common.Address]map[common.Hash]struct{}
}

var _ chain.Environment = (*Client)(nil)

// Dial connects to cfg.URL.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("devnode: url is required")
	}
	rc, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("devnode: dial %s: %w", cfg.URL, err)
	}
	c, err := NewClient(rc, cfg)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return c, nil
}

// NewClient wraps an existing RPC client. The client takes ownership of rc.
func NewClient(rc *rpc.Client, cfg Config) (*Client, error) {
	dialect, err := ParseDialect(string(cfg.Dialect))
	if err != nil {
		return nil, fmt.Errorf("devnode: %w", err)
	}

	deployments := make(map[string]common.Address)
	if cfg.DeploymentsDir != "" {
		loaded, err := LoadDeployments(cfg.DeploymentsDir)
		if err != nil {
			return nil, fmt.Errorf("devnode: %w", err)
		}
		for name, addr := range loaded {
			deployments[normalizeName(name)] = addr
		}
	}
	for name, addr := range cfg.Deployments {
		deployments[normalizeName(name)] = addr
	}

	return &Client{
		rpc:         rc,
		dialect:     dialect,
		deployments: deployments,
		touched:     make(map[common.Address]map[common.Hash]struct{}),
	}, nil
}

func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

func (c *Client) touch(addr common.Address) {
	if _, ok := c.touched[addr]; !ok {
		c.touched[addr] = make(map[common.Hash]struct{})
	}
}

func (c *Client) touchSlot(addr common.Address, slot common.Hash) {
	c.touch(addr)
	c.touched[addr][slot] = struct{}{}
}

// capabilityToken is deterministic: the node, not the client, decides
// whether an address is impersonated.
func (c *Client) capabilityToken(addr common.Address) string {
	return string(c.dialect) + ":" + strings.ToLower(addr.Hex())
}

// ResolveHandle implements chain.Environment. A name resolves only if it is
// known and the node has code at its address.
func (c *Client) ResolveHandle(ctx context.Context, name string) (common.Address, error) {
	addr, ok := c.deployments[normalizeName(name)]
	if !ok {
		return common.Address{}, &chain.UnresolvedNameError{Name: name}
	}

	var code hexutil.Bytes
	if err := c.rpc.CallContext(ctx, &code, "eth_getCode", addr, "latest"); err != nil {
		return common.Address{}, fmt.Errorf("resolve %s: %w", name, err)
	}
	if len(code) == 0 {
		return common.Address{}, &chain.UnresolvedNameError{Name: name}
	}
	c.touch(addr)
	return addr, nil
}

// Impersonate implements chain.Environment.
func (c *Client) Impersonate(ctx context.Context, addr common.Address) (chain.Capability, error) {
	if addr == (common.Address{}) {
		return chain.Capability{}, &chain.UnsupportedActorError{Address: addr, Reason: "zero address"}
	}
	if err := c.rpc.CallContext(ctx, nil, c.dialect.method("impersonateAccount"), addr); err != nil {
		if _, ok := nodeError(err); ok {
			return chain.Capability{}, &chain.UnsupportedActorError{Address: addr, Reason: err.Error()}
		}
		return chain.Capability{}, fmt.Errorf("impersonate %s: %w", addr.Hex(), err)
	}
	c.touch(addr)
	return chain.Capability{Address: addr, Token: c.capabilityToken(addr)}, nil
}

// SetBalance implements chain.Environment.
func (c *Client) SetBalance(ctx context.Context, addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("set balance: amount must be non-negative")
	}
	if err := c.rpc.CallContext(ctx, nil, c.dialect.method("setBalance"), addr, (*hexutil.Big)(amount)); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	c.touch(addr)
	return nil
}

// Balance implements chain.Environment.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var bal hexutil.Big
	if err := c.rpc.CallContext(ctx, &bal, "eth_getBalance", addr, "latest"); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	c.touch(addr)
	return bal.ToInt(), nil
}

type sendTxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
}

type receipt struct {
	Status hexutil.Uint64 `json:"status"`
}

// Transfer implements chain.Environment. The node signs on behalf of the
// impersonated sender.
func (c *Client) Transfer(ctx context.Context, from chain.Capability, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer: amount must be non-negative")
	}
	if from.Token != c.capabilityToken(from.Address) {
		return &chain.UnsupportedActorError{Address: from.Address, Reason: "not impersonated"}
	}
	c.touch(from.Address)
	c.touch(to)

	var hash common.Hash
	args := sendTxArgs{From: from.Address, To: &to, Value: (*hexutil.Big)(amount)}
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return classifySendError(from.Address, err)
	}

	var rcpt *receipt
	if err := c.rpc.CallContext(ctx, &rcpt, "eth_getTransactionReceipt", hash); err != nil {
		return fmt.Errorf("transfer: receipt: %w", err)
	}
	if rcpt == nil {
		return fmt.Errorf("transfer: transaction %s not mined (is automine disabled?)", hash.Hex())
	}
	if rcpt.Status == 0 {
		return &chain.RevertError{Reason: "transaction failed"}
	}
	return nil
}

var (
	hardhatReason = regexp.MustCompile(`reverted with reason string '(.*)'`)
	unknownSender = []string{"unknown account", "not recognized", "no signer available"}
)

// nodeError reports whether err is an error response from the node, as
// opposed to a transport or context failure.
func nodeError(err error) (rpc.Error, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr, true
	}
	return nil, false
}

// classifySendError maps node error responses onto the chain error
// taxonomy. Transport and context errors are returned wrapped.
func classifySendError(from common.Address, err error) error {
	if _, ok := nodeError(err); !ok {
		return fmt.Errorf("transfer: %w", err)
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, marker := range unknownSender {
		if strings.Contains(lower, marker) {
			return &chain.UnsupportedActorError{Address: from, Reason: msg}
		}
	}
	if m := hardhatReason.FindStringSubmatch(msg); m != nil {
		return &chain.RevertError{Reason: m[1]}
	}
	if _, reason, ok := strings.Cut(msg, "execution reverted: "); ok {
		return &chain.RevertError{Reason: reason}
	}
	return &chain.RevertError{Reason: msg}
}

// SetStorage implements chain.Environment.
func (c *Client) SetStorage(ctx context.Context, contract common.Address, slot, value common.Hash) error {
	err := c.rpc.CallContext(ctx, nil, c.dialect.method("setStorageAt"),
		contract, (*hexutil.Big)(slot.Big()), value)
	if err != nil {
		return fmt.Errorf("set storage: %w", err)
	}
	c.touchSlot(contract, slot)
	return nil
}

// Storage implements chain.Environment.
func (c *Client) Storage(ctx context.Context, contract common.Address, slot common.Hash) (common.Hash, error) {
	var value common.Hash
	err := c.rpc.CallContext(ctx, &value, "eth_getStorageAt",
		contract, (*hexutil.Big)(slot.Big()), "latest")
	if err != nil {
		return common.Hash{}, fmt.Errorf("get storage: %w", err)
	}
	c.touchSlot(contract, slot)
	return value, nil
}

// Snapshot implements chain.Environment.
func (c *Client) Snapshot(ctx context.Context) (chain.Checkpoint, error) {
	var id string
	if err := c.rpc.CallContext(ctx, &id, "evm_snapshot"); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	return chain.Checkpoint(id), nil
}

// Revert implements chain.Environment. The node answers false for unknown
// or already consumed snapshot ids.
func (c *Client) Revert(ctx context.Context, cp chain.Checkpoint) error {
	var ok bool
	if err := c.rpc.CallContext(ctx, &ok, "evm_revert", string(cp)); err != nil {
		return fmt.Errorf("revert: %w", err)
	}
	if !ok {
		return &chain.StaleCheckpointError{Checkpoint: cp}
	}
	return nil
}

type blockHeader struct {
	Hash common.Hash `json:"hash"`
}

// Fingerprint implements chain.Environment.
func (c *Client) Fingerprint(ctx context.Context) (common.Hash, error) {
	var head blockHeader
	if err := c.rpc.CallContext(ctx, &head, "eth_getBlockByNumber", "latest", false); err != nil {
		return common.Hash{}, fmt.Errorf("fingerprint: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(head.Hash.Bytes())

	addrs := make([]common.Address, 0, len(c.touched))
	for a := range c.touched {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })

	for _, addr := range addrs {
		var bal hexutil.Big
		var nonce hexutil.Uint64
		if err := c.rpc.CallContext(ctx, &bal, "eth_getBalance", addr, "latest"); err != nil {
			return common.Hash{}, fmt.Errorf("fingerprint: %w", err)
		}
		if err := c.rpc.CallContext(ctx, &nonce, "eth_getTransactionCount", addr, "latest"); err != nil {
			return common.Hash{}, fmt.Errorf("fingerprint: %w", err)
		}
		buf.Write(addr.Bytes())
		buf.Write(common.BigToHash(bal.ToInt()).Bytes())
		buf.Write(common.BigToHash(new(big.Int).SetUint64(uint64(nonce))).Bytes())

		slots := make([]common.Hash, 0, len(c.touched[addr]))
		for s := range c.touched[addr] {
			slots = append(slots, s)
		}
		sort.Slice(slots, func(i, j int) bool { return bytes.Compare(slots[i][:], slots[j][:]) < 0 })
		for _, slot := range slots {
			var value common.Hash
			if err := c.rpc.CallContext(ctx, &value, "eth_getStorageAt", addr, (*hexutil.Big)(slot.Big()), "latest"); err != nil {
				return common.Hash{}, fmt.Errorf("fingerprint: %w", err)
			}
			buf.Write(slot.Bytes())
			buf.Write(value.Bytes())
		}
	}
	return crypto.Keccak256Hash(buf.Bytes()), nil
}

// Close implements chain.Environment.
func (c *Client) Close() error {
	c.rpc.Close()
	return nil
}
