package devnode

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// fakeNode is a minimal in-process development node speaking the subset of
// JSON-RPC the client uses.
type fakeNode struct {
	mu sync.Mutex

	balances      map[common.Address]*big.Int
	nonces        map[common.Address]uint64
	code          map[common.Address][]byte
	storage       map[common.Address]map[common.Hash]common.Hash
	impersonated  map[common.Address]bool
	block         uint64
	snapshots     []nodeState
	snapshotIDs   []uint64
	nextSnapshot  uint64
	receipts      map[common.Hash]uint64
	revertReason  string
	failReceipts  bool
	rejectImperso map[common.Address]bool

	// stall, when set, blocks SendTransaction until it is closed.
	stall chan struct{}
}

type nodeState struct {
	balances     map[common.Address]*big.Int
	nonces       map[common.Address]uint64
	storage      map[common.Address]map[common.Hash]common.Hash
	impersonated map[common.Address]bool
	block        uint64
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		balances:      make(map[common.Address]*big.Int),
		nonces:        make(map[common.Address]uint64),
		code:          make(map[common.Address][]byte),
		storage:       make(map[common.Address]map[common.Hash]common.Hash),
		impersonated:  make(map[common.Address]bool),
		receipts:      make(map[common.Hash]uint64),
		rejectImperso: make(map[common.Address]bool),
		nextSnapshot:  1,
	}
}

func (n *fakeNode) capture() nodeState {
	s := nodeState{
		balances:     make(map[common.Address]*big.Int),
		nonces:       make(map[common.Address]uint64),
		storage:      make(map[common.Address]map[common.Hash]common.Hash),
		impersonated: make(map[common.Address]bool),
		block:        n.block,
	}
	for k, v := range n.balances {
		s.balances[k] = new(big.Int).Set(v)
	}
	for k, v := range n.nonces {
		s.nonces[k] = v
	}
	for k, slots := range n.storage {
		cp := make(map[common.Hash]common.Hash)
		for sk, sv := range slots {
			cp[sk] = sv
		}
		s.storage[k] = cp
	}
	for k, v := range n.impersonated {
		s.impersonated[k] = v
	}
	return s
}

func (n *fakeNode) restore(s nodeState) {
	n.balances = s.balances
	n.nonces = s.nonces
	n.storage = s.storage
	n.impersonated = s.impersonated
	n.block = s.block
}

func (n *fakeNode) balance(addr common.Address) *big.Int {
	if b, ok := n.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

type evmAPI struct{ n *fakeNode }

func (a *evmAPI) Snapshot() string {
	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	id := a.n.nextSnapshot
	a.n.nextSnapshot++
	a.n.snapshots = append(a.n.snapshots, a.n.capture())
	a.n.snapshotIDs = append(a.n.snapshotIDs, id)
	return hexutil.EncodeUint64(id)
}

func (a *evmAPI) Revert(id string) (bool, error) {
	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	want, err := hexutil.DecodeUint64(id)
	if err != nil {
		return false, err
	}
	for i, sid := range a.n.snapshotIDs {
		if sid == want {
			a.n.restore(a.n.snapshots[i])
			a.n.snapshots = a.n.snapshots[:i]
			a.n.snapshotIDs = a.n.snapshotIDs[:i]
			return true, nil
		}
	}
	return false, nil
}

type cheatAPI struct{ n *fakeNode }

func (a *cheatAPI) ImpersonateAccount(addr common.Address) error {
	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	if a.n.rejectImperso[addr] {
		return errors.New("account cannot be impersonated")
	}
	a.n.impersonated[addr] = true
	return nil
}

func (a *cheatAPI) SetBalance(addr common.Address, bal hexutil.Big) error {
	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	a.n.balances[addr] = bal.ToInt()
	return nil
}

func (a *cheatAPI) SetStorageAt(addr common.Address, slot hexutil.Big, value common.Hash) error {
	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	if a.n.storage[addr] == nil {
		a.n.storage[addr] = make(map[common.Hash]common.Hash)
	}
	a.n.storage[addr][common.BigToHash(slot.ToInt())] = value
	return nil
}

type ethAPI struct{ n *fakeNode }

func (a *ethAPI) GetCode(addr common.Address, block string) hexutil.Bytes {
	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	return a.n.code[addr]
}

func (a *ethAPI) GetBalance(addr common.Address, block string) *hexutil.Big {
	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	return (*hexutil.Big)(new(big.Int).Set(a.n.balance(addr)))
}

func (a *ethAPI) GetTransactionCount(addr common.Address, block string) hexutil.Uint64 {
	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	return hexutil.Uint64(a.n.nonces[addr])
}

func (a *ethAPI) GetStorageAt(addr common.Address, slot hexutil.Big, block string) common.Hash {
	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	return a.n.storage[addr][common.BigToHash(slot.ToInt())]
}

type SendTxArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Value *hexutil.Big    `json:"value"`
}

func (a *ethAPI) SendTransaction(args SendTxArgs) (common.Hash, error) {
	a.n.mu.Lock()
	stall := a.n.stall
	a.n.mu.Unlock()
	if stall != nil {
		<-stall
	}

	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	if !a.n.impersonated[args.From] {
		return common.Hash{}, fmt.Errorf("Unknown account %s", args.From.Hex())
	}
	if a.n.revertReason != "" {
		return common.Hash{}, fmt.Errorf("VM Exception while processing transaction: reverted with reason string '%s'", a.n.revertReason)
	}
	value := args.Value.ToInt()
	if a.n.balance(args.From).Cmp(value) < 0 {
		return common.Hash{}, errors.New("sender doesn't have enough funds to send tx")
	}
	a.n.balances[args.From] = new(big.Int).Sub(a.n.balance(args.From), value)
	a.n.balances[*args.To] = new(big.Int).Add(a.n.balance(*args.To), value)
	a.n.nonces[args.From]++
	a.n.block++

	hash := crypto.Keccak256Hash(args.From.Bytes(), new(big.Int).SetUint64(a.n.nonces[args.From]).Bytes())
	status := uint64(1)
	if a.n.failReceipts {
		status = 0
	}
	a.n.receipts[hash] = status
	return hash, nil
}

func (a *ethAPI) GetTransactionReceipt(hash common.Hash) map[string]interface{} {
	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	status, ok := a.n.receipts[hash]
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"transactionHash": hash,
		"status":          hexutil.Uint64(status),
	}
}

func (a *ethAPI) GetBlockByNumber(tag string, full bool) map[string]interface{} {
	a.n.mu.Lock()
	defer a.n.mu.Unlock()
	return map[string]interface{}{
		"number": hexutil.Uint64(a.n.block),
		"hash":   crypto.Keccak256Hash(new(big.Int).SetUint64(a.n.block).Bytes()),
	}
}

// startFakeNode serves n in-process under the given dialect and returns a
// connected Client.
func startFakeNode(t *testing.T, n *fakeNode, dialect Dialect, deployments map[string]common.Address) *Client {
	t.Helper()

	srv := rpc.NewServer()
	for name, api := range map[string]interface{}{
		"evm":           &evmAPI{n},
		string(dialect): &cheatAPI{n},
		"eth":           &ethAPI{n},
	} {
		if err := srv.RegisterName(name, api); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	t.Cleanup(srv.Stop)

	c, err := NewClient(rpc.DialInProc(srv), Config{Dialect: dialect, Deployments: deployments})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func addr(n byte) common.Address {
	return common.BytesToAddress([]byte{0xaa, n})
}

func wei(s string) *big.Int {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		panic("bad int " + s)
	}
	return v
}
