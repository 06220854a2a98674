package harness

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/forkharness/internal/chain"
)

// AssertionFailure fails the current test only. The suite keeps running.
type AssertionFailure struct {
	Test    string
	Message string
}

func (e *AssertionFailure) Error() string {
	return fmt.Sprintf("%s: %s", e.Test, e.Message)
}

// failNow unwinds a test body after Fatalf.
type failNow struct{}

// T is handed to every test body. It is only valid for the duration of
// the body and must be used from the body's goroutine.
type T struct {
	ctx   context.Context
	suite *Suite
	name  string

	failures []error
	trace    []TraceEvent
	start    map[common.Address]*big.Int
}

func newT(ctx context.Context, s *Suite, name string) *T {
	return &T{
		ctx:   ctx,
		suite: s,
		name:  name,
		trace: []TraceEvent{},
		start: make(map[common.Address]*big.Int),
	}
}

func (t *T) run(body Body) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(failNow); ok {
			return
		}
		if e, ok := r.(error); ok {
			err = fmt.Errorf("panic: %w", e)
			return
		}
		err = fmt.Errorf("panic: %v", r)
	}()

	for _, addr := range t.known() {
		if err := t.Track(addr); err != nil {
			return err
		}
	}
	return body(t.ctx, t)
}

// known returns every handle and actor address in a stable order.
func (t *T) known() []common.Address {
	s := t.suite
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[common.Address]bool)
	var out []common.Address
	for _, addr := range s.handles {
		if !seen[addr] {
			seen[addr] = true
			out = append(out, addr)
		}
	}
	for _, a := range s.actors {
		if !seen[a.Address] {
			seen[a.Address] = true
			out = append(out, a.Address)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (t *T) fail(err error) {
	t.failures = append(t.failures, err)
}

func (t *T) result() *TestResult {
	res := &TestResult{
		Name:  t.name,
		Pass:  len(t.failures) == 0,
		Trace: t.trace,
	}
	for _, f := range t.failures {
		res.Failures = append(res.Failures, f.Error())
	}
	return res
}

// Context returns the context the test runs under.
func (t *T) Context() context.Context {
	return t.ctx
}

// Name returns the test name.
func (t *T) Name() string {
	return t.name
}

// Env returns the underlying environment. Operations performed directly on
// it are still rolled back but do not appear in the trace.
func (t *T) Env() chain.Environment {
	return t.suite.env
}

// Errorf records an assertion failure and continues.
func (t *T) Errorf(format string, args ...any) {
	t.fail(&AssertionFailure{Test: t.name, Message: fmt.Sprintf(format, args...)})
}

// Fatalf records an assertion failure and stops the body.
func (t *T) Fatalf(format string, args ...any) {
	t.Errorf(format, args...)
	panic(failNow{})
}

// Failed reports whether the test has failed so far.
func (t *T) Failed() bool {
	return len(t.failures) > 0
}

// Handle returns the address of a configured handle. Unknown roles stop
// the test.
func (t *T) Handle(role string) common.Address {
	addr, ok := t.suite.Handle(role)
	if !ok {
		t.Fatalf("unknown handle %q", role)
	}
	return addr
}

// Actor returns a configured privileged actor. Unknown roles stop the test.
func (t *T) Actor(role string) *Actor {
	a, ok := t.suite.Actor(role)
	if !ok {
		t.Fatalf("unknown actor %q", role)
	}
	return a
}

// Impersonate is Suite.Impersonate scoped to this test.
func (t *T) Impersonate(addr common.Address) (*Actor, error) {
	return t.suite.Impersonate(t.ctx, addr)
}

// FundActor is Suite.FundActor scoped to this test.
func (t *T) FundActor(addr common.Address, amount *big.Int) error {
	return t.suite.FundActor(t.ctx, addr, amount)
}

// SetBalance overwrites the balance of addr.
func (t *T) SetBalance(addr common.Address, amount *big.Int) error {
	s := t.suite
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.env.SetBalance(t.ctx, addr, amount)
	s.record("set_balance", addr, common.Address{}, amount, err)
	return err
}

// SetStorage overwrites a storage slot of contract.
func (t *T) SetStorage(contract common.Address, slot, value common.Hash) error {
	s := t.suite
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.env.SetStorage(t.ctx, contract, slot, value)
	s.record("store", contract, common.Address{}, nil, err)
	return err
}

// Track remembers the current balance of addr as its starting balance for
// AssertBalanceDelta. Handles and actors are tracked before the body runs.
func (t *T) Track(addr common.Address) error {
	if _, ok := t.start[addr]; ok {
		return nil
	}
	bal, err := t.balance(addr)
	if err != nil {
		return err
	}
	t.start[addr] = bal
	return nil
}

func (t *T) balance(addr common.Address) (*big.Int, error) {
	s := t.suite
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, err := s.env.Balance(t.ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("balance of %s: %w", s.label(addr), err)
	}
	return bal, nil
}

func (t *T) label(addr common.Address) string {
	s := t.suite
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label(addr)
}

// RequireRevert stops the test unless err is a revert whose reason
// contains reason. An empty reason accepts any revert.
func (t *T) RequireRevert(err error, reason string) {
	if err == nil {
		t.Fatalf("expected revert %q, operation succeeded", reason)
	}
	got, ok := chain.RevertReason(err)
	if !ok {
		t.Fatalf("expected revert %q, got error: %v", reason, err)
	}
	if !strings.Contains(got, reason) {
		t.Fatalf("expected revert %q, got revert %q", reason, got)
	}
}

// AssertBalance checks that addr holds exactly want.
func (t *T) AssertBalance(addr common.Address, want *big.Int) bool {
	got, err := t.balance(addr)
	if err != nil {
		t.Errorf("%v", err)
		return false
	}
	if got.Cmp(want) != 0 {
		t.Errorf("balance of %s: expected %s, got %s", t.label(addr), want, got)
		return false
	}
	return true
}

// AssertBalanceAtLeast checks that addr holds at least floor.
func (t *T) AssertBalanceAtLeast(addr common.Address, floor *big.Int) bool {
	got, err := t.balance(addr)
	if err != nil {
		t.Errorf("%v", err)
		return false
	}
	if got.Cmp(floor) < 0 {
		t.Errorf("balance of %s: expected at least %s, got %s", t.label(addr), floor, got)
		return false
	}
	return true
}

// AssertBalanceDelta checks that the balance of addr changed by delta since
// it was tracked. delta may be negative.
func (t *T) AssertBalanceDelta(addr common.Address, delta *big.Int) bool {
	start, ok := t.start[addr]
	if !ok {
		t.Errorf("balance of %s was not tracked at test start", t.label(addr))
		return false
	}
	got, err := t.balance(addr)
	if err != nil {
		t.Errorf("%v", err)
		return false
	}
	diff := new(big.Int).Sub(got, start)
	if diff.Cmp(delta) != 0 {
		t.Errorf("balance delta of %s: expected %s, got %s", t.label(addr), delta, diff)
		return false
	}
	return true
}

// AssertSlot checks a contract storage slot.
func (t *T) AssertSlot(contract common.Address, slot, want common.Hash) bool {
	s := t.suite
	s.mu.Lock()
	got, err := s.env.Storage(t.ctx, contract, slot)
	s.mu.Unlock()
	if err != nil {
		t.Errorf("storage of %s: %v", t.label(contract), err)
		return false
	}
	if got != want {
		t.Errorf("slot %s of %s: expected %s, got %s", slot.Hex(), t.label(contract), want.Hex(), got.Hex())
		return false
	}
	return true
}
