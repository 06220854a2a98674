package harness

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/forkharness/internal/chain"
)

// SuiteConfig derives the suite configuration of a scenario.
func (sc *Scenario) SuiteConfig(env chain.Environment, logger *slog.Logger) (Config, error) {
	cfg := Config{
		Name:    sc.Name,
		Env:     env,
		Handles: make(map[string]string, len(sc.Handles)),
		Logger:  logger,
	}
	for role, name := range sc.Handles {
		cfg.Handles[role] = name
	}

	for _, role := range sortedKeys(sc.Actors) {
		decl := sc.Actors[role]
		addr, err := parseAddress(decl.Address)
		if err != nil {
			return Config{}, fmt.Errorf("actor %q: %w", role, err)
		}
		ac := ActorConfig{Role: role, Address: addr}
		if decl.Fund != "" {
			fund, err := chain.ParseAmount(decl.Fund)
			if err != nil {
				return Config{}, fmt.Errorf("actor %q: fund: %w", role, err)
			}
			ac.Fund = fund
		}
		cfg.Actors = append(cfg.Actors, ac)
	}
	return cfg, nil
}

// Runnable converts the scenario's test cases into runnable tests.
func (sc *Scenario) Runnable() []Test {
	out := make([]Test, 0, len(sc.Tests))
	for _, tc := range sc.Tests {
		out = append(out, Test{Name: tc.Name, Body: caseBody(tc)})
	}
	return out
}

// RunScenario initializes a suite for sc on env and runs every test case.
// When initialization fails, the report lists every test as skipped.
func RunScenario(ctx context.Context, sc *Scenario, env chain.Environment, logger *slog.Logger) (*Report, error) {
	cfg, err := sc.SuiteConfig(env, logger)
	if err != nil {
		return nil, err
	}
	s := New(cfg)

	tests := sc.Runnable()
	if err := s.Initialize(ctx); err != nil {
		report := &Report{Suite: sc.Name, Results: []*TestResult{}, Aborted: err.Error()}
		for _, tc := range tests {
			report.Skipped = append(report.Skipped, tc.Name)
		}
		return report, err
	}
	return s.Run(ctx, tests)
}

func caseBody(tc TestCase) Body {
	return func(ctx context.Context, t *T) error {
		for _, a := range tc.Assertions {
			if a.Type != AssertBalanceDelta {
				continue
			}
			if err := t.Track(t.ref(a.Account)); err != nil {
				return err
			}
		}

		for i, step := range tc.Steps {
			err := t.step(step)
			if chain.IsFatal(err) {
				return fmt.Errorf("steps[%d] %s: %w", i, step.Invoke, err)
			}
			if step.Expect == nil {
				if err != nil {
					return fmt.Errorf("steps[%d] %s: %w", i, step.Invoke, err)
				}
				continue
			}

			if err == nil {
				t.Fatalf("steps[%d] %s: expected revert %q, operation succeeded", i, step.Invoke, step.Expect.Reverted)
			}
			reason, ok := chain.RevertReason(err)
			if !ok {
				return fmt.Errorf("steps[%d] %s: %w", i, step.Invoke, err)
			}
			if !strings.Contains(reason, step.Expect.Reverted) {
				t.Fatalf("steps[%d] %s: expected revert %q, got revert %q", i, step.Invoke, step.Expect.Reverted, reason)
			}
		}

		for i, a := range tc.Assertions {
			t.assert(i, a)
		}
		return nil
	}
}

// ref resolves @handle, $actor or a hex address. Unresolvable references
// stop the test.
func (t *T) ref(ref string) common.Address {
	switch {
	case strings.HasPrefix(ref, "@"):
		return t.Handle(ref[1:])
	case strings.HasPrefix(ref, "$"):
		return t.Actor(ref[1:]).Address
	}
	addr, err := parseAddress(ref)
	if err != nil {
		t.Fatalf("%v", err)
	}
	return addr
}

func (t *T) argRef(step Step, key string) common.Address {
	v, ok := step.Args[key].(string)
	if !ok {
		t.Fatalf("%s: argument %q must be a reference", step.Invoke, key)
	}
	return t.ref(v)
}

func (t *T) argAmount(step Step, key string) *big.Int {
	v, err := chain.AmountValue(step.Args[key])
	if err != nil {
		t.Fatalf("%s: argument %q: %v", step.Invoke, key, err)
	}
	return v
}

func (t *T) argWord(step Step, key string) common.Hash {
	v, err := parseWord(step.Args[key])
	if err != nil {
		t.Fatalf("%s: argument %q: %v", step.Invoke, key, err)
	}
	return v
}

func (t *T) step(step Step) error {
	switch step.Invoke {
	case InvokeTransfer:
		from, err := t.actorFor(step.As)
		if err != nil {
			return err
		}
		return from.Transfer(t.ctx, t.argRef(step, "to"), t.argAmount(step, "amount"))
	case InvokeFund:
		return t.FundActor(t.argRef(step, "account"), t.argAmount(step, "amount"))
	case InvokeSetBalance:
		return t.SetBalance(t.argRef(step, "account"), t.argAmount(step, "amount"))
	case InvokeStore:
		return t.SetStorage(t.argRef(step, "contract"), t.argWord(step, "slot"), t.argWord(step, "value"))
	case InvokeImpersonate:
		_, err := t.Impersonate(t.argRef(step, "account"))
		return err
	default:
		t.Fatalf("unknown operation %q", step.Invoke)
		return nil
	}
}

// actorFor returns the configured actor for $role references and
// impersonates anything else.
func (t *T) actorFor(ref string) (*Actor, error) {
	if strings.HasPrefix(ref, "$") {
		return t.Actor(ref[1:]), nil
	}
	return t.Impersonate(t.ref(ref))
}

func (t *T) assert(i int, a Assertion) {
	switch a.Type {
	case AssertBalance:
		want, err := chain.ParseAmount(a.Equals)
		if err != nil {
			t.Errorf("assertions[%d]: %v", i, err)
			return
		}
		t.AssertBalance(t.ref(a.Account), want)
	case AssertBalanceAtLeast:
		floor, err := chain.ParseAmount(a.Value)
		if err != nil {
			t.Errorf("assertions[%d]: %v", i, err)
			return
		}
		t.AssertBalanceAtLeast(t.ref(a.Account), floor)
	case AssertBalanceDelta:
		delta, err := parseSignedAmount(a.Delta)
		if err != nil {
			t.Errorf("assertions[%d]: %v", i, err)
			return
		}
		t.AssertBalanceDelta(t.ref(a.Account), delta)
	case AssertSlot:
		slot, err := parseWord(a.Slot)
		if err != nil {
			t.Errorf("assertions[%d]: slot: %v", i, err)
			return
		}
		want, err := parseWord(a.Equals)
		if err != nil {
			t.Errorf("assertions[%d]: equals: %v", i, err)
			return
		}
		t.AssertSlot(t.ref(a.Contract), slot, want)
	default:
		t.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
}

func parseSignedAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		v, err := chain.ParseAmount(rest)
		if err != nil {
			return nil, err
		}
		return v.Neg(v), nil
	}
	return chain.ParseAmount(s)
}

// parseWord parses a 32-byte storage word from hex text or an integer.
func parseWord(v interface{}) (common.Hash, error) {
	var n *big.Int
	switch val := v.(type) {
	case string:
		digits, ok := strings.CutPrefix(strings.ToLower(strings.TrimSpace(val)), "0x")
		if !ok {
			return common.Hash{}, fmt.Errorf("word %q must be 0x-prefixed hex", val)
		}
		n, ok = new(big.Int).SetString(digits, 16)
		if !ok {
			return common.Hash{}, fmt.Errorf("invalid word %q", val)
		}
	case int:
		if val < 0 {
			return common.Hash{}, fmt.Errorf("word %d must be non-negative", val)
		}
		n = big.NewInt(int64(val))
	case uint64:
		n = new(big.Int).SetUint64(val)
	case *big.Int:
		if val.Sign() < 0 {
			return common.Hash{}, fmt.Errorf("word %s must be non-negative", val)
		}
		n = val
	case nil:
		return common.Hash{}, fmt.Errorf("word is required")
	default:
		return common.Hash{}, fmt.Errorf("unsupported word type %T", v)
	}
	if n.BitLen() > 256 {
		return common.Hash{}, fmt.Errorf("word %v exceeds 32 bytes", v)
	}
	return common.BigToHash(n), nil
}
