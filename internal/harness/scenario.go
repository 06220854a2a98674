package harness

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is a declarative test suite loaded from YAML.
type Scenario struct {
	// Name identifies the suite in reports and golden files.
	Name string `yaml:"name"`

	// Description explains what the suite covers.
	Description string `yaml:"description,omitempty"`

	// Environment selects and configures the backend.
	Environment EnvironmentConfig `yaml:"environment"`

	// Handles maps a role to a deployment name.
	Handles map[string]string `yaml:"handles,omitempty"`

	// Actors maps a role to a privileged account. Actors are set up in
	// role order.
	Actors map[string]ActorSpec `yaml:"actors,omitempty"`

	// Tests run in file order, each from the same checkpoint.
	Tests []TestCase `yaml:"tests"`
}

// Backend names.
const (
	BackendMemory = "memory"
	BackendRPC    = "rpc"
)

// EnvironmentConfig describes how to build the chain.Environment.
type EnvironmentConfig struct {
	// Backend is "memory" (default) or "rpc".
	Backend string `yaml:"backend,omitempty"`

	// URL of the node (rpc only).
	URL string `yaml:"url,omitempty"`

	// Dialect of the node's cheat methods: hardhat (default) or anvil.
	Dialect string `yaml:"dialect,omitempty"`

	// DeploymentsDir is a hardhat-deploy network directory. Relative paths
	// are resolved against the scenario file.
	DeploymentsDir string `yaml:"deployments_dir,omitempty"`

	// Deployments maps contract names to addresses.
	Deployments map[string]string `yaml:"deployments,omitempty"`

	// Accounts maps addresses to genesis balances (memory only).
	Accounts map[string]string `yaml:"accounts,omitempty"`

	// GasPrice in wei or with a unit (memory only).
	GasPrice string `yaml:"gas_price,omitempty"`

	// StrictActors limits impersonation to known accounts (memory only).
	// Defaults to true.
	StrictActors *bool `yaml:"strict_actors,omitempty"`
}

// ActorSpec declares one privileged actor.
type ActorSpec struct {
	Address string `yaml:"address"`

	// Fund is the minimum balance the actor starts each test with.
	Fund string `yaml:"fund,omitempty"`
}

// TestCase is one isolated test.
type TestCase struct {
	Name       string      `yaml:"name"`
	Steps      []Step      `yaml:"steps,omitempty"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step invokes one operation.
//
// Arguments per operation:
//
//	transfer     to, amount (requires as)
//	fund         account, amount
//	set_balance  account, amount
//	store        contract, slot, value
//	impersonate  account
type Step struct {
	Invoke string                 `yaml:"invoke"`
	As     string                 `yaml:"as,omitempty"`
	Args   map[string]interface{} `yaml:"args,omitempty"`

	// Expect, when present, requires the step to revert.
	Expect *Expect `yaml:"expect,omitempty"`
}

var stepKeys = map[string]bool{"invoke": true, "as": true, "args": true, "expect": true}

// UnmarshalYAML decodes a step. Plain integer arguments become *big.Int:
// yaml.v3 would turn integers beyond uint64, common for wei, into float64.
func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if !stepKeys[key.Value] {
				return fmt.Errorf("line %d: field %s not found in type harness.Step", key.Line, key.Value)
			}
		}
	}

	var raw struct {
		Invoke string               `yaml:"invoke"`
		As     string               `yaml:"as,omitempty"`
		Args   map[string]yaml.Node `yaml:"args,omitempty"`
		Expect *Expect              `yaml:"expect,omitempty"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}

	*s = Step{Invoke: raw.Invoke, As: raw.As, Expect: raw.Expect}
	if raw.Args != nil {
		s.Args = make(map[string]interface{}, len(raw.Args))
	}
	for key, n := range raw.Args {
		n := n
		v, err := argValue(&n)
		if err != nil {
			return fmt.Errorf("args.%s: %w", key, err)
		}
		s.Args[key] = v
	}
	return nil
}

func argValue(n *yaml.Node) (interface{}, error) {
	if n.Kind == yaml.ScalarNode && n.Style == 0 && isDecimal(n.Value) {
		if tag := n.ShortTag(); tag == "!!int" || tag == "!!float" {
			v, _ := new(big.Int).SetString(n.Value, 10)
			return v, nil
		}
	}
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func isDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Expect describes an expected revert. An empty Reverted accepts any reason.
type Expect struct {
	Reverted string `yaml:"reverted"`
}

// Assertion checks state after the steps ran.
type Assertion struct {
	Type string `yaml:"type"`

	// Account is the address checked by balance assertions.
	Account string `yaml:"account,omitempty"`

	// Contract and Slot select a storage word (slot).
	Contract string `yaml:"contract,omitempty"`
	Slot     string `yaml:"slot,omitempty"`

	// Equals is the expected balance (balance) or word (slot).
	Equals string `yaml:"equals,omitempty"`

	// Value is the minimum balance (balance_at_least).
	Value string `yaml:"value,omitempty"`

	// Delta is the signed balance change since test start (balance_delta).
	Delta string `yaml:"delta,omitempty"`
}

// Step operations.
const (
	InvokeTransfer    = "transfer"
	InvokeFund        = "fund"
	InvokeSetBalance  = "set_balance"
	InvokeStore       = "store"
	InvokeImpersonate = "impersonate"
)

// Assertion types.
const (
	AssertBalance        = "balance"
	AssertBalanceAtLeast = "balance_at_least"
	AssertBalanceDelta   = "balance_delta"
	AssertSlot           = "slot"
)

// LoadScenario reads a scenario file, validates it against the embedded
// schema and decodes it. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	sc, err := ParseScenario(filepath.Base(path), data)
	if err != nil {
		return nil, err
	}

	dir := sc.Environment.DeploymentsDir
	if dir != "" && !filepath.IsAbs(dir) {
		sc.Environment.DeploymentsDir = filepath.Join(filepath.Dir(path), dir)
	}
	return sc, nil
}

// ParseScenario validates and decodes scenario YAML. filename is used in
// error positions only.
func ParseScenario(filename string, data []byte) (*Scenario, error) {
	if err := ValidateSchema(filename, data); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// validateScenario checks what the schema cannot: cross references
// between sections.
func validateScenario(s *Scenario) error {
	if s.Environment.Backend == "" {
		s.Environment.Backend = BackendMemory
	}

	seen := make(map[string]bool)
	for i, tc := range s.Tests {
		if seen[tc.Name] {
			return fmt.Errorf("tests[%d]: duplicate test name %q", i, tc.Name)
		}
		seen[tc.Name] = true

		for j, step := range tc.Steps {
			if err := s.checkRef(step.As); err != nil {
				return fmt.Errorf("tests[%d].steps[%d].as: %w", i, j, err)
			}
			if step.Invoke == InvokeTransfer && step.As == "" {
				return fmt.Errorf("tests[%d].steps[%d]: transfer requires as", i, j)
			}
			for _, key := range sortedKeys(step.Args) {
				ref, ok := step.Args[key].(string)
				if !ok || !isRef(ref) {
					continue
				}
				if err := s.checkRef(ref); err != nil {
					return fmt.Errorf("tests[%d].steps[%d].args.%s: %w", i, j, key, err)
				}
			}
		}

		for j, a := range tc.Assertions {
			for _, ref := range []string{a.Account, a.Contract} {
				if err := s.checkRef(ref); err != nil {
					return fmt.Errorf("tests[%d].assertions[%d]: %w", i, j, err)
				}
			}
		}
	}
	return nil
}

func isRef(s string) bool {
	return strings.HasPrefix(s, "@") || strings.HasPrefix(s, "$")
}

// checkRef reports references to undeclared handles or actors.
func (s *Scenario) checkRef(ref string) error {
	switch {
	case strings.HasPrefix(ref, "@"):
		if _, ok := s.Handles[ref[1:]]; !ok {
			return fmt.Errorf("unknown handle %q", ref)
		}
	case strings.HasPrefix(ref, "$"):
		if _, ok := s.Actors[ref[1:]]; !ok {
			return fmt.Errorf("unknown actor %q", ref)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
