package harness

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/forkharness/internal/chain"
)

func runScenarioText(t *testing.T, text string) (*Report, error) {
	t.Helper()
	sc, err := ParseScenario("inline.yaml", []byte(text))
	require.NoError(t, err)

	ctx := context.Background()
	env, err := OpenEnvironment(ctx, sc.Environment)
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })

	return RunScenario(ctx, sc, env, nil)
}

func TestRunScenario_ObjectSaleGolden(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/object_sale.yaml")
	require.NoError(t, err)

	ctx := context.Background()
	env, err := OpenEnvironment(ctx, sc.Environment)
	require.NoError(t, err)
	defer env.Close()

	report, err := RunScenario(ctx, sc, env, nil)
	require.NoError(t, err)
	assert.True(t, report.Pass(), "%+v", report)

	AssertGolden(t, "object_sale", report)
}

const treasuryScenario = `
name: treasury
environment:
  gas_price: "1 wei"
  deployments: { Treasury: "0x00000000000000000000000000000000000f0002" }
  accounts:
    "0x00000000000000000000000000000000000f0002": "5 ether"
    "0x00000000000000000000000000000000000000a1": "0"
handles: { treasury: Treasury }
actors:
  multisig: { address: "0x00000000000000000000000000000000000000a1", fund: "10 ether" }
tests:
`

func TestRunScenario_FailedAssertionDoesNotAbort(t *testing.T) {
	report, err := runScenarioText(t, treasuryScenario+`
  - name: wrong expectation
    steps:
      - invoke: set_balance
        args: { account: "@treasury", amount: 0 }
    assertions:
      - { type: balance, account: "@treasury", equals: "5 ether" }
  - name: restored
    assertions:
      - { type: balance, account: "@treasury", equals: "5 ether" }
`)
	require.NoError(t, err)
	assert.False(t, report.Pass())
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results[0].Failures, 1)
	assert.Contains(t, report.Results[0].Failures[0], "balance of @treasury: expected 5000000000000000000, got 0")
}

func TestRunScenario_ExpectedRevertThatSucceeds(t *testing.T) {
	report, err := runScenarioText(t, treasuryScenario+`
  - name: should revert
    steps:
      - invoke: transfer
        as: $multisig
        args: { to: "@treasury", amount: 1 }
        expect: { reverted: "" }
`)
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Pass)
	assert.Contains(t, report.Results[0].Failures[0], "operation succeeded")
}

func TestRunScenario_WrongRevertReason(t *testing.T) {
	report, err := runScenarioText(t, treasuryScenario+`
  - name: wrong reason
    steps:
      - invoke: transfer
        as: $multisig
        args: { to: "@treasury", amount: "11 ether" }
        expect: { reverted: "Pausable: paused" }
`)
	require.NoError(t, err)
	assert.False(t, report.Results[0].Pass)
	assert.Contains(t, report.Results[0].Failures[0], `got revert "insufficient funds`)
}

func TestRunScenario_UnexpectedRevertFailsTest(t *testing.T) {
	report, err := runScenarioText(t, treasuryScenario+`
  - name: overspend
    steps:
      - invoke: transfer
        as: $multisig
        args: { to: "@treasury", amount: "11 ether" }
`)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Results[0].Failures[0], "execution reverted")
}

func TestRunScenario_UnsupportedActorAborts(t *testing.T) {
	report, err := runScenarioText(t, treasuryScenario+`
  - name: impersonate stranger
    steps:
      - invoke: impersonate
        args: { account: "0x00000000000000000000000000000000000000ff" }
  - name: skipped
`)
	var actorErr *chain.UnsupportedActorError
	require.ErrorAs(t, err, &actorErr)
	assert.Equal(t, []string{"skipped"}, report.Skipped)
	assert.NotEmpty(t, report.Aborted)
}

func TestRunScenario_InitializeFailureSkipsEverything(t *testing.T) {
	report, err := runScenarioText(t, `
name: broken
handles: { buyback: BuyBackFund }
tests:
  - name: a
  - name: b
`)
	var unresolved *chain.UnresolvedNameError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, []string{"a", "b"}, report.Skipped)
	assert.Empty(t, report.Results)
	assert.False(t, report.Pass())
}

func TestRunScenario_StorageWords(t *testing.T) {
	report, err := runScenarioText(t, treasuryScenario+`
  - name: words
    steps:
      - invoke: store
        args: { contract: "@treasury", slot: 3, value: "0xff" }
    assertions:
      - { type: slot, contract: "@treasury", slot: "0x3", equals: "0x00ff" }
`)
	require.NoError(t, err)
	assert.True(t, report.Pass(), "%+v", report.Results)
}

func TestParseWord(t *testing.T) {
	w, err := parseWord("0x1")
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(1)), w)

	w, err = parseWord(42)
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(42)), w)

	w, err = parseWord(uint64(1<<63))
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(new(big.Int).SetUint64(1<<63)), w)

	w, err = parseWord(big.NewInt(5))
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(5)), w)

	for _, bad := range []interface{}{"12", "0xzz", -1, big.NewInt(-1), nil, 1.5, "0x1" + strings.Repeat("0", 64)} {
		_, err := parseWord(bad)
		assert.Error(t, err, "%v", bad)
	}
}

func TestParseSignedAmount(t *testing.T) {
	v, err := parseSignedAmount("-1 gwei")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(-1_000_000_000), v)

	v, err = parseSignedAmount("3")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3), v)

	_, err = parseSignedAmount("--1")
	assert.Error(t, err)
}

func TestOpenEnvironment(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Treasury.json"),
		[]byte(`{"address":"0x00000000000000000000000000000000000f0002"}`), 0o644))

	env, err := OpenEnvironment(ctx, EnvironmentConfig{DeploymentsDir: dir})
	require.NoError(t, err)
	defer env.Close()

	addr, err := env.ResolveHandle(ctx, "Treasury")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf0002"), addr)

	_, err = OpenEnvironment(ctx, EnvironmentConfig{Backend: "ganache"})
	assert.Error(t, err)

	_, err = OpenEnvironment(ctx, EnvironmentConfig{Backend: BackendRPC})
	assert.Error(t, err, "rpc backend needs a url")

	_, err = OpenEnvironment(ctx, EnvironmentConfig{Accounts: map[string]string{"0x12": "1"}})
	assert.Error(t, err)

	_, err = OpenEnvironment(ctx, EnvironmentConfig{GasPrice: "cheap"})
	assert.Error(t, err)
}

func TestRunScenario_LargeUnquotedIntegers(t *testing.T) {
	report, err := runScenarioText(t, treasuryScenario+`
  - name: hundred ether
    steps:
      - invoke: set_balance
        args: { account: "@treasury", amount: 100000000000000000000 }
      - invoke: store
        args: { contract: "@treasury", slot: 18446744073709551615, value: 18446744073709551616 }
    assertions:
      - { type: balance, account: "@treasury", equals: "100 ether" }
      - { type: slot, contract: "@treasury", slot: "0xffffffffffffffff", equals: "0x10000000000000000" }
`)
	require.NoError(t, err)
	assert.True(t, report.Pass(), "%+v", report.Results)
}

func TestParseScenario_PlainIntegerArgsStayExact(t *testing.T) {
	sc, err := ParseScenario("inline.yaml", []byte(treasuryScenario+`
  - name: big
    steps:
      - invoke: fund
        args: { account: "@treasury", amount: 100000000000000000000 }
      - invoke: store
        args: { contract: "@treasury", slot: 7, value: "0x01" }
`))
	require.NoError(t, err)

	steps := sc.Tests[0].Steps
	want, _ := new(big.Int).SetString("100000000000000000000", 10)
	assert.Equal(t, want, steps[0].Args["amount"])
	assert.Equal(t, big.NewInt(7), steps[1].Args["slot"])
	assert.Equal(t, "0x01", steps[1].Args["value"])
}

func TestParseScenario_UnknownStepField(t *testing.T) {
	_, err := ParseScenario("inline.yaml", []byte(treasuryScenario+`
  - name: typo
    steps:
      - invoke: impersonate
        args: { account: "@treasury" }
        expected: { reverted: "" }
`))
	assert.Error(t, err)
}
