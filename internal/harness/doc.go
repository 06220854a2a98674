// Package harness runs smart-contract integration tests in isolation.
//
// A Suite is configured with an environment, named contract handles and
// privileged actors. Initialize resolves the handles, impersonates and
// funds the actors and takes a checkpoint. Every test then runs through
// RunIsolated, which always reverts to that checkpoint afterwards and
// takes a new one, so no test observes another test's writes.
//
// # Errors
//
// Misconfiguration aborts the whole suite: unknown contract names
// (chain.UnresolvedNameError), uncontrollable actors
// (chain.UnsupportedActorError) and lost checkpoints
// (chain.StaleCheckpointError). Assertion failures, reverts and any other
// body error fail only the current test.
//
// # Scenario Format
//
// Suites can also be written in YAML and are checked against an embedded
// CUE schema before they run:
//
//	name: object-sale
//	environment:
//	  backend: memory
//	  deployments: { Treasury: "0x...", PauseSwitch: "0x..." }
//	  accounts: { "0x...": "0" }
//	handles: { treasury: Treasury, pause: PauseSwitch }
//	actors:
//	  multisig: { address: "0x...", fund: "100 ether" }
//	  admin:    { address: "0x...", fund: "100 ether" }
//	tests:
//	  - name: multisig funds treasury
//	    steps:
//	      - invoke: transfer
//	        as: $multisig
//	        args: { to: "@treasury", amount: "1 ether" }
//	    assertions:
//	      - { type: balance_delta, account: "@treasury", delta: "1 ether" }
//
// References starting with @ name handles, references starting with $
// name actors, anything else is a hex address.
//
// # Deterministic Testing
//
// Trace sequence numbers come from testutil.DeterministicClock and restart
// at 1 in every test. Reports never contain capability tokens, so the same
// scenario always renders the same report.
package harness
