// Package chain defines the boundary between the test harness and the
// environment it drives.
//
// An Environment is an opaque collaborator holding deployed contracts and
// their state. The harness only ever talks to it through this interface, so
// the same suite can run against the in-process simulator (simchain) or a
// live development node (devnode).
//
// # Checkpoints
//
// Snapshot returns an opaque Checkpoint. Revert restores the state captured
// by that checkpoint and consumes it together with every checkpoint taken
// after it. Reverting to a consumed or unknown checkpoint fails with
// *StaleCheckpointError.
//
// # Impersonation
//
// Impersonate returns a Capability for an address without its private key.
// Operations that act as an address (Transfer) require the capability, so a
// caller can never act as an address it did not explicitly impersonate.
package chain
