// Package store provides SQLite-backed storage for simulated chain state.
//
// The store holds:
//   - Accounts: native balance (decimal text) and nonce per address
//   - Deployments: contract name to address, registered once at genesis
//   - Storage slots: contract-internal words, zero values are not stored
//   - Impersonations: capability tokens issued per address
//   - Chain meta: the block counter
//
// # Checkpoints
//
// CreateCheckpoint copies every mutable table into the checkpoint_* tables
// under a new, monotonically increasing id. RestoreCheckpoint copies them
// back and discards the restored checkpoint and all later ones, so a
// checkpoint can be restored at most once. Deployments are not part of a
// checkpoint.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One pooled connection, which keeps ":memory:" databases alive
package store
