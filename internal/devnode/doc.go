// Package devnode drives a live development node (Hardhat or Anvil) as a
// chain.Environment over JSON-RPC.
//
// Checkpoints map to evm_snapshot/evm_revert, impersonation and balance
// writes use the dialect's cheat methods (hardhat_* or anvil_*), and
// contract handles come from a hardhat-deploy deployments directory or an
// explicit name to address map.
//
// Fingerprint cannot hash the whole node state, so it hashes the latest
// block together with the balance, nonce and written storage of every
// address the client has touched. That is exactly the state a harness can
// observe through this client.
package devnode
