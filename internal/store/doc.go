// Package store provides SQLite-backed durable storage for anchor.
//
// One database holds:
//   - Local ledger: topics with append-only message logs, tokens,
//     balances, serials and an audit trail of token operations
//   - Blobs: content-addressed documents referenced by messages
//   - Custody: owner keys by purpose and token
//   - Credentials: schemas and the version chains of VC documents
//   - Policies: published policies, group configs, joint-mint transactions
//   - Mint requests: progress of mint and wipe requests
//
// # Invariants
//
// Topic sequence numbers start at 1 and increase by one per message. They
// are assigned inside the same transaction that inserts the message.
//
// A document chain has exactly one current version. SaveVersion flips the
// predecessor and inserts the successor atomically; a partial unique index
// on init_id rejects a second current version.
//
// Joint-mint transactions only leave Pending. Completed and Failed are
// terminal.
//
// Token balances never go negative (CHECK constraint plus guarded updates).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
