// Package store provides SQLite-backed durable storage for the Chronicle
// transaction log and document bodies.
//
// The store holds:
//   - Transactions: one row per accepted submission, committed or aborted
//   - Documents: content-addressed document bodies
//   - Evictions: which entity was evicted by which transaction
//   - Redactions: the document hashes each eviction purged
//
// # Invariants
//
// Append exactly once:
//   - tx_id is the primary key; a second append of the same id fails
//   - The record, its documents and any eviction purge commit in one SQL
//     transaction
//
// Deterministic reads:
//   - Log queries order by tx_id ASC
//   - Empty results are empty slices, never nil
//
// Redaction:
//   - Eviction deletes the entity's document rows and notes their hashes
//   - Aborted records do not store documents whose hash was purged; only
//     a committed put makes redacted content readable again
//   - Log rows survive with their hashes, so history keeps its shape while
//     the content is gone
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
