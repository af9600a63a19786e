// Package ledger implements the append-only, hash-chained evidence ledger.
//
// Every entry commits to the hash of the entry immediately preceding it for
// the same assessment, so silent tampering anywhere in an assessment's
// history is detectable by replaying the chain (Verifier). The first entry
// of an assessment has a nil prev_hash.
//
// Two implementations of the Store interface are provided:
//   - MemoryStore: in-process, for tests and development.
//   - PostgresStore: durable, with a per-assessment compare-and-set on the
//     chain tail to serialize concurrent appends without global locks.
package ledger
