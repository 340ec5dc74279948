// Package auditledger implements the append-only, SHA-256 hash-chained audit
// log that records every governed action.
//
// Each entry hashes the RFC 8785 canonical JSON of its content together with
// the hash of its predecessor. The first entry has no predecessor. Any edit,
// insertion or removal of a stored entry is reported by Verify.
//
// Three implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable; appends are serialised with an advisory lock.
//   - SQLiteLedger: durable, single-node deployments.
package auditledger
