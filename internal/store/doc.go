// Package store provides durable result stores mapping content fingerprints to
// classification records.
//
// Every adapter implements the same two primitives:
//   - Lookup: a pure point read by fingerprint
//   - TryInsert: one atomic conditional write that creates the record if and
//     only if none exists, otherwise returns the existing record untouched
//
// TryInsert is the only mutation and the only synchronization mechanism the
// pipeline has. Concurrent writers for the same fingerprint converge on the
// record stored by whichever insert won; losers adopt it instead of
// overwriting it. Records are never updated or deleted here.
//
// # Adapters
//
//   - SQLiteStore: WAL-mode SQLite, INSERT ... ON CONFLICT DO NOTHING plus a
//     select of the existing row inside one transaction
//   - PostgresStore: the same statement shape against PostgreSQL
//   - RedisStore: SETNX of the JSON-encoded record, no expiry
//   - DynamoStore: PutItem guarded by attribute_not_exists
//   - MemoryStore: mutex-guarded map for tests and local runs
//
// Adapters classify their failures with the model error taxonomy: backend
// errors are transient; a conflict whose winner cannot be read back is an
// invariant violation.
package store
