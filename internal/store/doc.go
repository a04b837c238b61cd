// Package store provides durable storage for part-number assignments.
//
// The store is the single source of truth for identity -> assignment
// records. State lives in memory and every mutation is flushed to a
// durable Backend before the mutating call returns.
//
// # Critical Patterns
//
// Single writer:
//   - One mutex domain covers every read and write (a one-slot channel,
//     so acquisition honors context deadlines instead of blocking forever)
//   - Update runs a whole batch under the lock, which is what keeps two
//     files of one batch that share an identity from each minting a base
//
// Transactional updates:
//   - Mutations inside Update are applied in memory and recorded in an
//     undo log
//   - If the callback fails or the flush fails, memory is rolled back, so
//     memory never runs ahead of the durable store
//
// Crash atomicity:
//   - sqlite: one SQL transaction per flush (WAL, synchronous=FULL)
//   - jsonfile: write temp file, fsync, rename over the old file
//
// Reverse indices (base -> identity, full number -> record) are rebuilt on
// every load and never persisted.
//
// # Backends
//
//   - "sqlite": default, see OpenSQLite
//   - "jsonfile": a single JSON document, see OpenJSONFile
package store
