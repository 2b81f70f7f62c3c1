// Package database provides SQLite-based storage for a roundscout node.
//
// The Store keeps:
//   - Records collected per round, in insertion order
//   - Proof records binding a round to its published CID
//   - The session cookie jar
//   - The search term assigned to each round
//   - Audit results for validated peer proofs
//
// Design decision: SQLite via modernc.org/sqlite keeps the node a single
// CGO-free binary with a single data file. WAL mode lets the status API
// read while the crawler writes.
package database
