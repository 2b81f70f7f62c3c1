// Package model defines the data shared by the crawler, the storage layer
// and the audit pipeline.
//
// The main types are:
//   - Record: one post observed during a crawl
//   - ProofEntry and ProofRecord: a published round artifact and its address
//   - RoundReport and AuditResult: what one round of the node did
//   - Credentials, Cookie and SessionState: the browser session
//
// Record, ProofEntry and Cookie serialize to the JSON layout peers exchange,
// so their field tags must not change.
package model
