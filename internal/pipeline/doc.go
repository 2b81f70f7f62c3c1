// Package pipeline runs the work of one round as an ordered list of steps.
//
// A round goes through four stages: pick the search term, crawl, publish
// the proof, and audit peers. Each stage is a Step that receives the
// RoundReport and records what it did.
//
// Design decision: steps share one report instead of returning values to
// each other. A failed step leaves the report partially filled and, with
// continue-on-error, later steps still run; auditing peers is useful even
// when our own crawl failed.
package pipeline
