package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// CrawlExit says why a crawl loop ended.
type CrawlExit int

const (
	// CrawlNotRun means the crawl step did not execute.
	CrawlNotRun CrawlExit = iota

	// CrawlDeferred means no session was available; negotiation was
	// triggered and crawling waits for the next invocation.
	CrawlDeferred

	// CrawlRoundAdvanced means the round oracle moved past the crawl's round.
	CrawlRoundAdvanced

	// CrawlRateLimited means the source showed its rate-limit message.
	CrawlRateLimited

	// CrawlIterationCap means the loop hit its iteration safety valve.
	CrawlIterationCap

	// CrawlCanceled means the context was canceled.
	CrawlCanceled

	// CrawlFailed means a page operation failed mid-loop.
	CrawlFailed

	// CrawlRoundFrozen means the round was already published, so no record
	// could be added to it.
	CrawlRoundFrozen
)

// String returns the exit name.
func (e CrawlExit) String() string {
	switch e {
	case CrawlNotRun:
		return "not-run"
	case CrawlDeferred:
		return "deferred"
	case CrawlRoundAdvanced:
		return "round-advanced"
	case CrawlRateLimited:
		return "rate-limited"
	case CrawlIterationCap:
		return "iteration-cap"
	case CrawlCanceled:
		return "canceled"
	case CrawlFailed:
		return "failed"
	case CrawlRoundFrozen:
		return "round-frozen"
	default:
		return "unknown"
	}
}

// CrawlStats summarizes one crawl invocation.
type CrawlStats struct {
	Exit       CrawlExit `json:"exit"`
	Iterations int       `json:"iterations"`
	Seen       int       `json:"seen"`
	Inserted   int       `json:"inserted"`
	Skipped    int       `json:"skipped"`
}

// Verdict is the outcome of validating a peer proof.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictFail Verdict = "fail"
)

// AuditResult records one validation of a peer's proof.
type AuditResult struct {
	// ID is a ULID so audits sort by creation time.
	ID        string    `json:"id"`
	Round     int64     `json:"round"`
	Peer      string    `json:"peer"`
	CID       string    `json:"cid"`
	Verdict   Verdict   `json:"verdict"`
	Reason    string    `json:"reason"`
	Samples   []string  `json:"samples,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// NewAuditResult creates an audit result stamped with a fresh ULID.
func NewAuditResult(round int64, peer, cid string, now time.Time) AuditResult {
	return AuditResult{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Round:     round,
		Peer:      peer,
		CID:       cid,
		CheckedAt: now,
	}
}

// Passed reports whether the audit passed.
func (a AuditResult) Passed() bool {
	return a.Verdict == VerdictPass
}

// RoundReport accumulates what a node did during one round.
// Pipeline steps fill it in order.
type RoundReport struct {
	Round      int64         `json:"round"`
	SearchTerm string        `json:"search_term"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Crawl      CrawlStats    `json:"crawl"`
	Records    int           `json:"records"`
	ProofCID   string        `json:"proof_cid,omitempty"`
	Audits     []AuditResult `json:"audits,omitempty"`

	// PerformedSteps lists step names in execution order.
	PerformedSteps []string `json:"performed_steps"`

	// Error is the last step error; ErrorMessage is its text for JSON.
	Error        error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`

	// Canceled is set when the pipeline stopped on context cancellation.
	Canceled bool `json:"canceled,omitempty"`
}

// NewRoundReport creates an empty report for round.
func NewRoundReport(round int64) *RoundReport {
	return &RoundReport{
		Round:          round,
		StartedAt:      time.Now(),
		PerformedSteps: make([]string, 0),
		Audits:         make([]AuditResult, 0),
	}
}

// AddAudit appends an audit result.
func (r *RoundReport) AddAudit(a AuditResult) {
	r.Audits = append(r.Audits, a)
}

// FailedAudits counts audits with a fail verdict.
func (r *RoundReport) FailedAudits() int {
	n := 0
	for _, a := range r.Audits {
		if !a.Passed() {
			n++
		}
	}
	return n
}

// Published reports whether a proof was produced for the round.
func (r *RoundReport) Published() bool {
	return r.ProofCID != ""
}

// CrawlPending reports whether the round's crawl has yet to run to an end.
// A pending round is retried on the next tick, so it is neither published
// nor audited.
func (r *RoundReport) CrawlPending() bool {
	if r.Canceled {
		return true
	}
	return r.Crawl.Exit == CrawlDeferred || r.Crawl.Exit == CrawlCanceled
}

// NodeStatus is a snapshot of what a node has stored, shown by the status
// command.
type NodeStatus struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Round       int64         `json:"round"`
	SearchTerm  string        `json:"search_term,omitempty"`
	Records     int           `json:"records"`
	Proofs      []ProofRecord `json:"proofs"`
	Audits      []AuditResult `json:"audits"`
}

// FailedAudits counts audits with a fail verdict.
func (s *NodeStatus) FailedAudits() int {
	n := 0
	for _, a := range s.Audits {
		if !a.Passed() {
			n++
		}
	}
	return n
}
