// Package validator checks a peer's published round against the live source.
//
// A peer proof is fetched from content-addressed storage, a few of its
// records are sampled at random, and each sample is re-read from the
// source and compared on the fields that do not drift over time.
//
// Design decision: infrastructure faults pass. A proof that cannot be
// retrieved, or a check that fails for reasons unrelated to the peer's
// data, yields a pass so honest peers are not penalized for outages.
// The behavior lives in the Policy value FailOpen and control flow only
// consults it.
package validator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/nao1215/roundscout/internal/extractor"
	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/storage"
)

// Retriever fetches and decodes a peer artifact.
// storage.Fetcher satisfies it.
type Retriever interface {
	FetchJSON(ctx context.Context, address, name string, v any) error
}

// LiveSource re-reads a single post from the source.
// crawler.LiveFetcher satisfies it.
type LiveSource interface {
	FetchLive(ctx context.Context, id string) (*model.Record, error)
}

// Policy says which outcomes pass when validation cannot reach a verdict
// from the peer's data itself.
type Policy struct {
	// PassOnUnavailable passes when no storage source answered.
	PassOnUnavailable bool

	// PassOnNotFound passes when every storage source reported absence.
	PassOnNotFound bool

	// PassOnInvalidAddress passes when the peer CID does not parse.
	PassOnInvalidAddress bool

	// PassOnMalformed passes when the artifact does not decode.
	PassOnMalformed bool

	// PassOnUnexpectedError passes on any other error, including panics
	// and live re-check failures other than a missing post.
	PassOnUnexpectedError bool
}

// FailOpen is the default policy.
var FailOpen = Policy{
	PassOnUnavailable:     true,
	PassOnNotFound:        true,
	PassOnUnexpectedError: true,
}

// Defaults.
const (
	DefaultSamples     = 2
	DefaultSampleDelay = 30 * time.Second
)

// Verdict is the outcome of one validation.
type Verdict struct {
	Pass    bool
	Reason  string
	Sampled []string
}

// Status returns the verdict as stored in audit results.
func (v Verdict) Status() model.Verdict {
	if v.Pass {
		return model.VerdictPass
	}
	return model.VerdictFail
}

// Engine validates peer proofs.
type Engine struct {
	retriever   Retriever
	live        LiveSource
	policy      Policy
	samples     int
	sampleDelay time.Duration
	intN        func(n int) int
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the fail-open policy.
func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithSamples sets how many records are re-checked.
func WithSamples(n int) Option {
	return func(e *Engine) {
		e.samples = n
	}
}

// WithSampleDelay sets the pause before each live re-check.
func WithSampleDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.sampleDelay = d
	}
}

// WithRand sets the index source; intN must return a value in [0, n).
func WithRand(intN func(n int) int) Option {
	return func(e *Engine) {
		e.intN = intN
	}
}

// WithSleep replaces the context-aware sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates an Engine.
func NewEngine(retriever Retriever, live LiveSource, opts ...Option) *Engine {
	e := &Engine{
		retriever:   retriever,
		live:        live,
		policy:      FailOpen,
		samples:     DefaultSamples,
		sampleDelay: DefaultSampleDelay,
		intN:        rand.IntN,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Validate checks the round artifact published under address.
func (e *Engine) Validate(ctx context.Context, address string) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v = e.unexpected(fmt.Errorf("panic: %v", r), v.Sampled)
		}
	}()

	var entries []model.ProofEntry
	if err := e.retriever.FetchJSON(ctx, address, storage.ArtifactName, &entries); err != nil {
		return e.retrievalVerdict(err)
	}
	if len(entries) == 0 {
		return Verdict{Pass: true, Reason: "artifact has no records"}
	}

	var sampled []string
	for range e.samples {
		entry := entries[e.intN(len(entries))]
		if strings.TrimSpace(entry.ID) == "" {
			return Verdict{Pass: false, Reason: "sampled entry has no id", Sampled: sampled}
		}
		sampled = append(sampled, entry.ID)

		if e.sampleDelay > 0 {
			if err := e.sleep(ctx, e.sampleDelay); err != nil {
				return e.unexpected(err, sampled)
			}
		}

		live, err := e.live.FetchLive(ctx, entry.ID)
		if errors.Is(err, model.ErrNotFound) {
			return Verdict{Pass: false, Reason: fmt.Sprintf("post %s not found on source", entry.ID), Sampled: sampled}
		}
		if err != nil {
			return e.unexpected(err, sampled)
		}

		if reason := Mismatch(entry, live); reason != "" {
			e.logger.Info("peer record does not match source", "id", entry.ID, "reason", reason)
			return Verdict{Pass: false, Reason: reason, Sampled: sampled}
		}
	}

	return Verdict{Pass: true, Reason: "all samples match", Sampled: sampled}
}

func (e *Engine) retrievalVerdict(err error) Verdict {
	var (
		vErr *model.ValidationError
		rErr *model.StorageRetrievalError
	)
	switch {
	case errors.As(err, &vErr):
		return Verdict{Pass: e.policy.PassOnInvalidAddress, Reason: "invalid content address"}
	case errors.As(err, &rErr):
		pass := e.policy.PassOnUnexpectedError
		switch rErr.Kind {
		case model.RetrievalUnavailable:
			pass = e.policy.PassOnUnavailable
		case model.RetrievalNotFound:
			pass = e.policy.PassOnNotFound
		case model.RetrievalMalformed:
			pass = e.policy.PassOnMalformed
		}
		return Verdict{Pass: pass, Reason: "artifact " + rErr.Kind.String()}
	default:
		return e.unexpected(err, nil)
	}
}

func (e *Engine) unexpected(err error, sampled []string) Verdict {
	e.logger.Warn("validation could not complete", "error", err)
	return Verdict{
		Pass:    e.policy.PassOnUnexpectedError,
		Reason:  "unexpected error: " + err.Error(),
		Sampled: sampled,
	}
}

// Mismatch compares a published entry with the live record and returns
// why they differ, or "" when they are equivalent. Engagement counters and
// timestamps change over time and are not compared.
func Mismatch(entry model.ProofEntry, live *model.Record) string {
	if live == nil {
		return "source returned no record"
	}
	published := entry.Data
	switch {
	case entry.ID != published.ID:
		return fmt.Sprintf("entry id %s does not match record id %s", entry.ID, published.ID)
	case published.ID != live.ID:
		return fmt.Sprintf("id %s does not match source id %s", published.ID, live.ID)
	case !strings.EqualFold(strings.TrimPrefix(published.AuthorHandle, "@"), strings.TrimPrefix(live.AuthorHandle, "@")):
		return fmt.Sprintf("author %q does not match source author %q", published.AuthorHandle, live.AuthorHandle)
	case extractor.Canonical(published.Text) != extractor.Canonical(live.Text):
		return "text does not match source"
	}
	return ""
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
