package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProofDirectory returns the CID a peer published for a round.
// api.PeerClient satisfies it.
type ProofDirectory interface {
	Proof(ctx context.Context, peer string, round int64) (string, error)
}

// PeerProof is the outcome of asking one peer for its proof.
type PeerProof struct {
	Peer string
	CID  string
	Err  error
}

// ProofCollector asks peers for their proofs concurrently.
//
// Design decision: discovery is network only and runs in parallel with
// errgroup.SetLimit; validation that drives the browser stays sequential
// in AuditStep.
type ProofCollector struct {
	directory   ProofDirectory
	concurrency int
	logger      *slog.Logger
}

// CollectorOption configures a ProofCollector.
type CollectorOption func(*ProofCollector)

// WithCollectorLogger sets a custom logger.
func WithCollectorLogger(logger *slog.Logger) CollectorOption {
	return func(c *ProofCollector) {
		c.logger = logger
	}
}

// WithConcurrency sets the maximum number of concurrent lookups.
// Default is 8 if not specified.
func WithConcurrency(n int) CollectorOption {
	return func(c *ProofCollector) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewProofCollector creates a ProofCollector.
func NewProofCollector(directory ProofDirectory, opts ...CollectorOption) *ProofCollector {
	c := &ProofCollector{
		directory:   directory,
		concurrency: 8,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Collect asks every peer for its proof of round. Results keep the order
// of peers; a failed lookup is recorded in PeerProof.Err. The returned
// error is non-nil only when ctx was canceled.
func (c *ProofCollector) Collect(ctx context.Context, peers []string, round int64) ([]PeerProof, error) {
	startTime := time.Now()
	results := make([]PeerProof, len(peers))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, peer := range peers {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			cid, err := c.directory.Proof(gctx, peer, round)
			results[i] = PeerProof{Peer: peer, CID: cid, Err: err}
			if err != nil {
				c.logger.Debug("peer proof lookup failed",
					"peer", peer,
					"round", round,
					"error", err,
				)
			}
			// Per-peer failures must not cancel the other lookups.
			return nil
		})
	}

	err := g.Wait()

	c.logger.Debug("peer proof discovery complete",
		"peers", len(peers),
		"round", round,
		"elapsed", time.Since(startTime),
	)
	return results, err
}
