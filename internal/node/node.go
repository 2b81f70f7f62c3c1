// Package node drives the round pipeline on a schedule.
//
// A Node polls the round oracle with robfig/cron and runs the pipeline once
// per round. Ticks never overlap: a crawl that spans several ticks makes
// the later ticks no-ops.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/pipeline"
)

// DefaultInterval is how often the oracle is polled.
const DefaultInterval = 30 * time.Second

// Oracle reports the current round.
type Oracle interface {
	CurrentRound(ctx context.Context) (int64, error)
}

// PipelineFactory builds the pipeline for one round.
type PipelineFactory func() *pipeline.Pipeline

// Node runs one round at a time.
type Node struct {
	oracle   Oracle
	factory  PipelineFactory
	interval time.Duration
	closers  []io.Closer
	onReport func(*model.RoundReport)
	logger   *slog.Logger

	mu        sync.Mutex
	lastRound int64
	ran       bool
	cron      *cron.Cron
	cancel    context.CancelFunc
	running   sync.WaitGroup
	stopOnce  sync.Once
	stopErr   error
}

// Option configures a Node.
type Option func(*Node)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		n.logger = logger
	}
}

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(n *Node) {
		if d > 0 {
			n.interval = d
		}
	}
}

// WithCloser registers a resource closed by Stop, such as the browser session.
func WithCloser(c io.Closer) Option {
	return func(n *Node) {
		n.closers = append(n.closers, c)
	}
}

// WithReportHandler sets a callback receiving every finished round report.
func WithReportHandler(fn func(*model.RoundReport)) Option {
	return func(n *Node) {
		n.onReport = fn
	}
}

// New creates a Node.
func New(oracle Oracle, factory PipelineFactory, opts ...Option) *Node {
	n := &Node{
		oracle:   oracle,
		factory:  factory,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	return n
}

// Tick runs the pipeline when the oracle reports a round this node has
// not completed yet. It returns the report, or nil when nothing ran.
// A round whose crawl was deferred for lack of a session, or canceled, is
// retried on the next tick.
func (n *Node) Tick(ctx context.Context) (*model.RoundReport, error) {
	round, err := n.oracle.CurrentRound(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current round: %w", err)
	}

	n.mu.Lock()
	done := n.ran && round <= n.lastRound
	n.mu.Unlock()
	if done {
		return nil, nil
	}

	report := model.NewRoundReport(round)
	execErr := n.factory().Execute(ctx, report)

	if !report.CrawlPending() {
		n.mu.Lock()
		n.lastRound = round
		n.ran = true
		n.mu.Unlock()
	}

	n.logger.Info("round finished",
		"round", round,
		"crawl", report.Crawl.Exit.String(),
		"records", report.Records,
		"proof", report.ProofCID,
		"audits", len(report.Audits),
		"failed_audits", report.FailedAudits(),
	)

	if n.onReport != nil {
		n.onReport(report)
	}
	return report, execErr
}

// Run polls until ctx is canceled or Stop is called. The first tick
// happens immediately.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c := cron.New(
		cron.WithLogger(newCronLogger(n.logger)),
		cron.WithChain(
			cron.Recover(newCronLogger(n.logger)),
			cron.SkipIfStillRunning(newCronLogger(n.logger)),
		),
	)

	id, err := c.AddFunc(fmt.Sprintf("@every %s", n.interval), func() {
		if _, err := n.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			n.logger.Error("round failed", "error", err)
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to schedule rounds: %w", err)
	}

	n.mu.Lock()
	n.cron = c
	n.cancel = cancel
	n.mu.Unlock()

	c.Start()
	n.logger.Info("node started", "interval", n.interval)

	// Run through the wrapped job so the first tick also counts as running.
	n.running.Add(1)
	go func() {
		defer n.running.Done()
		c.Entry(id).WrappedJob.Run()
	}()

	<-ctx.Done()
	return n.Stop()
}

// Stop cancels the running round, waits for it to return and closes every
// registered resource. It is safe to call more than once.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		n.mu.Lock()
		c, cancel := n.cron, n.cancel
		n.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if c != nil {
			<-c.Stop().Done()
		}
		n.running.Wait()
		var errs []error
		for _, closer := range n.closers {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		n.stopErr = errors.Join(errs...)
		n.logger.Info("node stopped")
	})
	return n.stopErr
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func newCronLogger(logger *slog.Logger) cron.Logger {
	return cronLogger{logger: logger}
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
