package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nao1215/roundscout/internal/extractor"
	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/session"
	"github.com/nao1215/roundscout/internal/site"
)

// Sessions is the part of session.Manager the crawler needs.
type Sessions interface {
	State() model.SessionState
	Err() error
	EnsureSession(ctx context.Context) bool
	Negotiate(ctx context.Context) bool
	Acquire(ctx context.Context) (*session.Lease, error)
}

// RecordSink receives extracted records. roundstore.Store satisfies it.
type RecordSink interface {
	Add(ctx context.Context, round int64, rec model.Record) (bool, error)
}

// RoundOracle reports the network's current round.
type RoundOracle interface {
	CurrentRound(ctx context.Context) (int64, error)
}

// Query is one crawl request.
type Query struct {
	// SearchTerm tags every record found.
	SearchTerm string

	// URL is the page to paginate.
	URL string

	// Round the records belong to.
	Round int64
}

// Defaults for Engine.
const (
	DefaultMaxIterations = 10000
	DefaultItemDelay     = time.Second
	DefaultSettle        = 5 * time.Second
)

// Engine runs the pagination loop.
type Engine struct {
	sessions  Sessions
	sink      RecordSink
	oracle    RoundOracle
	extractor *extractor.Extractor
	profile   site.Profile
	logger    *slog.Logger

	// maxIterations bounds one Crawl call.
	maxIterations int

	// itemDelay is the pause before each extracted post.
	itemDelay time.Duration

	// settle is the pause after navigation and after each scroll.
	settle time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithProfile sets the site profile.
func WithProfile(p site.Profile) Option {
	return func(e *Engine) {
		e.profile = p
	}
}

// WithExtractor sets the fragment extractor.
func WithExtractor(x *extractor.Extractor) Option {
	return func(e *Engine) {
		e.extractor = x
	}
}

// WithMaxIterations sets the pagination safety valve.
func WithMaxIterations(n int) Option {
	return func(e *Engine) {
		e.maxIterations = n
	}
}

// WithItemDelay sets the pause before each extracted post.
func WithItemDelay(d time.Duration) Option {
	return func(e *Engine) {
		e.itemDelay = d
	}
}

// WithSettle sets the render pause after navigation and scrolling.
func WithSettle(d time.Duration) Option {
	return func(e *Engine) {
		e.settle = d
	}
}

// WithSleep replaces the context-aware sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// NewEngine creates an Engine.
func NewEngine(sessions Sessions, sink RecordSink, oracle RoundOracle, opts ...Option) *Engine {
	e := &Engine{
		sessions:      sessions,
		sink:          sink,
		oracle:        oracle,
		profile:       site.X(),
		maxIterations: DefaultMaxIterations,
		itemDelay:     DefaultItemDelay,
		settle:        DefaultSettle,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.extractor == nil {
		e.extractor = extractor.New(extractor.WithProfile(e.profile))
	}
	if e.maxIterations <= 0 {
		e.maxIterations = DefaultMaxIterations
	}
	return e
}

// Crawl paginates q.URL until one of the exit conditions holds.
// The returned error is non-nil for CrawlFailed and CrawlCanceled.
func (e *Engine) Crawl(ctx context.Context, q Query) (model.CrawlStats, error) {
	stats := model.CrawlStats{Exit: model.CrawlNotRun}
	logger := e.logger.With("round", q.Round, "search_term", q.SearchTerm)

	if e.sessions.State() != model.SessionAuthenticated {
		logger.Info("no session; negotiating and deferring crawl")
		if !e.sessions.Negotiate(ctx) {
			logger.Warn("session negotiation failed", "error", e.sessions.Err())
		}
		stats.Exit = model.CrawlDeferred
		return stats, nil
	}

	lease, err := e.sessions.Acquire(ctx)
	if err != nil {
		if ctx.Err() != nil {
			stats.Exit = model.CrawlCanceled
			return stats, ctx.Err()
		}
		logger.Info("session lost before crawl; deferring", "error", err)
		stats.Exit = model.CrawlDeferred
		return stats, nil
	}
	defer lease.Release()

	exit, err := e.paginate(ctx, lease, q, &stats, logger)
	lease.Close()
	stats.Exit = exit

	logger.Info("crawl finished",
		"exit", exit.String(),
		"iterations", stats.Iterations,
		"seen", stats.Seen,
		"inserted", stats.Inserted,
		"skipped", stats.Skipped,
	)
	return stats, err
}

func (e *Engine) paginate(ctx context.Context, lease *session.Lease, q Query, stats *model.CrawlStats, logger *slog.Logger) (model.CrawlExit, error) {
	page := lease.Page()

	if err := page.Navigate(ctx, q.URL); err != nil {
		return e.failure(ctx, err)
	}
	if err := e.sleep(ctx, e.settle); err != nil {
		return model.CrawlCanceled, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return model.CrawlCanceled, err
		}
		if stats.Iterations >= e.maxIterations {
			logger.Warn("iteration cap reached", "max_iterations", e.maxIterations)
			return model.CrawlIterationCap, nil
		}
		stats.Iterations++

		notices, err := page.Texts(ctx, e.profile.NoticeSelector)
		if err != nil {
			return e.failure(ctx, err)
		}
		rateLimited := containsNotice(notices, e.profile.RateLimitPhrase)

		fragments, err := page.Fragments(ctx, e.profile.ItemSelector)
		if err != nil {
			return e.failure(ctx, err)
		}

		for _, fragment := range fragments {
			if err := e.sleep(ctx, e.itemDelay); err != nil {
				return model.CrawlCanceled, err
			}

			rec, err := e.extractor.Extract(fragment, q.SearchTerm)
			if err != nil || rec.ID == "" {
				stats.Skipped++
				continue
			}
			stats.Seen++

			added, err := e.sink.Add(ctx, q.Round, rec)
			switch {
			case errors.Is(err, model.ErrRoundFrozen):
				logger.Info("round already published; stopping crawl")
				return model.CrawlRoundFrozen, nil
			case err != nil:
				logger.Warn("failed to store record", "id", rec.ID, "error", err)
			case added:
				stats.Inserted++
				logger.Debug("stored record", "id", rec.ID)
			}
		}

		current, err := e.oracle.CurrentRound(ctx)
		if err != nil {
			logger.Warn("round check failed", "error", err)
		} else if current != q.Round {
			logger.Info("round changed; closing browser", "current_round", current)
			return model.CrawlRoundAdvanced, nil
		}

		if err := page.Scroll(ctx); err != nil {
			return e.failure(ctx, err)
		}
		if err := e.sleep(ctx, e.settle); err != nil {
			return model.CrawlCanceled, err
		}

		if rateLimited {
			logger.Warn("rate limit reached; waiting for next round")
			return model.CrawlRateLimited, nil
		}
	}
}

func (e *Engine) failure(ctx context.Context, err error) (model.CrawlExit, error) {
	if ctx.Err() != nil {
		return model.CrawlCanceled, ctx.Err()
	}
	return model.CrawlFailed, fmt.Errorf("crawl page error: %w", err)
}

func containsNotice(notices []string, phrase string) bool {
	for _, n := range notices {
		if strings.TrimSpace(n) == phrase {
			return true
		}
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
