package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/roundscout/internal/crawler"
	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/site"
	"github.com/nao1215/roundscout/internal/validator"
)

// TermSource picks a fresh search term. round.KeywordSource satisfies it.
type TermSource interface {
	SearchTerm(ctx context.Context) (string, error)
}

// TermStore persists the term assigned to each round.
// database.Store satisfies it.
type TermStore interface {
	GetSearchTerm(ctx context.Context, round int64) (string, error)
	SaveSearchTerm(ctx context.Context, round int64, term string) error
}

// SearchTermStep assigns the round's search term. A round keeps the term
// it was first given, so a restarted node crawls the same query.
type SearchTermStep struct {
	source TermSource
	store  TermStore
	logger *slog.Logger
}

// NewSearchTermStep creates a SearchTermStep.
func NewSearchTermStep(source TermSource, store TermStore, logger *slog.Logger) *SearchTermStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchTermStep{source: source, store: store, logger: logger}
}

// Name returns the step name.
func (s *SearchTermStep) Name() string {
	return "search_term"
}

// Do sets report.SearchTerm.
func (s *SearchTermStep) Do(ctx context.Context, report *model.RoundReport) error {
	term, err := s.store.GetSearchTerm(ctx, report.Round)
	if err != nil {
		return err
	}
	if term == "" {
		picked, err := s.source.SearchTerm(ctx)
		if err != nil {
			return fmt.Errorf("failed to pick search term: %w", err)
		}
		if err := s.store.SaveSearchTerm(ctx, report.Round, picked); err != nil {
			return err
		}
		// Another process may have saved first; the stored term wins.
		if term, err = s.store.GetSearchTerm(ctx, report.Round); err != nil {
			return err
		}
		s.logger.Info("assigned search term", "round", report.Round, "search_term", term)
	}

	report.SearchTerm = term
	return nil
}

// Crawler runs one crawl. crawler.Engine satisfies it.
type Crawler interface {
	Crawl(ctx context.Context, q crawler.Query) (model.CrawlStats, error)
}

// RecordLister lists a round's records. roundstore.Store satisfies it.
type RecordLister interface {
	Records(ctx context.Context, round int64) ([]model.Record, error)
}

// CrawlStep crawls the live search for the round's term.
type CrawlStep struct {
	crawler Crawler
	records RecordLister
	profile site.Profile
	logger  *slog.Logger
}

// NewCrawlStep creates a CrawlStep searching with profile.
func NewCrawlStep(c Crawler, records RecordLister, profile site.Profile, logger *slog.Logger) *CrawlStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrawlStep{crawler: c, records: records, profile: profile, logger: logger}
}

// Name returns the step name.
func (s *CrawlStep) Name() string {
	return "crawl"
}

// Do fills report.Crawl and report.Records. A deferred crawl is not an error.
func (s *CrawlStep) Do(ctx context.Context, report *model.RoundReport) error {
	if report.SearchTerm == "" {
		return errors.New("crawl needs a search term")
	}

	stats, crawlErr := s.crawler.Crawl(ctx, crawler.Query{
		SearchTerm: report.SearchTerm,
		URL:        s.profile.SearchURL(report.SearchTerm),
		Round:      report.Round,
	})
	report.Crawl = stats

	records, err := s.records.Records(ctx, report.Round)
	if err == nil {
		report.Records = len(records)
	}

	if stats.Exit == model.CrawlDeferred {
		s.logger.Info("crawl deferred until a session is available", "round", report.Round)
	}
	if crawlErr != nil {
		return crawlErr
	}
	return err
}

// Publisher publishes a round. proof.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, round int64) (string, error)
}

// PublishStep publishes the round's proof.
type PublishStep struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewPublishStep creates a PublishStep.
func NewPublishStep(p Publisher, logger *slog.Logger) *PublishStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &PublishStep{publisher: p, logger: logger}
}

// Name returns the step name.
func (s *PublishStep) Name() string {
	return "publish"
}

// Do sets report.ProofCID. An empty round is not an error.
// Publishing freezes the round, so a round whose crawl is still pending is
// left open for the next tick.
func (s *PublishStep) Do(ctx context.Context, report *model.RoundReport) error {
	if report.CrawlPending() {
		s.logger.Info("crawl pending; not publishing", "round", report.Round, "crawl", report.Crawl.Exit.String())
		return nil
	}

	cid, err := s.publisher.Publish(ctx, report.Round)
	if errors.Is(err, model.ErrNoData) {
		s.logger.Info("nothing to publish", "round", report.Round)
		return nil
	}
	if err != nil {
		return err
	}
	report.ProofCID = cid
	return nil
}

// Validator checks a peer proof. validator.Engine satisfies it.
type Validator interface {
	Validate(ctx context.Context, cid string) validator.Verdict
}

// AuditStore persists audit results. database.Store satisfies it.
type AuditStore interface {
	SaveAudit(ctx context.Context, a model.AuditResult) error
	ListAudits(ctx context.Context, round int64) ([]model.AuditResult, error)
}

// AuditStep validates the proofs peers published for an earlier round.
type AuditStep struct {
	collector *ProofCollector
	validator Validator
	audits    AuditStore
	peers     []string
	lag       int64
	now       func() time.Time
	logger    *slog.Logger
}

// AuditStepOption configures an AuditStep.
type AuditStepOption func(*AuditStep)

// WithAuditLag sets how many rounds back the step audits. The default 1
// audits the previous round, whose proofs peers have had a full round to
// publish.
func WithAuditLag(lag int64) AuditStepOption {
	return func(s *AuditStep) {
		s.lag = lag
	}
}

// WithAuditClock sets the time source for audit timestamps.
func WithAuditClock(now func() time.Time) AuditStepOption {
	return func(s *AuditStep) {
		s.now = now
	}
}

// WithAuditLogger sets a custom logger.
func WithAuditLogger(logger *slog.Logger) AuditStepOption {
	return func(s *AuditStep) {
		s.logger = logger
	}
}

// NewAuditStep creates an AuditStep over peers.
func NewAuditStep(collector *ProofCollector, v Validator, audits AuditStore, peers []string, opts ...AuditStepOption) *AuditStep {
	s := &AuditStep{
		collector: collector,
		validator: v,
		audits:    audits,
		peers:     peers,
		lag:       1,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Name returns the step name.
func (s *AuditStep) Name() string {
	return "audit"
}

// Do appends one AuditResult per peer that has a proof.
// Peers without a proof or that cannot be reached are skipped, as are peers
// already audited for the round. Nothing is audited while the crawl is
// pending: validation needs the same session the crawl is waiting for.
func (s *AuditStep) Do(ctx context.Context, report *model.RoundReport) error {
	round := report.Round - s.lag
	if round < 0 || len(s.peers) == 0 {
		return nil
	}
	if report.CrawlPending() {
		s.logger.Info("crawl pending; not auditing", "round", round)
		return nil
	}

	peers, err := s.unaudited(ctx, round)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return nil
	}

	proofs, err := s.collector.Collect(ctx, peers, round)
	if err != nil {
		return err
	}

	for _, p := range proofs {
		if p.Err != nil {
			if !errors.Is(p.Err, model.ErrNotFound) {
				s.logger.Warn("skipping unreachable peer", "peer", p.Peer, "round", round, "error", p.Err)
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		verdict := s.validator.Validate(ctx, p.CID)

		audit := model.NewAuditResult(round, p.Peer, p.CID, s.now())
		audit.Verdict = verdict.Status()
		audit.Reason = verdict.Reason
		audit.Samples = verdict.Sampled

		if err := s.audits.SaveAudit(ctx, audit); err != nil {
			return err
		}
		report.AddAudit(audit)

		s.logger.Info("audited peer",
			"peer", p.Peer,
			"round", round,
			"cid", p.CID,
			"verdict", audit.Verdict,
		)
	}
	return nil
}

// unaudited returns the peers with no stored audit for round.
func (s *AuditStep) unaudited(ctx context.Context, round int64) ([]string, error) {
	done, err := s.audits.ListAudits(ctx, round)
	if err != nil {
		return nil, err
	}
	audited := make(map[string]struct{}, len(done))
	for _, a := range done {
		audited[a.Peer] = struct{}{}
	}

	peers := make([]string, 0, len(s.peers))
	for _, p := range s.peers {
		if _, ok := audited[p]; !ok {
			peers = append(peers, p)
		}
	}
	return peers, nil
}
