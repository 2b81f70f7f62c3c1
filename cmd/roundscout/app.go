package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/nao1215/roundscout/internal/api"
	"github.com/nao1215/roundscout/internal/browser"
	"github.com/nao1215/roundscout/internal/config"
	"github.com/nao1215/roundscout/internal/crawler"
	"github.com/nao1215/roundscout/internal/database"
	"github.com/nao1215/roundscout/internal/extractor"
	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/pipeline"
	"github.com/nao1215/roundscout/internal/proof"
	"github.com/nao1215/roundscout/internal/round"
	"github.com/nao1215/roundscout/internal/roundstore"
	"github.com/nao1215/roundscout/internal/session"
	"github.com/nao1215/roundscout/internal/site"
	"github.com/nao1215/roundscout/internal/storage"
	"github.com/nao1215/roundscout/internal/tor"
	"github.com/nao1215/roundscout/internal/validator"
)

// app holds the node's components, wired from a Config.
//
// Every command builds one. Commands that never touch the source skip the
// browser, so status and serve work without credentials or Chrome.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	profile site.Profile

	db        *database.Store
	rounds    *roundstore.Store
	store     storage.Client
	fetcher   *storage.Fetcher
	publisher *proof.Publisher
	oracle    round.Oracle
	keywords  *round.KeywordSource
	peers     *api.PeerClient

	// Set only when the app was built with a browser.
	sessions  *session.Manager
	crawler   *crawler.Engine
	validator *validator.Engine

	closers []io.Closer
}

// appOptions selects optional parts of the app.
type appOptions struct {
	browser bool
}

// newApp opens the database and builds every component cfg describes.
// The caller must call close.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (*app, error) {
	if opts.browser {
		if err := cfg.ValidateCredentials(); err != nil {
			return nil, err
		}
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		profile: cfg.Source.Profile(site.X()),
	}
	if err := a.build(ctx, opts); err != nil {
		_ = a.close() //nolint:errcheck // the build error is more useful
		return nil, err
	}
	return a, nil
}

// build fills a in dependency order. Everything opened so far is in
// a.closers when it fails.
func (a *app) build(ctx context.Context, opts appOptions) error {
	cfg, logger := a.cfg, a.logger

	var err error
	a.db, err = database.Open(cfg.DataDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, a.db)
	logger.Debug("database opened", "path", a.db.Path())

	policy, err := roundstore.ParsePolicy(cfg.DedupPolicy)
	if err != nil {
		return err
	}
	a.rounds = roundstore.New(a.db, roundstore.WithPolicy(policy), roundstore.WithLogger(logger))

	egress, proxyURL, err := a.setupEgress(ctx)
	if err != nil {
		return err
	}

	a.store, err = newStorageClient(cfg)
	if err != nil {
		return err
	}
	a.fetcher = storage.NewFetcher(
		storage.WithPrimary(a.store),
		storage.WithGateways(cfg.Gateways...),
		storage.WithHTTPClient(egress),
		storage.WithFetcherLogger(logger),
	)
	a.publisher = proof.NewPublisher(a.rounds, a.db, a.store, cfg.StagingDir(), proof.WithLogger(logger))

	a.oracle = newOracle(cfg, egress)
	a.keywords = round.NewKeywordSource(cfg.KeywordURL, cfg.NodeKey,
		round.WithKeywordHTTPClient(egress),
		round.WithKeywordLogger(logger),
	)
	a.peers = api.NewPeerClient(api.WithPeerHTTPClient(egress))

	if opts.browser {
		a.setupBrowser(proxyURL)
	}
	return nil
}

// setupEgress returns the HTTP client for outbound requests and the proxy
// URL for the browser. Without Tor the proxy URL is empty.
func (a *app) setupEgress(ctx context.Context) (*http.Client, string, error) {
	cfg := a.cfg
	if !cfg.UseTor {
		return &http.Client{Timeout: cfg.Timeout}, "", nil
	}

	var (
		client *tor.Client
		err    error
	)
	if cfg.UseExternalTor {
		client, err = tor.NewClient(cfg.TorProxyAddress, cfg.Timeout)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Tor client: %w", err)
		}
	} else {
		embedded := tor.NewEmbeddedTor(
			tor.WithStartupTimeout(cfg.TorStartupTimeout),
			tor.WithEmbeddedLogger(a.logger),
		)
		if err := embedded.Start(ctx); err != nil {
			return nil, "", err
		}
		a.closers = append(a.closers, embedded)

		client, err = embedded.NewClient(cfg.Timeout)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create Tor client: %w", err)
		}
	}

	if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
		return nil, "", fmt.Errorf("tor proxy check failed at %s: %w", client.ProxyAddress(), status.Error())
	}
	a.logger.Info("routing traffic through Tor", "proxy", client.ProxyAddress())
	return client.NewHTTPClient(), client.ProxyURL(), nil
}

// newStorageClient returns the primary storage client. Kubo runs next to
// the node, so it is reached directly even when Tor is on.
func newStorageClient(cfg *config.Config) (storage.Client, error) {
	switch cfg.Storage {
	case config.StorageLocal:
		local, err := storage.NewLocalStore(cfg.LocalStoreDir())
		if err != nil {
			return nil, fmt.Errorf("failed to open local store: %w", err)
		}
		return local, nil
	case config.StorageKubo:
		return storage.NewKuboClient(cfg.KuboAPI,
			storage.WithKuboHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		), nil
	default:
		return nil, config.ErrUnknownStorage
	}
}

func newOracle(cfg *config.Config, httpClient *http.Client) round.Oracle {
	if cfg.OracleURL != "" {
		return round.NewHTTPOracle(cfg.OracleURL, round.WithOracleHTTPClient(httpClient))
	}
	genesis := cfg.RoundGenesis
	if genesis.IsZero() {
		genesis = time.Unix(0, 0).UTC()
	}
	return round.NewClockOracle(genesis, cfg.RoundDuration)
}

// setupBrowser builds the session manager, the crawl engine, the live
// fetcher and the validator on top of one Chrome launcher.
func (a *app) setupBrowser(proxyURL string) {
	cfg := a.cfg

	launcherOpts := []browser.ChromeOption{
		browser.WithUserAgent(a.profile.UserAgent),
		browser.WithViewport(a.profile.ViewportWidth, a.profile.ViewportHeight),
		browser.WithHeadless(cfg.Headless),
		browser.WithLogger(a.logger),
	}
	if cfg.ChromePath != "" {
		launcherOpts = append(launcherOpts, browser.WithExecPath(cfg.ChromePath))
	}
	if proxyURL != "" {
		launcherOpts = append(launcherOpts, browser.WithProxyServer(proxyURL))
	}

	creds := model.Credentials{
		Username:     cfg.Username,
		Password:     cfg.Password,
		Verification: cfg.Verification,
	}
	a.sessions = session.NewManager(browser.NewChromeLauncher(launcherOpts...), a.db, creds,
		session.WithProfile(a.profile),
		session.WithLogger(a.logger),
	)
	// Closed before the database so a final cookie save can still land.
	a.closers = append([]io.Closer{a.sessions}, a.closers...)

	crawlOpts := []crawler.Option{
		crawler.WithProfile(a.profile),
		crawler.WithExtractor(extractor.New(extractor.WithProfile(a.profile))),
		crawler.WithMaxIterations(cfg.MaxIterations),
		crawler.WithLogger(a.logger),
	}
	a.crawler = crawler.NewEngine(a.sessions, a.rounds, a.oracle, crawlOpts...)

	a.validator = validator.NewEngine(a.fetcher, crawler.NewLiveFetcher(a.sessions, crawlOpts...),
		validator.WithSamples(cfg.Samples),
		validator.WithSampleDelay(cfg.SampleDelay),
		validator.WithLogger(a.logger),
	)
}

// newPipeline builds the steps of one round: pick the term, crawl,
// publish, then audit peers when any are configured.
func (a *app) newPipeline() *pipeline.Pipeline {
	p := pipeline.New(
		pipeline.WithLogger(a.logger),
		pipeline.WithContinueOnError(true),
	)
	p.AddSteps(
		pipeline.NewSearchTermStep(a.keywords, a.db, a.logger),
		pipeline.NewCrawlStep(a.crawler, a.rounds, a.profile, a.logger),
		pipeline.NewPublishStep(a.publisher, a.logger),
	)
	if len(a.cfg.Peers) > 0 {
		collector := pipeline.NewProofCollector(a.peers,
			pipeline.WithConcurrency(a.cfg.PeerConcurrency),
			pipeline.WithCollectorLogger(a.logger),
		)
		p.AddStep(pipeline.NewAuditStep(collector, a.validator, a.db, a.cfg.Peers,
			pipeline.WithAuditLag(a.cfg.AuditLag),
			pipeline.WithAuditLogger(a.logger),
		))
	}
	return p
}

// newServer builds the status and peer API.
func (a *app) newServer() *api.Server {
	return api.NewServer(a.db, api.WithLogger(a.logger), api.WithArtifacts(a.store))
}

// status collects what the node has stored for round n.
func (a *app) status(ctx context.Context, n int64, proofLimit int) (*model.NodeStatus, error) {
	term, err := a.db.GetSearchTerm(ctx, n)
	if err != nil {
		return nil, err
	}
	records, err := a.db.CountRecords(ctx, n)
	if err != nil {
		return nil, err
	}
	proofs, err := a.db.ListProofs(ctx, proofLimit)
	if err != nil {
		return nil, err
	}
	audits, err := a.db.ListAudits(ctx, n)
	if err != nil {
		return nil, err
	}
	return &model.NodeStatus{
		GeneratedAt: time.Now(),
		Round:       n,
		SearchTerm:  term,
		Records:     records,
		Proofs:      proofs,
		Audits:      audits,
	}, nil
}

// close releases every resource in order and returns the joined errors.
func (a *app) close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
