package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/roundscout/internal/crawler"
	"github.com/nao1215/roundscout/internal/database"
	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/proof"
	"github.com/nao1215/roundscout/internal/roundstore"
	"github.com/nao1215/roundscout/internal/site"
	"github.com/nao1215/roundscout/internal/storage"
	"github.com/nao1215/roundscout/internal/validator"
)

func openDB(t *testing.T) *database.Store {
	t.Helper()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fixedTerms struct {
	term  string
	err   error
	calls int
}

func (f *fixedTerms) SearchTerm(context.Context) (string, error) {
	f.calls++
	return f.term, f.err
}

func TestSearchTermStep(t *testing.T) {
	t.Parallel()

	t.Run("assigns and persists a term", func(t *testing.T) {
		t.Parallel()

		db := openDB(t)
		source := &fixedTerms{term: "golang"}
		step := NewSearchTermStep(source, db, nil)

		report := model.NewRoundReport(3)
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if report.SearchTerm != "golang" {
			t.Errorf("SearchTerm = %q", report.SearchTerm)
		}

		stored, _ := db.GetSearchTerm(context.Background(), 3)
		if stored != "golang" {
			t.Errorf("stored term = %q", stored)
		}
	})

	t.Run("reuses the stored term", func(t *testing.T) {
		t.Parallel()

		db := openDB(t)
		if err := db.SaveSearchTerm(context.Background(), 3, "first"); err != nil {
			t.Fatal(err)
		}
		source := &fixedTerms{term: "second"}

		report := model.NewRoundReport(3)
		if err := NewSearchTermStep(source, db, nil).Do(context.Background(), report); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if report.SearchTerm != "first" || source.calls != 0 {
			t.Errorf("SearchTerm = %q, source calls = %d", report.SearchTerm, source.calls)
		}
	})

	t.Run("source failure", func(t *testing.T) {
		t.Parallel()

		step := NewSearchTermStep(&fixedTerms{err: errors.New("down")}, openDB(t), nil)
		if err := step.Do(context.Background(), model.NewRoundReport(1)); err == nil {
			t.Error("expected error")
		}
	})
}

type fakeCrawler struct {
	stats model.CrawlStats
	err   error
	got   crawler.Query
}

func (f *fakeCrawler) Crawl(_ context.Context, q crawler.Query) (model.CrawlStats, error) {
	f.got = q
	return f.stats, f.err
}

type fakeRecords struct{ n int }

func (f fakeRecords) Records(context.Context, int64) ([]model.Record, error) {
	return make([]model.Record, f.n), nil
}

func TestCrawlStep(t *testing.T) {
	t.Parallel()

	t.Run("records crawl stats", func(t *testing.T) {
		t.Parallel()

		c := &fakeCrawler{stats: model.CrawlStats{Exit: model.CrawlRoundAdvanced, Inserted: 4}}
		step := NewCrawlStep(c, fakeRecords{n: 4}, site.X(), nil)

		report := model.NewRoundReport(9)
		report.SearchTerm = "open source"
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if report.Crawl.Exit != model.CrawlRoundAdvanced || report.Records != 4 {
			t.Errorf("report = %+v", report)
		}
		if c.got.Round != 9 || c.got.SearchTerm != "open source" || c.got.URL != site.X().SearchURL("open source") {
			t.Errorf("query = %+v", c.got)
		}
	})

	t.Run("crawl failure still counts records", func(t *testing.T) {
		t.Parallel()

		c := &fakeCrawler{stats: model.CrawlStats{Exit: model.CrawlFailed}, err: errors.New("page crashed")}
		report := model.NewRoundReport(1)
		report.SearchTerm = "x"

		if err := NewCrawlStep(c, fakeRecords{n: 2}, site.X(), nil).Do(context.Background(), report); err == nil {
			t.Fatal("expected error")
		}
		if report.Records != 2 || report.Crawl.Exit != model.CrawlFailed {
			t.Errorf("report = %+v", report)
		}
	})

	t.Run("requires a search term", func(t *testing.T) {
		t.Parallel()

		c := &fakeCrawler{}
		if err := NewCrawlStep(c, fakeRecords{}, site.X(), nil).Do(context.Background(), model.NewRoundReport(1)); err == nil {
			t.Error("expected error")
		}
	})
}

type fakePublisher struct {
	cid   string
	err   error
	calls *int
}

func (f fakePublisher) Publish(context.Context, int64) (string, error) {
	if f.calls != nil {
		*f.calls++
	}
	return f.cid, f.err
}

func TestPublishStep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pub     fakePublisher
		wantCID string
		wantErr bool
	}{
		{name: "published", pub: fakePublisher{cid: "bafy"}, wantCID: "bafy"},
		{name: "no data", pub: fakePublisher{err: fmt.Errorf("round 1: %w", model.ErrNoData)}},
		{name: "upload failure", pub: fakePublisher{err: &model.StorageUploadError{Round: 1, Err: errors.New("offline")}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			report := model.NewRoundReport(1)
			err := NewPublishStep(tt.pub, nil).Do(context.Background(), report)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Do() error = %v, wantErr %v", err, tt.wantErr)
			}
			if report.ProofCID != tt.wantCID {
				t.Errorf("ProofCID = %q, want %q", report.ProofCID, tt.wantCID)
			}
		})
	}
}

func TestPublishStepSkipsPendingCrawl(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		exit     model.CrawlExit
		canceled bool
	}{
		{name: "deferred", exit: model.CrawlDeferred},
		{name: "crawl canceled", exit: model.CrawlCanceled},
		{name: "pipeline canceled", exit: model.CrawlRoundAdvanced, canceled: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			report := model.NewRoundReport(1)
			report.Crawl.Exit = tt.exit
			report.Canceled = tt.canceled

			if err := NewPublishStep(fakePublisher{cid: "bafy", calls: &calls}, nil).Do(context.Background(), report); err != nil {
				t.Fatalf("Do failed: %v", err)
			}
			if calls != 0 || report.ProofCID != "" {
				t.Errorf("publisher called %d times, ProofCID = %q", calls, report.ProofCID)
			}
		})
	}
}

func TestDeferredCrawlLeavesRoundOpen(t *testing.T) {
	t.Parallel()

	db := openDB(t)
	rounds := roundstore.New(db)
	local, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open local store: %v", err)
	}
	publisher := proof.NewPublisher(rounds, db, local, t.TempDir())
	ctx := context.Background()

	if _, err := rounds.Add(ctx, 5, model.Record{ID: "1", Text: "one", PostedAt: 10}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	run := func(exit model.CrawlExit) *model.RoundReport {
		t.Helper()

		p := New(WithContinueOnError(true))
		p.AddSteps(
			NewCrawlStep(&fakeCrawler{stats: model.CrawlStats{Exit: exit}}, rounds, site.X(), nil),
			NewPublishStep(publisher, nil),
		)
		report := model.NewRoundReport(5)
		report.SearchTerm = "golang"
		if err := p.Execute(ctx, report); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		return report
	}

	if report := run(model.CrawlDeferred); report.Published() {
		t.Fatalf("deferred crawl published %q", report.ProofCID)
	}

	added, err := rounds.Add(ctx, 5, model.Record{ID: "2", Text: "two", PostedAt: 20})
	if err != nil || !added {
		t.Fatalf("round 5 should still accept records: added=%v err=%v", added, err)
	}

	report := run(model.CrawlRoundAdvanced)
	if !report.Published() || report.Records != 2 {
		t.Errorf("report = %+v, want a proof over 2 records", report)
	}
	if _, err := rounds.Add(ctx, 5, model.Record{ID: "3", PostedAt: 30}); !errors.Is(err, model.ErrRoundFrozen) {
		t.Errorf("expected ErrRoundFrozen after publishing, got %v", err)
	}
}

// fakeDirectory answers proof lookups from a map keyed by peer.
type fakeDirectory struct {
	mu     sync.Mutex
	proofs map[string]string
	errs   map[string]error
	rounds []int64
}

func (f *fakeDirectory) Proof(_ context.Context, peer string, round int64) (string, error) {
	f.mu.Lock()
	f.rounds = append(f.rounds, round)
	f.mu.Unlock()

	if err, ok := f.errs[peer]; ok {
		return "", err
	}
	if cid, ok := f.proofs[peer]; ok {
		return cid, nil
	}
	return "", model.ErrNotFound
}

type fakeValidator struct {
	verdicts map[string]validator.Verdict
	calls    []string
}

func (f *fakeValidator) Validate(_ context.Context, cid string) validator.Verdict {
	f.calls = append(f.calls, cid)
	return f.verdicts[cid]
}

func TestAuditStep(t *testing.T) {
	t.Parallel()

	t.Run("audits the previous round", func(t *testing.T) {
		t.Parallel()

		db := openDB(t)
		dir := &fakeDirectory{
			proofs: map[string]string{"http://a": "cid-a", "http://b": "cid-b"},
			errs:   map[string]error{"http://down": errors.New("connection refused")},
		}
		v := &fakeValidator{verdicts: map[string]validator.Verdict{
			"cid-a": {Pass: true, Reason: "all samples match", Sampled: []string{"1"}},
			"cid-b": {Pass: false, Reason: "text does not match source"},
		}}
		now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		step := NewAuditStep(NewProofCollector(dir), v, db,
			[]string{"http://a", "http://down", "http://none", "http://b"},
			WithAuditClock(func() time.Time { return now }),
		)

		report := model.NewRoundReport(10)
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("Do failed: %v", err)
		}

		if len(report.Audits) != 2 {
			t.Fatalf("got %d audits, want 2", len(report.Audits))
		}
		if report.Audits[0].Peer != "http://a" || !report.Audits[0].Passed() {
			t.Errorf("first audit = %+v", report.Audits[0])
		}
		if report.Audits[1].Peer != "http://b" || report.Audits[1].Passed() {
			t.Errorf("second audit = %+v", report.Audits[1])
		}
		if report.FailedAudits() != 1 {
			t.Errorf("FailedAudits() = %d", report.FailedAudits())
		}
		for _, r := range dir.rounds {
			if r != 9 {
				t.Errorf("looked up round %d, want 9", r)
			}
		}

		stored, _ := db.ListAudits(context.Background(), 9)
		if len(stored) != 2 {
			t.Errorf("stored %d audits, want 2", len(stored))
		}
	})

	t.Run("pending crawl skips the audit", func(t *testing.T) {
		t.Parallel()

		db := openDB(t)
		dir := &fakeDirectory{proofs: map[string]string{"p": "c"}}
		v := &fakeValidator{verdicts: map[string]validator.Verdict{"c": {Pass: true}}}
		step := NewAuditStep(NewProofCollector(dir), v, db, []string{"p"})

		report := model.NewRoundReport(4)
		report.Crawl.Exit = model.CrawlDeferred
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if len(dir.rounds) != 0 || len(v.calls) != 0 || len(report.Audits) != 0 {
			t.Errorf("lookups = %v, validations = %v, audits = %+v", dir.rounds, v.calls, report.Audits)
		}
	})

	t.Run("audited peers are not audited again", func(t *testing.T) {
		t.Parallel()

		db := openDB(t)
		dir := &fakeDirectory{proofs: map[string]string{"p": "c", "q": "d"}}
		v := &fakeValidator{verdicts: map[string]validator.Verdict{
			"c": {Pass: true},
			"d": {Pass: true},
		}}
		step := NewAuditStep(NewProofCollector(dir), v, db, []string{"p"})

		for range 3 {
			if err := step.Do(context.Background(), model.NewRoundReport(4)); err != nil {
				t.Fatalf("Do failed: %v", err)
			}
		}
		if len(v.calls) != 1 {
			t.Errorf("validated %d times, want 1", len(v.calls))
		}

		// A peer added later is still audited.
		step = NewAuditStep(NewProofCollector(dir), v, db, []string{"p", "q"})
		report := model.NewRoundReport(4)
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if len(report.Audits) != 1 || report.Audits[0].Peer != "q" {
			t.Errorf("audits = %+v", report.Audits)
		}

		stored, _ := db.ListAudits(context.Background(), 3)
		if len(stored) != 2 {
			t.Errorf("stored %d audits, want 2", len(stored))
		}
	})

	t.Run("round zero has nothing to audit", func(t *testing.T) {
		t.Parallel()

		dir := &fakeDirectory{}
		step := NewAuditStep(NewProofCollector(dir), &fakeValidator{}, openDB(t), []string{"http://a"})
		if err := step.Do(context.Background(), model.NewRoundReport(0)); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if len(dir.rounds) != 0 {
			t.Error("no peer should be asked")
		}
	})

	t.Run("lag zero audits the same round", func(t *testing.T) {
		t.Parallel()

		dir := &fakeDirectory{proofs: map[string]string{"p": "c"}}
		v := &fakeValidator{verdicts: map[string]validator.Verdict{"c": {Pass: true}}}
		step := NewAuditStep(NewProofCollector(dir), v, openDB(t), []string{"p"}, WithAuditLag(0))

		report := model.NewRoundReport(4)
		if err := step.Do(context.Background(), report); err != nil {
			t.Fatalf("Do failed: %v", err)
		}
		if len(report.Audits) != 1 || report.Audits[0].Round != 4 {
			t.Errorf("audits = %+v", report.Audits)
		}
	})
}

func TestProofCollector(t *testing.T) {
	t.Parallel()

	t.Run("keeps peer order", func(t *testing.T) {
		t.Parallel()

		peers := []string{"p0", "p1", "p2", "p3", "p4"}
		dir := &fakeDirectory{proofs: map[string]string{"p0": "c0", "p2": "c2", "p4": "c4"}}

		results, err := NewProofCollector(dir, WithConcurrency(2)).Collect(context.Background(), peers, 1)
		if err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
		for i, r := range results {
			if r.Peer != peers[i] {
				t.Errorf("result %d is for %s", i, r.Peer)
			}
		}
		if results[2].CID != "c2" || !errors.Is(results[1].Err, model.ErrNotFound) {
			t.Errorf("unexpected results: %+v", results)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewProofCollector(&fakeDirectory{}).Collect(ctx, []string{"p"}, 1)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
