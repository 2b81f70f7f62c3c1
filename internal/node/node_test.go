package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/roundscout/internal/database"
	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/pipeline"
	"github.com/nao1215/roundscout/internal/validator"
)

type stubOracle struct {
	mu    sync.Mutex
	round int64
	err   error
}

func (o *stubOracle) set(r int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.round = r
}

func (o *stubOracle) CurrentRound(context.Context) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.round, o.err
}

type stepFunc struct {
	name string
	fn   func(ctx context.Context, r *model.RoundReport) error
}

func (s stepFunc) Name() string { return s.name }

func (s stepFunc) Do(ctx context.Context, r *model.RoundReport) error { return s.fn(ctx, r) }

type countingCloser struct{ n atomic.Int32 }

func (c *countingCloser) Close() error {
	c.n.Add(1)
	return nil
}

func factoryWith(runs *atomic.Int32, exit model.CrawlExit) PipelineFactory {
	return func() *pipeline.Pipeline {
		p := pipeline.New()
		p.AddStep(stepFunc{name: "crawl", fn: func(_ context.Context, r *model.RoundReport) error {
			runs.Add(1)
			r.Crawl.Exit = exit
			return nil
		}})
		return p
	}
}

func TestTick(t *testing.T) {
	t.Parallel()

	t.Run("runs once per round", func(t *testing.T) {
		t.Parallel()

		var runs atomic.Int32
		oracle := &stubOracle{round: 5}
		n := New(oracle, factoryWith(&runs, model.CrawlRoundAdvanced))
		ctx := context.Background()

		report, err := n.Tick(ctx)
		if err != nil || report == nil || report.Round != 5 {
			t.Fatalf("first Tick() = %+v, %v", report, err)
		}
		if report, _ := n.Tick(ctx); report != nil {
			t.Error("second tick in the same round should not run")
		}

		oracle.set(6)
		if report, _ := n.Tick(ctx); report == nil || report.Round != 6 {
			t.Errorf("tick in new round = %+v", report)
		}
		if runs.Load() != 2 {
			t.Errorf("runs = %d, want 2", runs.Load())
		}
	})

	t.Run("deferred crawl is retried", func(t *testing.T) {
		t.Parallel()

		var runs atomic.Int32
		n := New(&stubOracle{round: 1}, factoryWith(&runs, model.CrawlDeferred))

		_, _ = n.Tick(context.Background())
		_, _ = n.Tick(context.Background())
		if runs.Load() != 2 {
			t.Errorf("runs = %d, want 2", runs.Load())
		}
	})

	t.Run("reports are handed to the handler", func(t *testing.T) {
		t.Parallel()

		var runs atomic.Int32
		var got []*model.RoundReport
		n := New(&stubOracle{round: 2}, factoryWith(&runs, model.CrawlRateLimited),
			WithReportHandler(func(r *model.RoundReport) { got = append(got, r) }))

		_, _ = n.Tick(context.Background())
		if len(got) != 1 || got[0].Round != 2 {
			t.Errorf("handler got %+v", got)
		}
	})

	t.Run("oracle failure", func(t *testing.T) {
		t.Parallel()

		var runs atomic.Int32
		n := New(&stubOracle{err: errors.New("rpc down")}, factoryWith(&runs, model.CrawlRoundAdvanced))
		if _, err := n.Tick(context.Background()); err == nil {
			t.Error("expected error")
		}
		if runs.Load() != 0 {
			t.Error("pipeline should not run")
		}
	})
}

type peerProofs map[string]string

func (p peerProofs) Proof(_ context.Context, peer string, _ int64) (string, error) {
	if cid, ok := p[peer]; ok {
		return cid, nil
	}
	return "", model.ErrNotFound
}

type countingValidator struct{ n atomic.Int32 }

func (v *countingValidator) Validate(context.Context, string) validator.Verdict {
	v.n.Add(1)
	return validator.Verdict{Pass: true, Reason: "all samples match"}
}

func TestTickAuditsOncePerRound(t *testing.T) {
	t.Parallel()

	db, err := database.Open(t.TempDir(), database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var exit atomic.Int32
	exit.Store(int32(model.CrawlDeferred))
	v := &countingValidator{}
	factory := func() *pipeline.Pipeline {
		p := pipeline.New(pipeline.WithContinueOnError(true))
		p.AddSteps(
			stepFunc{name: "crawl", fn: func(_ context.Context, r *model.RoundReport) error {
				r.Crawl.Exit = model.CrawlExit(exit.Load())
				return nil
			}},
			pipeline.NewAuditStep(pipeline.NewProofCollector(peerProofs{"http://peer": "bafy"}), v, db,
				[]string{"http://peer"}),
		)
		return p
	}

	ctx := context.Background()
	oracle := &stubOracle{round: 7}
	n := New(oracle, factory)

	for i := 0; i < 3; i++ {
		report, err := n.Tick(ctx)
		if err != nil || report == nil {
			t.Fatalf("deferred tick %d = %+v, %v", i, report, err)
		}
		if len(report.Audits) != 0 {
			t.Errorf("deferred tick %d audited %+v", i, report.Audits)
		}
	}
	if v.n.Load() != 0 {
		t.Errorf("validator ran %d times during deferred ticks", v.n.Load())
	}

	exit.Store(int32(model.CrawlRoundAdvanced))
	if report, _ := n.Tick(ctx); report == nil || len(report.Audits) != 1 {
		t.Fatalf("completed tick = %+v", report)
	}
	if report, _ := n.Tick(ctx); report != nil {
		t.Error("a completed round should not run again")
	}

	// A restarted node replays the round without a second audit row.
	if _, err := New(oracle, factory).Tick(ctx); err != nil {
		t.Fatalf("Tick after restart failed: %v", err)
	}

	stored, err := db.ListAudits(ctx, 6)
	if err != nil {
		t.Fatalf("ListAudits failed: %v", err)
	}
	if len(stored) != 1 || v.n.Load() != 1 {
		t.Errorf("stored %d audits after %d validations, want 1 and 1", len(stored), v.n.Load())
	}
}

func TestRunAndStop(t *testing.T) {
	t.Parallel()

	ran := make(chan struct{})
	var once sync.Once
	factory := func() *pipeline.Pipeline {
		p := pipeline.New()
		p.AddStep(stepFunc{name: "crawl", fn: func(ctx context.Context, _ *model.RoundReport) error {
			once.Do(func() { close(ran) })
			<-ctx.Done()
			return ctx.Err()
		}})
		return p
	}

	closer := &countingCloser{}
	n := New(&stubOracle{round: 1}, factory, WithInterval(time.Hour), WithCloser(closer))

	done := make(chan error, 1)
	go func() { done <- n.Run(context.Background()) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("first tick did not run immediately")
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if closer.n.Load() != 1 {
		t.Errorf("closer called %d times, want 1", closer.n.Load())
	}
}
