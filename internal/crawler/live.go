package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nao1215/roundscout/internal/extractor"
	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/session"
	"github.com/nao1215/roundscout/internal/site"
)

// LiveFetcher re-reads a single post from the live source through the
// node's authenticated browser. The validator uses it to check peer proofs.
type LiveFetcher struct {
	sessions  Sessions
	extractor *extractor.Extractor
	profile   site.Profile
	settle    time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	logger    *slog.Logger
}

// NewLiveFetcher creates a LiveFetcher. It accepts the Engine options that
// apply to it: WithProfile, WithExtractor, WithSettle, WithSleep and WithLogger.
func NewLiveFetcher(sessions Sessions, opts ...Option) *LiveFetcher {
	e := NewEngine(sessions, nil, nil, opts...)
	return &LiveFetcher{
		sessions:  sessions,
		extractor: e.extractor,
		profile:   e.profile,
		settle:    e.settle,
		sleep:     e.sleep,
		logger:    e.logger,
	}
}

// FetchLive returns the current rendering of the post with id.
// It returns model.ErrNotFound when the status page shows no such post.
func (f *LiveFetcher) FetchLive(ctx context.Context, id string) (*model.Record, error) {
	if !f.sessions.EnsureSession(ctx) {
		cause := f.sessions.Err()
		if cause == nil {
			cause = session.ErrNoSession
		}
		return nil, &model.SessionError{Op: "live-fetch", Err: cause}
	}

	lease, err := f.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	page := lease.Page()
	if err := page.Navigate(ctx, f.profile.StatusURL(id)); err != nil {
		lease.Close()
		return nil, fmt.Errorf("failed to open status %s: %w", id, err)
	}
	if err := f.sleep(ctx, f.settle); err != nil {
		return nil, err
	}

	fragments, err := page.Fragments(ctx, f.profile.ItemSelector)
	if err != nil {
		lease.Close()
		return nil, fmt.Errorf("failed to read status %s: %w", id, err)
	}

	for _, fragment := range fragments {
		rec, err := f.extractor.Extract(fragment, "")
		if err != nil {
			continue
		}
		if rec.ID == id {
			f.logger.Debug("fetched live record", "id", id)
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("status %s: %w", id, model.ErrNotFound)
}
