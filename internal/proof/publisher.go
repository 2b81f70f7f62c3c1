// Package proof publishes a round's records to content-addressed storage.
//
// Publishing is idempotent per round: the first successful Publish stores a
// ProofRecord and every later call returns its CID without uploading again.
package proof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/storage"
)

// Rounds is the record set publishing reads from.
// roundstore.Store satisfies it.
type Rounds interface {
	Snapshot(ctx context.Context, round int64) ([]model.Record, error)
	Unfreeze(round int64)
}

// Proofs persists one ProofRecord per round.
// database.Store satisfies it.
type Proofs interface {
	GetProof(ctx context.Context, round int64) (*model.ProofRecord, error)
	SaveProof(ctx context.Context, p model.ProofRecord) error
}

// Publisher uploads round artifacts and records their CIDs.
type Publisher struct {
	rounds  Rounds
	proofs  Proofs
	client  storage.Client
	staging string
	logger  *slog.Logger
	now     func() time.Time

	// mu serializes publications so two callers never upload the same round.
	mu sync.Mutex
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithClock sets the time source for ProofRecord.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// NewPublisher creates a Publisher that writes artifacts below stagingDir
// before uploading them with client.
func NewPublisher(rounds Rounds, proofs Proofs, client storage.Client, stagingDir string, opts ...Option) *Publisher {
	p := &Publisher{
		rounds:  rounds,
		proofs:  proofs,
		client:  client,
		staging: stagingDir,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Publish uploads the records of round and returns the artifact CID.
//
// An already published round returns its stored CID. An empty round returns
// model.ErrNoData and stays open. A failed upload returns
// *model.StorageUploadError and stores nothing, so a later call retries
// with the same frozen snapshot.
func (p *Publisher) Publish(ctx context.Context, round int64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, err := p.proofs.GetProof(ctx, round)
	if err != nil {
		return "", fmt.Errorf("failed to look up proof: %w", err)
	}
	if existing != nil {
		p.logger.Debug("round already published", "round", round, "cid", existing.CID)
		return existing.CID, nil
	}

	records, err := p.rounds.Snapshot(ctx, round)
	if err != nil {
		return "", fmt.Errorf("failed to snapshot round %d: %w", round, err)
	}
	if len(records) == 0 {
		p.rounds.Unfreeze(round)
		return "", fmt.Errorf("publish round %d: %w", round, model.ErrNoData)
	}

	path, err := p.writeArtifact(round, records)
	if err != nil {
		return "", err
	}

	uploaded, err := p.client.Upload(ctx, path)
	if err != nil {
		return "", &model.StorageUploadError{Round: round, Path: path, Err: err}
	}
	c, err := model.ParseContentAddress(uploaded)
	if err != nil {
		return "", &model.StorageUploadError{Round: round, Path: path, Err: err}
	}

	err = p.proofs.SaveProof(ctx, model.ProofRecord{Round: round, CID: c, CreatedAt: p.now()})
	if errors.Is(err, model.ErrDuplicate) {
		stored, getErr := p.proofs.GetProof(ctx, round)
		if getErr != nil {
			return "", fmt.Errorf("failed to read concurrent proof: %w", getErr)
		}
		if stored != nil {
			return stored.CID, nil
		}
	}
	if err != nil {
		return "", fmt.Errorf("failed to save proof: %w", err)
	}

	p.logger.Info("published round",
		"round", round,
		"records", len(records),
		"cid", c,
	)
	return c, nil
}

// writeArtifact writes <staging>/<round>/dataList.json.
func (p *Publisher) writeArtifact(round int64, records []model.Record) (string, error) {
	data, err := json.Marshal(model.NewProofEntries(round, records))
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}

	dir := filepath.Join(p.staging, strconv.FormatInt(round, 10))
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	path := filepath.Join(dir, storage.ArtifactName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}
