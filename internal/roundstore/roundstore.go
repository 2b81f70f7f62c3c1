// Package roundstore keeps the records a node collects for each round.
//
// It sits on top of the persistent key-value store and adds two rules the
// raw store does not know about: which observation of a post wins when it
// is seen more than once, and that a published round never changes again.
package roundstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nao1215/roundscout/internal/model"
)

// Backend is the persistence the RoundStore writes through to.
// database.Store satisfies it.
type Backend interface {
	InsertRecord(ctx context.Context, round int64, rec model.Record) error
	FindRecord(ctx context.Context, round int64, id string) (*model.Record, error)
	ReplaceRecord(ctx context.Context, round int64, rec model.Record) error
	ListRecords(ctx context.Context, round int64) ([]model.Record, error)
	GetProof(ctx context.Context, round int64) (*model.ProofRecord, error)
}

// Policy decides what happens when a record ID is seen twice in a round.
type Policy int

const (
	// PolicyFreshest replaces the stored record when the new one has a
	// strictly newer PostedAt.
	PolicyFreshest Policy = iota

	// PolicyFirstWins keeps the first observation and rejects the rest.
	PolicyFirstWins
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyFreshest:
		return "freshest"
	case PolicyFirstWins:
		return "first-wins"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a config value into a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "freshest":
		return PolicyFreshest, nil
	case "first-wins":
		return PolicyFirstWins, nil
	default:
		return PolicyFreshest, fmt.Errorf("unknown dedup policy %q", s)
	}
}

// Store is the per-round ordered record set.
type Store struct {
	backend Backend
	policy  Policy
	logger  *slog.Logger

	// mu serializes writes so the find-then-replace of PolicyFreshest is atomic.
	mu     sync.Mutex
	frozen map[int64]bool
}

// Option configures a Store.
type Option func(*Store)

// WithPolicy sets the dedup policy. The default is PolicyFreshest.
func WithPolicy(p Policy) Option {
	return func(s *Store) {
		s.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		policy:  PolicyFreshest,
		frozen:  make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Policy returns the active dedup policy.
func (s *Store) Policy() Policy {
	return s.policy
}

// Add stores rec under round and reports whether it changed the round.
// A duplicate that loses under the policy is not an error; Add returns false.
// Writing to a frozen round returns model.ErrRoundFrozen.
func (s *Store) Add(ctx context.Context, round int64, rec model.Record) (bool, error) {
	if !rec.HasIdentity() {
		return false, &model.ParseError{Reason: "record has no id", Err: model.ErrSkip}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	frozen, err := s.isFrozenLocked(ctx, round)
	if err != nil {
		return false, err
	}
	if frozen {
		return false, fmt.Errorf("add %s to round %d: %w", rec.ID, round, model.ErrRoundFrozen)
	}

	err = s.backend.InsertRecord(ctx, round, rec)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, model.ErrDuplicate) {
		return false, err
	}

	if s.policy == PolicyFirstWins {
		return false, nil
	}

	existing, err := s.backend.FindRecord(ctx, round, rec.ID)
	if err != nil {
		return false, err
	}
	if !rec.IsNewerThan(existing) {
		return false, nil
	}

	if err := s.backend.ReplaceRecord(ctx, round, rec); err != nil {
		return false, err
	}
	s.logger.Debug("replaced record with fresher observation",
		"round", round,
		"id", rec.ID,
		"posted_at", rec.PostedAt,
	)
	return true, nil
}

// Has reports whether round holds a record with id.
func (s *Store) Has(ctx context.Context, round int64, id string) (bool, error) {
	rec, err := s.backend.FindRecord(ctx, round, id)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Records returns the records of round in insertion order without freezing it.
func (s *Store) Records(ctx context.Context, round int64) ([]model.Record, error) {
	return s.backend.ListRecords(ctx, round)
}

// Snapshot freezes round and returns its records in insertion order.
// Every later Add for the round fails with model.ErrRoundFrozen.
func (s *Store) Snapshot(ctx context.Context, round int64) ([]model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frozen[round] = true
	return s.backend.ListRecords(ctx, round)
}

// Unfreeze reopens round. Publishing calls it when nothing was published
// so a later crawl can still fill the round.
func (s *Store) Unfreeze(round int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.frozen, round)
}

// IsFrozen reports whether round no longer accepts records.
// A round with a stored proof is frozen even across restarts.
func (s *Store) IsFrozen(ctx context.Context, round int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isFrozenLocked(ctx, round)
}

func (s *Store) isFrozenLocked(ctx context.Context, round int64) (bool, error) {
	if s.frozen[round] {
		return true, nil
	}
	proof, err := s.backend.GetProof(ctx, round)
	if err != nil {
		return false, err
	}
	if proof != nil {
		s.frozen[round] = true
		return true, nil
	}
	return false, nil
}
