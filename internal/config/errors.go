package config

import (
	"errors"
	"fmt"
)

// Configuration errors returned by Validate, ValidateCredentials and the
// loaders. Callers match them with errors.Is.
var (
	// ErrNoCredentials is returned when TWITTER_USERNAME or TWITTER_PASSWORD
	// is missing and the command needs to crawl.
	ErrNoCredentials = errors.New("no source credentials: set TWITTER_USERNAME and TWITTER_PASSWORD in the environment or .env")

	// ErrNoDataDir is returned when the data directory is empty.
	ErrNoDataDir = errors.New("data directory must not be empty")

	ErrInvalidInterval      = errors.New("invalid interval: must be positive")
	ErrInvalidRoundDuration = errors.New("invalid round duration: must be positive when no oracle URL is set")
	ErrInvalidOracleURL     = errors.New("invalid oracle URL: must be http or https")
	ErrInvalidKeywordURL    = errors.New("invalid keyword URL: must be http or https")
	ErrInvalidKuboAPI       = errors.New("invalid Kubo API URL: must be http or https")

	// ErrUnknownStorage is returned for a storage backend other than kubo or local.
	ErrUnknownStorage = errors.New("unknown storage backend: use kubo or local")

	// ErrUnknownDedupPolicy is returned for a policy other than first-wins or freshest.
	ErrUnknownDedupPolicy = errors.New("unknown dedup policy: use first-wins or freshest")

	ErrInvalidSamples         = errors.New("invalid samples: must be positive")
	ErrInvalidSampleDelay     = errors.New("invalid sample delay: must be non-negative")
	ErrInvalidMaxIterations   = errors.New("invalid max iterations: must be positive")
	ErrInvalidPeerConcurrency = errors.New("invalid peer concurrency: must be positive")
	ErrInvalidAuditLag        = errors.New("invalid audit lag: must be non-negative")
	ErrInvalidTimeout         = errors.New("invalid timeout: must be positive")

	// ErrInvalidPeer is wrapped by PeerError.
	ErrInvalidPeer = errors.New("invalid peer URL: must be http or https")

	// ErrConfigNotFound is returned when an explicit configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")
)

// PeerError names the peer URL that failed validation.
type PeerError struct {
	Peer string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("%v: %q", ErrInvalidPeer, e.Peer)
}

func (e *PeerError) Unwrap() error {
	return ErrInvalidPeer
}
