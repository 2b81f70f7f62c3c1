package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components.
// Components wrap them in the typed errors below so callers can match
// either the category (errors.As) or the cause (errors.Is).
var (
	// ErrSkip marks a fragment that is not a post (ads, placeholders).
	ErrSkip = errors.New("fragment is not a post")

	// ErrNoData is returned when a round has nothing to publish.
	ErrNoData = errors.New("no data for round")

	// ErrVerificationRequired means the source demands an identity check
	// that only an operator can complete.
	ErrVerificationRequired = errors.New("identity verification required")

	// ErrPasswordRejected means the login page did not move after the
	// password was submitted.
	ErrPasswordRejected = errors.New("password rejected")

	// ErrInvalidContentAddress is returned for strings that are not CIDs.
	ErrInvalidContentAddress = errors.New("invalid content address")

	// ErrRoundFrozen is returned when a published round is written to.
	ErrRoundFrozen = errors.New("round is frozen")

	// ErrNotFound is returned when a looked-up entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert collides with an existing key.
	ErrDuplicate = errors.New("duplicate entry")
)

// SessionError reports a failed login or session negotiation.
type SessionError struct {
	// Op is the negotiation step that failed (e.g. "cookie-login").
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// ParseError reports a fragment that could not be turned into a Record.
// It is always recovered by skipping the fragment.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return "parse: " + e.Reason
	}
	return fmt.Sprintf("parse: %s: %v", e.Reason, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageUploadError reports a failed artifact upload. The round stays
// unpublished so a later attempt can retry.
type StorageUploadError struct {
	Round int64
	Path  string
	Err   error
}

func (e *StorageUploadError) Error() string {
	return fmt.Sprintf("upload round %d (%s): %v", e.Round, e.Path, e.Err)
}

func (e *StorageUploadError) Unwrap() error { return e.Err }

// RetrievalKind classifies why an artifact could not be retrieved.
type RetrievalKind int

const (
	// RetrievalUnavailable means no source answered usefully.
	RetrievalUnavailable RetrievalKind = iota

	// RetrievalNotFound means every answering source reported absence.
	RetrievalNotFound

	// RetrievalMalformed means the artifact was fetched but could not be decoded.
	RetrievalMalformed
)

// String returns the kind name.
func (k RetrievalKind) String() string {
	switch k {
	case RetrievalUnavailable:
		return "unavailable"
	case RetrievalNotFound:
		return "not-found"
	case RetrievalMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// StorageRetrievalError reports a failed artifact retrieval.
type StorageRetrievalError struct {
	CID  string
	Kind RetrievalKind
	Err  error
}

func (e *StorageRetrievalError) Error() string {
	return fmt.Sprintf("retrieve %s: %s: %v", e.CID, e.Kind, e.Err)
}

func (e *StorageRetrievalError) Unwrap() error { return e.Err }

// ValidationError reports malformed input such as a bad content address.
// It fails fast and is never retried.
type ValidationError struct {
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value %q: %v", e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
