package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/ipfs/go-cid"
)

// ProofRecord binds a round to the content address of its published artifact.
// There is at most one per round per node.
type ProofRecord struct {
	Round     int64     `json:"round"`
	CID       string    `json:"cid"`
	CreatedAt time.Time `json:"created_at"`
}

// ParseContentAddress validates s as a CID and returns its canonical string form.
// Every retrieval key passes through here before any network call is made.
func ParseContentAddress(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", &ValidationError{Value: s, Err: ErrInvalidContentAddress}
	}

	c, err := cid.Decode(trimmed)
	if err != nil {
		return "", &ValidationError{Value: s, Err: fmt.Errorf("%w: %w", ErrInvalidContentAddress, err)}
	}
	return c.String(), nil
}

// IsContentAddress reports whether s parses as a CID.
func IsContentAddress(s string) bool {
	_, err := ParseContentAddress(s)
	return err == nil
}
