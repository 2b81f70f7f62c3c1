package model

import (
	"log/slog"
	"time"
)

// Credentials identify the account a node crawls with.
// They are supplied once at startup and never mutated.
type Credentials struct {
	// Username is the account handle or email.
	Username string

	// Password is the account password.
	Password string

	// Verification is an optional answer for the source's identity
	// challenge (phone, email or handle). Empty means reuse Username.
	Verification string
}

// LogValue keeps secrets out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", c.Username),
		slog.Bool("has_password", c.Password != ""),
		slog.Bool("has_verification", c.Verification != ""),
	)
}

// VerificationAnswer returns what to type when the source asks the user
// to confirm their identity.
func (c Credentials) VerificationAnswer() string {
	if c.Verification != "" {
		return c.Verification
	}
	return c.Username
}

// SessionState is the lifecycle state of a browser session.
type SessionState int

const (
	// SessionNone means no usable browser session exists.
	SessionNone SessionState = iota

	// SessionAuthenticating means a negotiation is in progress.
	SessionAuthenticating

	// SessionAuthenticated means the browser holds a logged-in session.
	SessionAuthenticated

	// SessionVerificationRequired is terminal until an operator resolves
	// the source's identity challenge and resets the manager.
	SessionVerificationRequired
)

// String returns a human-readable name of the state.
func (s SessionState) String() string {
	switch s {
	case SessionNone:
		return "no-session"
	case SessionAuthenticating:
		return "authenticating"
	case SessionAuthenticated:
		return "authenticated"
	case SessionVerificationRequired:
		return "verification-required"
	default:
		return "unknown"
	}
}

// Cookie is a browser cookie in a storage-neutral shape.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Expired reports whether the cookie has a fixed expiry before now.
// Session cookies (Expires <= 0) never expire by this measure.
func (c Cookie) Expired(now time.Time) bool {
	if c.Expires <= 0 {
		return false
	}
	return float64(now.Unix()) >= c.Expires
}
