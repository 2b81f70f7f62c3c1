// Package site describes the fixed content source a node crawls.
//
// A Profile is plain data: URLs, CSS selectors and the phrases the source
// renders in special states. Code that drives the browser or parses
// fragments reads from a Profile instead of hard-coding markup, so a
// markup change on the source is a data change here.
package site

import (
	"net/url"
	"strings"
	"time"
)

// Profile holds everything source-specific.
type Profile struct {
	// Name identifies the profile in logs.
	Name string

	// BaseURL is used to resolve relative links in fragments.
	BaseURL string

	// LoginURL is the interactive login flow.
	LoginURL string

	// HomeURL is opened after replaying stored cookies.
	HomeURL string

	// LoginRedirectURL is where HomeURL sends a visitor without a session.
	LoginRedirectURL string

	// SearchURLTemplate is a live search URL with a %s placeholder for the
	// escaped search term.
	SearchURLTemplate string

	// StatusURLTemplate is a single-post URL with a %s placeholder for the ID.
	StatusURLTemplate string

	// UsernameInput is the username field of the login flow.
	UsernameInput string

	// VerificationInput is the extra identity field the login flow may show.
	VerificationInput string

	// PasswordInput is the password field of the login flow.
	PasswordInput string

	// ItemSelector matches one post in a result list.
	ItemSelector string

	// NoticeSelector matches the blocks scanned for RateLimitPhrase.
	NoticeSelector string

	// RateLimitPhrase is the exact text the source shows when it throttles.
	RateLimitPhrase string

	// ChallengePhrase is shown when the account must verify its identity.
	ChallengePhrase string

	// OwnHosts are hosts whose links are internal navigation, not content.
	OwnHosts []string

	// UserAgent is the browser user agent.
	UserAgent string

	// ViewportWidth and ViewportHeight size the crawl window. A tall
	// viewport renders more posts per scroll.
	ViewportWidth  int
	ViewportHeight int

	// VerificationProbe bounds the wait for the optional verification input.
	VerificationProbe time.Duration
}

// X returns the profile of X (formerly Twitter).
func X() Profile {
	return Profile{
		Name:              "x",
		BaseURL:           "https://twitter.com",
		LoginURL:          "https://twitter.com/i/flow/login",
		HomeURL:           "https://twitter.com/home",
		LoginRedirectURL:  "https://twitter.com/i/flow/login?redirect_after_login=%2Fhome",
		SearchURLTemplate: "https://x.com/search?q=%s&src=typed_query&f=live",
		StatusURLTemplate: "https://x.com/i/status/%s",
		UsernameInput:     `input[autocomplete="username"]`,
		VerificationInput: `input[data-testid="ocfEnterTextTextInput"]`,
		PasswordInput:     `input[name="password"]`,
		ItemSelector:      `article[aria-labelledby]`,
		NoticeSelector:    `div[dir="ltr"]`,
		RateLimitPhrase:   "Something went wrong. Try reloading.",
		ChallengePhrase:   "Verify your identity by entering the email address associated with your X account.",
		OwnHosts:          []string{"twitter.com", "x.com"},
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		ViewportWidth:     1024,
		ViewportHeight:    4000,
		VerificationProbe: 5 * time.Second,
	}
}

// SearchURL returns the live search URL for term.
func (p Profile) SearchURL(term string) string {
	return strings.Replace(p.SearchURLTemplate, "%s", url.QueryEscape(term), 1)
}

// StatusURL returns the URL of the post with id.
func (p Profile) StatusURL(id string) string {
	return strings.Replace(p.StatusURLTemplate, "%s", url.PathEscape(id), 1)
}

// IsOwnHost reports whether rawURL points at the source itself.
// Relative URLs are internal by definition.
func (p Profile) IsOwnHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Host == "" {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, own := range p.OwnHosts {
		if host == own || strings.HasSuffix(host, "."+own) {
			return true
		}
	}
	return false
}

// Resolve turns href into an absolute URL against BaseURL.
func (p Profile) Resolve(href string) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
