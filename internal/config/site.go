package config

import (
	"github.com/nao1215/roundscout/internal/site"
)

// SourceConfig overrides parts of the crawled source's profile. The
// source changes its markup and wording without notice; these fields let
// an operator follow along without a new release.
type SourceConfig struct {
	// UserAgent replaces the browser user agent.
	UserAgent string `yaml:"userAgent,omitempty"`

	// SearchURL is a search URL template with a %s placeholder.
	SearchURL string `yaml:"searchURL,omitempty"`

	// StatusURL is a single-post URL template with a %s placeholder.
	StatusURL string `yaml:"statusURL,omitempty"`

	// ItemSelector matches one post in a result list.
	ItemSelector string `yaml:"itemSelector,omitempty"`

	// RateLimitPhrase is the text the source shows when it throttles.
	RateLimitPhrase string `yaml:"rateLimitPhrase,omitempty"`

	// ChallengePhrase is the identity verification prompt.
	ChallengePhrase string `yaml:"challengePhrase,omitempty"`

	// ViewportWidth and ViewportHeight size the crawl window.
	ViewportWidth  int `yaml:"viewportWidth,omitempty"`
	ViewportHeight int `yaml:"viewportHeight,omitempty"`
}

// Merge returns c with every set field of override applied.
func (c SourceConfig) Merge(override SourceConfig) SourceConfig {
	result := c
	setString(&result.UserAgent, override.UserAgent)
	setString(&result.SearchURL, override.SearchURL)
	setString(&result.StatusURL, override.StatusURL)
	setString(&result.ItemSelector, override.ItemSelector)
	setString(&result.RateLimitPhrase, override.RateLimitPhrase)
	setString(&result.ChallengePhrase, override.ChallengePhrase)
	setInt(&result.ViewportWidth, override.ViewportWidth)
	setInt(&result.ViewportHeight, override.ViewportHeight)
	return result
}

// Profile returns base with the overrides applied.
func (c SourceConfig) Profile(base site.Profile) site.Profile {
	p := base
	setString(&p.UserAgent, c.UserAgent)
	setString(&p.SearchURLTemplate, c.SearchURL)
	setString(&p.StatusURLTemplate, c.StatusURL)
	setString(&p.ItemSelector, c.ItemSelector)
	setString(&p.RateLimitPhrase, c.RateLimitPhrase)
	setString(&p.ChallengePhrase, c.ChallengePhrase)
	setInt(&p.ViewportWidth, c.ViewportWidth)
	setInt(&p.ViewportHeight, c.ViewportHeight)
	// The returned profile owns its OwnHosts slice.
	p.OwnHosts = append([]string(nil), base.OwnHosts...)
	return p
}
