package model

import (
	"strings"
	"time"
)

// Engagement holds the four counters rendered under a post.
// Values are kept as rendered ("1.2K", "") because the source abbreviates
// large numbers and peers compare artifacts byte for byte.
type Engagement struct {
	// Comments is the reply counter.
	Comments string `json:"comment"`

	// Likes is the like counter.
	Likes string `json:"like"`

	// Shares is the repost counter.
	Shares string `json:"share"`

	// Views is the impression counter.
	Views string `json:"view"`
}

// Link is an outbound link found in the post body.
type Link struct {
	// Label is the shortened text shown to readers, whitespace removed.
	Label string `json:"short_url"`

	// URL is the full href of the anchor.
	URL string `json:"url"`
}

// Record is a single post observed during a crawl.
// Identity is ID; two records with the same ID describe the same post.
type Record struct {
	// ID is the source-native status identifier.
	ID string `json:"tweets_id"`

	// AuthorName is the display name of the author.
	AuthorName string `json:"user_name"`

	// AuthorHandle is the @handle of the author.
	AuthorHandle string `json:"screen_name"`

	// AuthorProfileURL is the absolute URL of the author's profile.
	AuthorProfileURL string `json:"user_url"`

	// AvatarURL is the author's profile image.
	AvatarURL string `json:"user_img"`

	// Text is the post body with newlines rendered as <br>.
	Text string `json:"tweets_content"`

	// PostedAt is the publication time in epoch seconds.
	PostedAt int64 `json:"time_post"`

	// ObservedAt is when the extractor produced this record.
	ObservedAt time.Time `json:"time_read"`

	// Engagement holds the rendered counters.
	Engagement Engagement `json:"engagement"`

	// Links are outbound links in body order.
	Links []Link `json:"outer_media"`

	// SearchTerm is the term the record was found under.
	SearchTerm string `json:"keyword"`
}

// IsNewerThan reports whether r is a fresher observation of the same post
// than other. Only PostedAt counts: ObservedAt grows on every rescan and
// would make any later sighting win.
func (r *Record) IsNewerThan(other *Record) bool {
	if other == nil {
		return true
	}
	return r.PostedAt > other.PostedAt
}

// HasIdentity reports whether the record carries a usable identifier.
func (r *Record) HasIdentity() bool {
	return strings.TrimSpace(r.ID) != ""
}

// ProofEntry is one element of a published round artifact.
type ProofEntry struct {
	// ID repeats Data.ID so that an entry can be checked without decoding Data.
	ID string `json:"id"`

	// Round is the round the record was collected in.
	Round int64 `json:"round"`

	// Data is the record itself.
	Data Record `json:"data"`
}

// NewProofEntries converts the ordered records of a round into artifact entries.
func NewProofEntries(round int64, records []Record) []ProofEntry {
	entries := make([]ProofEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, ProofEntry{
			ID:    r.ID,
			Round: round,
			Data:  r,
		})
	}
	return entries
}
