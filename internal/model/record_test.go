package model

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRecordIsNewerThan(t *testing.T) {
	t.Parallel()

	older := &Record{ID: "1", PostedAt: 100, ObservedAt: time.Unix(500, 0)}
	newer := &Record{ID: "1", PostedAt: 200, ObservedAt: time.Unix(300, 0)}
	rescan := &Record{ID: "1", PostedAt: 100, ObservedAt: time.Unix(900, 0)}

	tests := []struct {
		name  string
		r     *Record
		other *Record
		want  bool
	}{
		{name: "later post wins", r: newer, other: older, want: true},
		{name: "earlier post loses", r: older, other: newer, want: false},
		{name: "later observation alone does not win", r: rescan, other: older, want: false},
		{name: "anything beats nil", r: older, other: nil, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.r.IsNewerThan(tt.other); got != tt.want {
				t.Errorf("IsNewerThan() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordHasIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want bool
	}{
		{id: "1234567890", want: true},
		{id: "", want: false},
		{id: "   ", want: false},
	}

	for _, tt := range tests {
		r := Record{ID: tt.id}
		if got := r.HasIdentity(); got != tt.want {
			t.Errorf("HasIdentity(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestRecordJSONLayout(t *testing.T) {
	t.Parallel()

	r := Record{
		ID:           "42",
		AuthorName:   "Alice",
		AuthorHandle: "alice",
		Text:         "hello<br>world",
		PostedAt:     1700000000,
		Engagement:   Engagement{Comments: "1", Likes: "1.2K"},
		Links:        []Link{{Label: "go.dev", URL: "https://t.co/x"}},
		SearchTerm:   "golang",
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, key := range []string{
		`"tweets_id":"42"`,
		`"screen_name":"alice"`,
		`"tweets_content":"hello<br>world"`,
		`"time_post":1700000000`,
		`"like":"1.2K"`,
		`"outer_media":[{"short_url":"go.dev","url":"https://t.co/x"}]`,
		`"keyword":"golang"`,
	} {
		if !strings.Contains(string(data), key) {
			t.Errorf("expected %s in %s", key, data)
		}
	}
}

func TestNewProofEntries(t *testing.T) {
	t.Parallel()

	records := []Record{{ID: "b"}, {ID: "a"}}
	entries := NewProofEntries(7, records)

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for i, e := range entries {
		if e.ID != records[i].ID || e.Data.ID != records[i].ID {
			t.Errorf("entry %d: ID = %q/%q, want %q", i, e.ID, e.Data.ID, records[i].ID)
		}
		if e.Round != 7 {
			t.Errorf("entry %d: Round = %d, want 7", i, e.Round)
		}
	}

	if got := NewProofEntries(1, nil); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", got)
	}
}
