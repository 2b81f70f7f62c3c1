// Package extractor turns the HTML fragment of one rendered post into a
// model.Record.
//
// Extraction is pure: it reads nothing but the fragment and the clock.
// Fragments that are not posts (ads, placeholders, truncated markup) are
// reported as a *model.ParseError wrapping model.ErrSkip and never panic.
package extractor

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/site"
)

// Selectors inside a post fragment.
const (
	selectorStatusLink = `a[href*="/status/"]`
	selectorHandle     = `a[tabindex="-1"]`
	selectorAuthor     = `a[role="link"]`
	selectorAvatar     = `img[draggable="true"]`
	selectorText       = `div[data-testid="tweetText"]`
	selectorTime       = `time[datetime]`
	selectorCounters   = `span[data-testid="app-text-transition-container"]`
)

// LineBreak replaces newlines in Record.Text. Existing proofs render
// newlines this way, and peers compare artifacts field by field.
const LineBreak = "<br>"

var statusIDPattern = regexp.MustCompile(`/status/(\d+)`)

// Extractor parses post fragments.
type Extractor struct {
	profile site.Profile
	now     func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithProfile sets the site profile used to resolve and filter links.
func WithProfile(p site.Profile) Option {
	return func(e *Extractor) {
		e.profile = p
	}
}

// WithClock replaces time.Now for ObservedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		e.now = now
	}
}

// New creates an Extractor for the X profile.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		profile: site.X(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultExtractor = New()

// Extract parses fragment with the default Extractor.
func Extract(fragment, searchTerm string) (model.Record, error) {
	return defaultExtractor.Extract(fragment, searchTerm)
}

// Extract parses fragment into a Record tagged with searchTerm.
// The returned Record may have an empty ID when the fragment carries no
// status link; callers skip such records.
func (e *Extractor) Extract(fragment, searchTerm string) (rec model.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			rec = model.Record{}
			err = &model.ParseError{Reason: fmt.Sprintf("panic: %v", r), Err: model.ErrSkip}
		}
	}()

	if strings.TrimSpace(fragment) == "" {
		return model.Record{}, &model.ParseError{Reason: "empty fragment", Err: model.ErrSkip}
	}

	node, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return model.Record{}, &model.ParseError{Reason: "invalid html", Err: fmt.Errorf("%w: %w", model.ErrSkip, err)}
	}

	doc := goquery.NewDocumentFromNode(node)
	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Selection
	}

	handle := strings.TrimSpace(root.Find(selectorHandle).First().Text())
	textSel := root.Find(selectorText).First()
	text := normalizeText(textSel.Text())
	if handle == "" || strings.TrimSpace(text) == "" {
		return model.Record{}, &model.ParseError{Reason: "missing author or text", Err: model.ErrSkip}
	}

	author := root.Find(selectorAuthor)
	profileHref, _ := author.First().Attr("href")
	avatar, _ := root.Find(selectorAvatar).First().Attr("src")

	rec = model.Record{
		ID:               statusID(root),
		AuthorName:       displayName(author.Text()),
		AuthorHandle:     handle,
		AuthorProfileURL: e.profile.Resolve(profileHref),
		AvatarURL:        avatar,
		Text:             strings.ReplaceAll(text, "\n", LineBreak),
		PostedAt:         postedAt(root),
		ObservedAt:       e.now(),
		Engagement:       engagement(root),
		Links:            e.links(textSel),
		SearchTerm:       searchTerm,
	}
	return rec, nil
}

func statusID(root *goquery.Selection) string {
	var id string
	root.Find(selectorStatusLink).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if m := statusIDPattern.FindStringSubmatch(href); m != nil {
			id = m[1]
			return false
		}
		return true
	})
	return id
}

// displayName takes the author block text ("Alice@alice·2h") up to the
// handle marker.
func displayName(s string) string {
	name, _, _ := strings.Cut(s, "@")
	return strings.TrimSpace(name)
}

func postedAt(root *goquery.Selection) int64 {
	raw, ok := root.Find(selectorTime).First().Attr("datetime")
	if !ok {
		return 0
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return t.Unix()
}

// engagement reads the four counters by position as comment, like, share,
// view. The counters are unlabeled in the markup, so this order is an
// assumption about the source's layout.
func engagement(root *goquery.Selection) model.Engagement {
	counters := root.Find(selectorCounters)
	at := func(i int) string {
		return strings.TrimSpace(counters.Eq(i).Text())
	}
	return model.Engagement{
		Comments: at(0),
		Likes:    at(1),
		Shares:   at(2),
		Views:    at(3),
	}
}

// links returns outbound links of the post body in document order.
func (e *Extractor) links(textSel *goquery.Selection) []model.Link {
	links := make([]model.Link, 0)
	textSel.Find("a").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		if strings.Contains(href, "/search?q=") || strings.Contains(href, "/hashtag/") {
			return
		}
		if e.profile.IsOwnHost(href) {
			return
		}
		links = append(links, model.Link{
			Label: stripSpace(s.Text()),
			URL:   href,
		})
	})
	return links
}

// normalizeText unifies line endings and composes Unicode so that the
// same post text compares equal across browsers.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return norm.NFC.String(s)
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Canonical returns text in the form used to compare two observations of
// the same post: line breaks restored, Unicode composed, whitespace runs
// collapsed and trimmed.
func Canonical(text string) string {
	text = strings.ReplaceAll(text, LineBreak, "\n")
	text = normalizeText(text)
	return strings.Join(strings.Fields(text), " ")
}
