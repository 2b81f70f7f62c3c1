// Package browsertest provides a scripted browser.Page for tests.
package browsertest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nao1215/roundscout/internal/browser"
	"github.com/nao1215/roundscout/internal/model"
)

// ErrClosed is returned by calls on a closed Page.
var ErrClosed = errors.New("page closed")

// Page is an in-memory browser.Page driven by hooks.
// Zero hooks give an empty page that accepts every call.
type Page struct {
	mu sync.Mutex

	// Redirects maps a navigated URL to the location the page ends up at.
	Redirects map[string]string

	// Body is returned by BodyText unless BodyFunc is set.
	Body     string
	BodyFunc func(p *Page) string

	// FragmentsFunc returns the fragments for selector.
	FragmentsFunc func(p *Page, selector string) []string

	// TextsFunc returns the texts for selector.
	TextsFunc func(p *Page, selector string) []string

	// Visible lists selectors that WaitVisible finds.
	Visible map[string]bool

	// OnEnter runs after each PressEnter, e.g. to move the location.
	OnEnter func(p *Page)

	// NavigateErr, ScrollErr and FragmentsErr make the matching calls fail.
	NavigateErr  error
	ScrollErr    error
	FragmentsErr error

	location   string
	navigated  []string
	typed      []Keys
	jar        []model.Cookie
	scrolls    int
	enters     int
	closeCalls int
}

// Keys records one Type call.
type Keys struct {
	Selector string
	Text     string
}

var _ browser.Page = (*Page)(nil)

// NewPage creates an empty Page.
func NewPage() *Page {
	return &Page{
		Redirects: make(map[string]string),
		Visible:   make(map[string]bool),
	}
}

// SetLocation moves the page without a navigation.
func (p *Page) SetLocation(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.location = url
}

// Navigate records url and applies Redirects.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closeCalls > 0 {
		return ErrClosed
	}
	if p.NavigateErr != nil {
		return p.NavigateErr
	}

	p.navigated = append(p.navigated, url)
	p.location = url
	if to, ok := p.Redirects[url]; ok {
		p.location = to
	}
	return nil
}

// URL returns the current location.
func (p *Page) URL(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.location, nil
}

// BodyText returns Body or the result of BodyFunc.
func (p *Page) BodyText(_ context.Context) (string, error) {
	p.mu.Lock()
	fn := p.BodyFunc
	body := p.Body
	p.mu.Unlock()

	if fn != nil {
		return fn(p), nil
	}
	return body, nil
}

// Fragments returns the result of FragmentsFunc.
func (p *Page) Fragments(ctx context.Context, selector string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	fn := p.FragmentsFunc
	err := p.FragmentsErr
	closed := p.closeCalls > 0
	p.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, nil
	}
	return fn(p, selector), nil
}

// Texts returns the result of TextsFunc.
func (p *Page) Texts(_ context.Context, selector string) ([]string, error) {
	p.mu.Lock()
	fn := p.TextsFunc
	p.mu.Unlock()

	if fn == nil {
		return nil, nil
	}
	return fn(p, selector), nil
}

// Type records the keys.
func (p *Page) Type(_ context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typed = append(p.typed, Keys{Selector: selector, Text: text})
	return nil
}

// PressEnter counts the key press and runs OnEnter.
func (p *Page) PressEnter(_ context.Context) error {
	p.mu.Lock()
	p.enters++
	fn := p.OnEnter
	p.mu.Unlock()

	if fn != nil {
		fn(p)
	}
	return nil
}

// WaitVisible reports whether selector is listed in Visible.
func (p *Page) WaitVisible(_ context.Context, selector string, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Visible[selector], nil
}

// Scroll counts scrolls.
func (p *Page) Scroll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScrollErr != nil {
		return p.ScrollErr
	}
	p.scrolls++
	return nil
}

// Cookies returns the jar.
func (p *Page) Cookies(_ context.Context) ([]model.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Cookie, len(p.jar))
	copy(out, p.jar)
	return out, nil
}

// SetCookies replaces the jar.
func (p *Page) SetCookies(_ context.Context, cookies []model.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jar = append([]model.Cookie(nil), cookies...)
	return nil
}

// Close counts the call.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	return nil
}

// CloseCalls returns how many times Close was called.
func (p *Page) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// Navigated returns the URLs passed to Navigate.
func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}

// Typed returns the recorded Type calls.
func (p *Page) Typed() []Keys {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Keys(nil), p.typed...)
}

// TypedInto returns the text typed into selector, or "".
func (p *Page) TypedInto(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var b strings.Builder
	for _, k := range p.typed {
		if k.Selector == selector {
			b.WriteString(k.Text)
		}
	}
	return b.String()
}

// Scrolls returns how many times Scroll succeeded.
func (p *Page) Scrolls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scrolls
}

// Launcher hands out scripted pages.
type Launcher struct {
	mu sync.Mutex

	// NewPage builds each launched page. Nil gives NewPage().
	NewPage func() *Page

	// Err makes Launch fail.
	Err error

	pages []*Page
}

var _ browser.Launcher = (*Launcher)(nil)

// Launch returns a new scripted page.
func (l *Launcher) Launch(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}

	var page *Page
	if l.NewPage != nil {
		page = l.NewPage()
	} else {
		page = NewPage()
	}
	l.pages = append(l.pages, page)
	return page, nil
}

// Pages returns every launched page in order.
func (l *Launcher) Pages() []*Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Page(nil), l.pages...)
}

// Last returns the most recently launched page, or nil.
func (l *Launcher) Last() *Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pages) == 0 {
		return nil
	}
	return l.pages[len(l.pages)-1]
}
