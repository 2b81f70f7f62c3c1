package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/nao1215/roundscout/internal/model"
)

// ChromeLauncher launches headless Chrome through chromedp.
type ChromeLauncher struct {
	userAgent      string
	execPath       string
	proxyServer    string
	headless       bool
	viewportWidth  int
	viewportHeight int
	logger         *slog.Logger
}

// ChromeOption configures a ChromeLauncher.
type ChromeOption func(*ChromeLauncher)

// WithUserAgent sets the browser user agent.
func WithUserAgent(ua string) ChromeOption {
	return func(l *ChromeLauncher) {
		l.userAgent = ua
	}
}

// WithExecPath sets the Chrome executable. Empty lets chromedp find one.
func WithExecPath(path string) ChromeOption {
	return func(l *ChromeLauncher) {
		l.execPath = path
	}
}

// WithProxyServer routes browser traffic through a proxy such as
// socks5://127.0.0.1:9050.
func WithProxyServer(addr string) ChromeOption {
	return func(l *ChromeLauncher) {
		l.proxyServer = addr
	}
}

// WithHeadless toggles headless mode. Headful mode helps an operator
// solve an identity challenge by hand.
func WithHeadless(headless bool) ChromeOption {
	return func(l *ChromeLauncher) {
		l.headless = headless
	}
}

// WithViewport sets the page viewport.
func WithViewport(width, height int) ChromeOption {
	return func(l *ChromeLauncher) {
		l.viewportWidth = width
		l.viewportHeight = height
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ChromeOption {
	return func(l *ChromeLauncher) {
		l.logger = logger
	}
}

// NewChromeLauncher creates a ChromeLauncher.
func NewChromeLauncher(opts ...ChromeOption) *ChromeLauncher {
	l := &ChromeLauncher{
		headless:       true,
		viewportWidth:  1024,
		viewportHeight: 4000,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Launch starts Chrome and opens a page.
// The browser outlives ctx; only Page.Close stops it.
func (l *ChromeLauncher) Launch(ctx context.Context) (Page, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", l.headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if l.userAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(l.userAgent))
	}
	if l.execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.execPath))
	}
	if l.proxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(l.proxyServer))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	page := &ChromePage{
		ctx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
		logger: l.logger,
	}

	// The first Run starts the browser process and must use the browser
	// context itself: canceling a derived context would kill the browser.
	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.EmulateViewport(int64(l.viewportWidth), int64(l.viewportHeight)),
	)
	if err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	l.logger.Debug("browser started",
		"headless", l.headless,
		"proxy", l.proxyServer != "",
	)
	return page, nil
}

// ChromePage is a Page backed by a chromedp browser context.
type ChromePage struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	closeOnce sync.Once
}

// run executes actions on the browser while honoring the caller's ctx.
func (p *ChromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url.
func (p *ChromePage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// URL returns the current location.
func (p *ChromePage) URL(ctx context.Context) (string, error) {
	var location string
	if err := p.run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return location, nil
}

// BodyText returns document.body.textContent.
func (p *ChromePage) BodyText(ctx context.Context) (string, error) {
	var text string
	expr := `document.body ? document.body.textContent : ""`
	if err := p.run(ctx, chromedp.Evaluate(expr, &text)); err != nil {
		return "", fmt.Errorf("failed to read body text: %w", err)
	}
	return text, nil
}

// Fragments returns the outer HTML of every element matching selector.
func (p *ChromePage) Fragments(ctx context.Context, selector string) ([]string, error) {
	return p.collect(ctx, selector, "outerHTML")
}

// Texts returns the text content of every element matching selector.
func (p *ChromePage) Texts(ctx context.Context, selector string) ([]string, error) {
	return p.collect(ctx, selector, "textContent")
}

func (p *ChromePage) collect(ctx context.Context, selector, property string) ([]string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to quote selector: %w", err)
	}
	expr := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(e => e.%s || "")`, quoted, property)

	var out []string
	if err := p.run(ctx, chromedp.Evaluate(expr, &out)); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", selector, err)
	}
	return out, nil
}

// Type sends text to the element matching selector.
func (p *ChromePage) Type(ctx context.Context, selector, text string) error {
	if err := p.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to type into %s: %w", selector, err)
	}
	return nil
}

// PressEnter sends the Enter key.
func (p *ChromePage) PressEnter(ctx context.Context) error {
	if err := p.run(ctx, chromedp.KeyEvent(kb.Enter)); err != nil {
		return fmt.Errorf("failed to press enter: %w", err)
	}
	return nil
}

// WaitVisible waits up to timeout for selector to be visible.
func (p *ChromePage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := p.run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return false, nil
	default:
		return false, fmt.Errorf("failed to wait for %s: %w", selector, err)
	}
}

// Scroll scrolls down by one viewport height.
func (p *ChromePage) Scroll(ctx context.Context) error {
	if err := p.run(ctx, chromedp.Evaluate(`window.scrollBy(0, window.innerHeight)`, nil)); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return nil
}

// Cookies returns every browser cookie.
func (p *ChromePage) Cookies(ctx context.Context) ([]model.Cookie, error) {
	var raw []*network.Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to get cookies: %w", err)
	}

	cookies := make([]model.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, model.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		})
	}
	return cookies, nil
}

// SetCookies installs cookies. Expired cookies are skipped and a cookie
// the browser rejects is logged without failing the rest.
func (p *ChromePage) SetCookies(ctx context.Context, cookies []model.Cookie) error {
	now := time.Now()
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			if c.Expired(now) {
				continue
			}

			params := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				params = params.WithExpires(&expires)
			}
			if sameSite, ok := parseSameSite(c.SameSite); ok {
				params = params.WithSameSite(sameSite)
			}

			if err := params.Do(ctx); err != nil {
				p.logger.Debug("browser rejected cookie", "name", c.Name, "error", err)
			}
		}
		return nil
	}))
}

func parseSameSite(s string) (network.CookieSameSite, bool) {
	switch strings.ToLower(s) {
	case "strict":
		return network.CookieSameSiteStrict, true
	case "lax":
		return network.CookieSameSiteLax, true
	case "none":
		return network.CookieSameSiteNone, true
	default:
		return "", false
	}
}

// Close stops the browser process.
func (p *ChromePage) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
	})
	return nil
}
