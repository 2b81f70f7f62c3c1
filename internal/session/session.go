// Package session owns the authenticated browser of a node.
//
// A Manager negotiates a logged-in browser page (stored cookies first,
// interactive login second), tracks the session state machine, and hands
// the page out through a Lease so only one component drives the browser
// at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nao1215/roundscout/internal/browser"
	"github.com/nao1215/roundscout/internal/model"
	"github.com/nao1215/roundscout/internal/site"
)

// ErrNoSession is returned by Acquire when no authenticated page exists.
var ErrNoSession = errors.New("no authenticated session")

// CookieStore persists the cookie jar between negotiations.
// database.Store satisfies it.
type CookieStore interface {
	SaveCookies(ctx context.Context, id string, cookies []model.Cookie) error
	LoadCookies(ctx context.Context, id string) ([]model.Cookie, error)
}

// Default timings.
const (
	DefaultStaleness        = 50 * time.Second
	DefaultSettle           = 5 * time.Second
	DefaultVerificationWait = 2 * time.Minute
	DefaultVerificationPoll = 10 * time.Second
)

// Manager runs the session state machine:
//
//	NoSession -> Authenticating -> Authenticated
//	Authenticated -> NoSession (staleness, failure, browser closed)
//	Authenticating -> VerificationRequired (terminal until Reset)
type Manager struct {
	launcher browser.Launcher
	cookies  CookieStore
	creds    model.Credentials
	profile  site.Profile
	logger   *slog.Logger

	staleness        time.Duration
	settle           time.Duration
	verificationWait time.Duration
	verificationPoll time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// browserSem serializes every use of the browser.
	browserSem *semaphore.Weighted

	mu            sync.Mutex
	state         model.SessionState
	lastCheckedAt time.Time
	page          browser.Page
	lastErr       error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithProfile sets the site profile. The default is site.X().
func WithProfile(p site.Profile) Option {
	return func(m *Manager) {
		m.profile = p
	}
}

// WithStaleness sets how long an authenticated session is trusted
// without renegotiation.
func WithStaleness(d time.Duration) Option {
	return func(m *Manager) {
		m.staleness = d
	}
}

// WithSettle sets the pause that lets a page finish rendering.
func WithSettle(d time.Duration) Option {
	return func(m *Manager) {
		m.settle = d
	}
}

// WithVerificationWait bounds how long an identity challenge is polled
// for external resolution, and how often.
func WithVerificationWait(wait, poll time.Duration) Option {
	return func(m *Manager) {
		m.verificationWait = wait
		m.verificationPoll = poll
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithSleep replaces the context-aware sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		m.sleep = sleep
	}
}

// NewManager creates a Manager in the NoSession state.
func NewManager(launcher browser.Launcher, cookies CookieStore, creds model.Credentials, opts ...Option) *Manager {
	m := &Manager{
		launcher:         launcher,
		cookies:          cookies,
		creds:            creds,
		profile:          site.X(),
		staleness:        DefaultStaleness,
		settle:           DefaultSettle,
		verificationWait: DefaultVerificationWait,
		verificationPoll: DefaultVerificationPoll,
		now:              time.Now,
		sleep:            sleepContext,
		browserSem:       semaphore.NewWeighted(1),
		state:            model.SessionNone,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.verificationPoll <= 0 {
		m.verificationPoll = DefaultVerificationPoll
	}
	return m
}

// Profile returns the site profile the manager logs into.
func (m *Manager) Profile() site.Profile {
	return m.profile
}

// State returns the current session state.
func (m *Manager) State() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the error of the last failed negotiation, or nil.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// LastCheckedAt returns when the session was last confirmed.
func (m *Manager) LastCheckedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheckedAt
}

// EnsureSession reports whether an authenticated session is available,
// negotiating one when the current session is missing or stale.
// It never negotiates in the VerificationRequired state.
func (m *Manager) EnsureSession(ctx context.Context) bool {
	m.mu.Lock()
	switch {
	case m.state == model.SessionVerificationRequired:
		m.mu.Unlock()
		return false
	case m.state == model.SessionAuthenticated && m.now().Sub(m.lastCheckedAt) < m.staleness:
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	return m.Negotiate(ctx)
}

// Negotiate replaces the browser with a fresh one and logs in.
// It reports success; on failure Err returns the cause.
func (m *Manager) Negotiate(ctx context.Context) bool {
	if err := m.browserSem.Acquire(ctx, 1); err != nil {
		m.fail(&model.SessionError{Op: "acquire", Err: err}, model.SessionNone)
		return false
	}
	defer m.browserSem.Release(1)

	m.mu.Lock()
	if m.state == model.SessionVerificationRequired {
		m.mu.Unlock()
		return false
	}
	m.state = model.SessionAuthenticating
	old := m.page
	m.page = nil
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
		m.logger.Debug("previous browser closed")
	}

	page, err := m.launcher.Launch(ctx)
	if err != nil {
		m.fail(&model.SessionError{Op: "launch", Err: err}, model.SessionNone)
		return false
	}

	ok, err := m.loginWithStoredCookies(ctx, page)
	if err != nil {
		m.logger.Debug("cookie login failed", "error", err)
	}
	if !ok {
		if err := m.interactiveLogin(ctx, page); err != nil {
			_ = page.Close()
			next := model.SessionNone
			if errors.Is(err, model.ErrVerificationRequired) {
				next = model.SessionVerificationRequired
			}
			m.fail(err, next)
			return false
		}
	}

	cookies, err := page.Cookies(ctx)
	if err != nil {
		m.logger.Warn("failed to capture cookies", "error", err)
	} else if err := m.cookies.SaveCookies(ctx, m.creds.Username, cookies); err != nil {
		m.logger.Warn("failed to persist cookies", "error", err)
	}

	m.mu.Lock()
	m.page = page
	m.state = model.SessionAuthenticated
	m.lastCheckedAt = m.now()
	m.lastErr = nil
	m.mu.Unlock()

	m.logger.Info("session authenticated", "account", m.creds)
	return true
}

// loginWithStoredCookies replays the persisted jar and reports whether the
// source accepted it.
func (m *Manager) loginWithStoredCookies(ctx context.Context, page browser.Page) (bool, error) {
	jar, err := m.cookies.LoadCookies(ctx, m.creds.Username)
	if err != nil {
		return false, fmt.Errorf("failed to load cookies: %w", err)
	}
	if len(jar) == 0 {
		return false, nil
	}

	if err := page.SetCookies(ctx, jar); err != nil {
		return false, err
	}
	if err := page.Navigate(ctx, m.profile.HomeURL); err != nil {
		return false, err
	}
	if err := m.sleep(ctx, m.settle); err != nil {
		return false, err
	}

	location, err := page.URL(ctx)
	if err != nil {
		return false, err
	}
	if location == m.profile.LoginRedirectURL || strings.HasPrefix(location, m.profile.LoginURL) {
		return false, nil
	}

	m.logger.Debug("logged in with stored cookies")
	return true, nil
}

// interactiveLogin walks the username, optional verification and password
// screens of the login flow.
func (m *Manager) interactiveLogin(ctx context.Context, page browser.Page) error {
	p := m.profile

	if err := page.Navigate(ctx, p.LoginURL); err != nil {
		return &model.SessionError{Op: "open-login", Err: err}
	}
	if err := page.Type(ctx, p.UsernameInput, m.creds.Username); err != nil {
		return &model.SessionError{Op: "username", Err: err}
	}
	if err := page.PressEnter(ctx); err != nil {
		return &model.SessionError{Op: "username", Err: err}
	}

	// The source sometimes asks for a second identifier before the password.
	visible, err := page.WaitVisible(ctx, p.VerificationInput, p.VerificationProbe)
	if err != nil {
		return &model.SessionError{Op: "verification-probe", Err: err}
	}
	if visible {
		m.logger.Debug("login flow asked for an extra identifier")
		if err := page.Type(ctx, p.VerificationInput, m.creds.VerificationAnswer()); err != nil {
			return &model.SessionError{Op: "verification", Err: err}
		}
		if err := page.PressEnter(ctx); err != nil {
			return &model.SessionError{Op: "verification", Err: err}
		}
	}

	before, err := page.URL(ctx)
	if err != nil {
		return &model.SessionError{Op: "password", Err: err}
	}
	if err := page.Type(ctx, p.PasswordInput, m.creds.Password); err != nil {
		return &model.SessionError{Op: "password", Err: err}
	}
	if err := page.PressEnter(ctx); err != nil {
		return &model.SessionError{Op: "password", Err: err}
	}
	if err := m.sleep(ctx, m.settle); err != nil {
		return &model.SessionError{Op: "password", Err: err}
	}

	challenged, err := m.challengePresent(ctx, page)
	if err != nil {
		return &model.SessionError{Op: "challenge", Err: err}
	}
	if challenged {
		if err := m.awaitVerification(ctx, page); err != nil {
			return &model.SessionError{Op: "challenge", Err: err}
		}
	}

	after, err := page.URL(ctx)
	if err != nil {
		return &model.SessionError{Op: "password", Err: err}
	}
	if after == before {
		return &model.SessionError{Op: "password", Err: model.ErrPasswordRejected}
	}
	return nil
}

func (m *Manager) challengePresent(ctx context.Context, page browser.Page) (bool, error) {
	body, err := page.BodyText(ctx)
	if err != nil {
		return false, err
	}
	return strings.Contains(body, m.profile.ChallengePhrase), nil
}

// awaitVerification polls for an operator to clear the identity challenge.
// It gives up with ErrVerificationRequired once verificationWait is spent.
func (m *Manager) awaitVerification(ctx context.Context, page browser.Page) error {
	m.logger.Warn("identity verification required; waiting for operator",
		"wait", m.verificationWait,
	)

	for waited := time.Duration(0); waited < m.verificationWait; waited += m.verificationPoll {
		if err := m.sleep(ctx, m.verificationPoll); err != nil {
			return err
		}
		challenged, err := m.challengePresent(ctx, page)
		if err != nil {
			return err
		}
		if !challenged {
			m.logger.Info("identity verification resolved")
			return nil
		}
	}
	return model.ErrVerificationRequired
}

func (m *Manager) fail(err error, next model.SessionState) {
	m.mu.Lock()
	m.state = next
	m.lastErr = err
	m.mu.Unlock()

	if next == model.SessionVerificationRequired {
		m.logger.Error("session needs manual verification; run reset after resolving it", "error", err)
		return
	}
	m.logger.Warn("session negotiation failed", "error", err)
}

// Reset leaves any state, including VerificationRequired, for NoSession
// and closes the browser.
func (m *Manager) Reset() {
	m.mu.Lock()
	page := m.page
	m.page = nil
	m.state = model.SessionNone
	m.lastErr = nil
	m.mu.Unlock()

	if page != nil {
		_ = page.Close()
	}
}

// Close stops the browser without touching the VerificationRequired state.
func (m *Manager) Close() error {
	m.mu.Lock()
	page := m.page
	m.page = nil
	if m.state == model.SessionAuthenticated {
		m.state = model.SessionNone
	}
	m.mu.Unlock()

	if page != nil {
		return page.Close()
	}
	return nil
}

// Acquire waits for exclusive use of the authenticated page.
// The caller must Release the lease; Close additionally stops the browser.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	if err := m.browserSem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	m.mu.Lock()
	page := m.page
	state := m.state
	m.mu.Unlock()

	if state != model.SessionAuthenticated || page == nil {
		m.browserSem.Release(1)
		return nil, &model.SessionError{Op: "acquire", Err: ErrNoSession}
	}
	return &Lease{manager: m, page: page}, nil
}

// closePage stops page if it is still the managed one.
func (m *Manager) closePage(page browser.Page) {
	m.mu.Lock()
	if m.page == page {
		m.page = nil
		if m.state == model.SessionAuthenticated {
			m.state = model.SessionNone
		}
	}
	m.mu.Unlock()

	_ = page.Close()
}

// Lease is exclusive use of the browser page.
type Lease struct {
	manager *Manager
	page    browser.Page

	closeOnce   sync.Once
	releaseOnce sync.Once
}

// Page returns the leased page.
func (l *Lease) Page() browser.Page {
	return l.page
}

// Close stops the browser exactly once and moves the session to NoSession.
func (l *Lease) Close() {
	l.closeOnce.Do(func() {
		l.manager.closePage(l.page)
	})
}

// Release gives the browser back. It is safe to call more than once.
func (l *Lease) Release() {
	l.releaseOnce.Do(func() {
		l.manager.browserSem.Release(1)
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
