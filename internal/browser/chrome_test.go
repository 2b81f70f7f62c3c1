package browser

import (
	"testing"

	"github.com/chromedp/cdproto/network"
)

func TestNewChromeLauncher(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		l := NewChromeLauncher()
		if !l.headless {
			t.Error("expected headless by default")
		}
		if l.viewportWidth != 1024 || l.viewportHeight != 4000 {
			t.Errorf("unexpected viewport %dx%d", l.viewportWidth, l.viewportHeight)
		}
		if l.logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("options", func(t *testing.T) {
		t.Parallel()

		l := NewChromeLauncher(
			WithUserAgent("ua"),
			WithExecPath("/usr/bin/chromium"),
			WithProxyServer("socks5://127.0.0.1:9050"),
			WithHeadless(false),
			WithViewport(800, 600),
		)
		if l.userAgent != "ua" || l.execPath != "/usr/bin/chromium" || l.proxyServer != "socks5://127.0.0.1:9050" {
			t.Errorf("options not applied: %+v", l)
		}
		if l.headless {
			t.Error("expected headful")
		}
		if l.viewportWidth != 800 || l.viewportHeight != 600 {
			t.Errorf("unexpected viewport %dx%d", l.viewportWidth, l.viewportHeight)
		}
	})
}

func TestParseSameSite(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   network.CookieSameSite
		wantOK bool
	}{
		{"Strict", network.CookieSameSiteStrict, true},
		{"lax", network.CookieSameSiteLax, true},
		{"None", network.CookieSameSiteNone, true},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := parseSameSite(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("parseSameSite(%q) = %q, %v", tt.in, got, ok)
		}
	}
}

func TestChromePageCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	calls := 0
	p := &ChromePage{cancel: func() { calls++ }}
	_ = p.Close()
	_ = p.Close()
	if calls != 1 {
		t.Errorf("cancel called %d times, want 1", calls)
	}
}
