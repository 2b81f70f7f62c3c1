// Package browser defines the browser capability the crawler and the
// session manager drive, and a headless Chrome implementation of it.
//
// Code outside this package only sees Launcher and Page, so tests can
// script a page with browsertest and never start a real browser.
package browser

import (
	"context"
	"time"

	"github.com/nao1215/roundscout/internal/model"
)

// Launcher starts browser pages.
type Launcher interface {
	// Launch starts a fresh browser and returns its only page.
	// The page owns the browser process; closing it stops the browser.
	Launch(ctx context.Context) (Page, error)
}

// Page is a single browser tab.
type Page interface {
	// Navigate loads url.
	Navigate(ctx context.Context, url string) error

	// URL returns the current location.
	URL(ctx context.Context) (string, error)

	// BodyText returns the text content of the document body.
	BodyText(ctx context.Context) (string, error)

	// Fragments returns the outer HTML of every element matching selector.
	Fragments(ctx context.Context, selector string) ([]string, error)

	// Texts returns the text content of every element matching selector.
	Texts(ctx context.Context, selector string) ([]string, error)

	// Type sends text as key strokes to the element matching selector.
	Type(ctx context.Context, selector, text string) error

	// PressEnter sends the Enter key to the focused element.
	PressEnter(ctx context.Context) error

	// WaitVisible waits up to timeout for selector to become visible.
	// It returns false without error when the timeout elapses.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) (bool, error)

	// Scroll scrolls down by one viewport height.
	Scroll(ctx context.Context) error

	// Cookies returns every cookie of the browser.
	Cookies(ctx context.Context) ([]model.Cookie, error)

	// SetCookies installs cookies into the browser.
	SetCookies(ctx context.Context, cookies []model.Cookie) error

	// Close stops the browser. It is safe to call more than once.
	Close() error
}
