// Package round tells a node which round is current and which search term
// to crawl in it.
package round

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Oracle reports the current round number.
// crawler.RoundOracle is the same contract.
type Oracle interface {
	CurrentRound(ctx context.Context) (int64, error)
}

// ClockOracle derives rounds from wall time: round 0 starts at Genesis and
// every round lasts Duration.
type ClockOracle struct {
	Genesis  time.Time
	Duration time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewClockOracle creates a ClockOracle.
func NewClockOracle(genesis time.Time, d time.Duration) *ClockOracle {
	return &ClockOracle{Genesis: genesis, Duration: d, Now: time.Now}
}

// CurrentRound returns the round containing the current time.
func (o *ClockOracle) CurrentRound(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if o.Duration <= 0 {
		return 0, errors.New("round duration must be positive")
	}

	now := time.Now
	if o.Now != nil {
		now = o.Now
	}
	elapsed := now().Sub(o.Genesis)
	if elapsed < 0 {
		return 0, nil
	}
	return int64(elapsed / o.Duration), nil
}

// HTTPOracle reads the round from an HTTP endpoint that answers either
// {"round": n} or a bare integer.
type HTTPOracle struct {
	url        string
	httpClient *http.Client
}

// HTTPOracleOption configures an HTTPOracle.
type HTTPOracleOption func(*HTTPOracle)

// WithOracleHTTPClient sets the HTTP client.
func WithOracleHTTPClient(c *http.Client) HTTPOracleOption {
	return func(o *HTTPOracle) {
		o.httpClient = c
	}
}

// NewHTTPOracle creates an oracle polling url.
func NewHTTPOracle(url string, opts ...HTTPOracleOption) *HTTPOracle {
	o := &HTTPOracle{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CurrentRound fetches and parses the round.
func (o *HTTPOracle) CurrentRound(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to query round: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("round endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return 0, fmt.Errorf("failed to read round: %w", err)
	}
	return parseRound(body)
}

func parseRound(body []byte) (int64, error) {
	text := strings.TrimSpace(string(body))
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, nil
	}

	var payload struct {
		Round *int64 `json:"round"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("failed to parse round %q: %w", text, err)
	}
	if payload.Round == nil {
		return 0, fmt.Errorf("round missing in %q", text)
	}
	return *payload.Round, nil
}
