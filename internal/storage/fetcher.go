package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nao1215/roundscout/internal/model"
)

// DefaultGateways are public IPFS gateways tried after the primary client.
// {cid} and {name} are replaced per request. They resolve directory CIDs
// such as Kubo's wrapped uploads; a LocalStore raw CID is never found here.
var DefaultGateways = []string{
	"https://{cid}.ipfs.w3s.link/{name}",
	"https://ipfs.io/ipfs/{cid}/{name}",
	"https://dweb.link/ipfs/{cid}/{name}",
}

// Retrieval defaults.
const (
	DefaultAttempts   = 3
	DefaultRetryDelay = 3 * time.Second
)

// errGatewayNotFound marks a gateway 404; it is never retried.
var errGatewayNotFound = errors.New("gateway reports not found")

// Fetcher retrieves artifacts from the primary client, then from each
// gateway in order, stopping at the first success.
type Fetcher struct {
	primary    Client
	gateways   []string
	httpClient *http.Client
	attempts   int
	retryDelay time.Duration
	logger     *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithPrimary sets the client tried first. Nil skips it.
func WithPrimary(c Client) FetcherOption {
	return func(f *Fetcher) {
		f.primary = c
	}
}

// WithGateways sets the gateway URL templates.
func WithGateways(templates ...string) FetcherOption {
	return func(f *Fetcher) {
		f.gateways = templates
	}
}

// WithHTTPClient sets the HTTP client used for gateways.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		f.httpClient = c
	}
}

// WithAttempts sets how many times each gateway is tried.
func WithAttempts(n int) FetcherOption {
	return func(f *Fetcher) {
		f.attempts = n
	}
}

// WithRetryDelay sets the constant delay between attempts.
func WithRetryDelay(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		f.retryDelay = d
	}
}

// WithFetcherLogger sets the logger.
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		gateways:   DefaultGateways,
		httpClient: &http.Client{Timeout: time.Minute},
		attempts:   DefaultAttempts,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.attempts < 1 {
		f.attempts = 1
	}
	return f
}

// sourceOutcome tallies how sources answered.
type sourceOutcome struct {
	answered int
	notFound int
	lastErr  error
}

func (o *sourceOutcome) record(err error, answered bool) {
	o.lastErr = err
	if answered {
		o.answered++
		if errors.Is(err, model.ErrNotFound) || errors.Is(err, errGatewayNotFound) {
			o.notFound++
		}
	}
}

func (o *sourceOutcome) kind() model.RetrievalKind {
	if o.answered > 0 && o.answered == o.notFound {
		return model.RetrievalNotFound
	}
	return model.RetrievalUnavailable
}

// Fetch returns the file name stored under address.
// An invalid address fails with *model.ValidationError before any network
// call; exhaustion fails with *model.StorageRetrievalError.
func (f *Fetcher) Fetch(ctx context.Context, address, name string) ([]byte, error) {
	c, err := model.ParseContentAddress(address)
	if err != nil {
		return nil, err
	}

	var outcome sourceOutcome

	if f.primary != nil {
		data, err := f.primary.Get(ctx, c, name)
		if err == nil {
			return data, nil
		}
		f.logger.Debug("primary storage failed", "cid", c, "error", err)
		outcome.record(err, errors.Is(err, model.ErrNotFound))
	}

	for _, tpl := range f.gateways {
		if err := ctx.Err(); err != nil {
			return nil, &model.StorageRetrievalError{CID: c, Kind: model.RetrievalUnavailable, Err: err}
		}

		target := expandGateway(tpl, c, name)
		data, answered, err := f.fetchGateway(ctx, target)
		if err == nil {
			f.logger.Debug("fetched artifact from gateway", "cid", c, "gateway", target)
			return data, nil
		}
		f.logger.Debug("gateway failed", "cid", c, "gateway", target, "error", err)
		outcome.record(err, answered)
	}

	if outcome.lastErr == nil {
		outcome.lastErr = errors.New("no storage source configured")
	}
	return nil, &model.StorageRetrievalError{CID: c, Kind: outcome.kind(), Err: outcome.lastErr}
}

// FetchJSON fetches name and decodes it into v.
// Undecodable content fails with kind model.RetrievalMalformed.
func (f *Fetcher) FetchJSON(ctx context.Context, address, name string, v any) error {
	data, err := f.Fetch(ctx, address, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &model.StorageRetrievalError{CID: address, Kind: model.RetrievalMalformed, Err: err}
	}
	return nil
}

// fetchGateway GETs target with constant-delay retries. answered reports
// whether the gateway ever returned an HTTP response.
func (f *Fetcher) fetchGateway(ctx context.Context, target string) ([]byte, bool, error) {
	var (
		data     []byte
		answered bool
	)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		answered = true

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errGatewayNotFound)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return fmt.Errorf("gateway status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize))
		if err != nil {
			return err
		}
		data = body
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(f.retryDelay), uint64(f.attempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, answered, err
	}
	return data, true, nil
}

func expandGateway(tpl, c, name string) string {
	return strings.NewReplacer("{cid}", c, "{name}", name).Replace(tpl)
}
