package round

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultKeywordURL is the local keyword service.
const DefaultKeywordURL = "http://localhost:3000/keywords"

//go:embed keywords.json
var embeddedKeywords []byte

// Fallback returns the built-in keyword list.
func Fallback() []string {
	var words []string
	if err := json.Unmarshal(embeddedKeywords, &words); err != nil {
		panic(fmt.Sprintf("embedded keywords.json is invalid: %v", err))
	}
	return words
}

// KeywordSource picks the search term for a round. It asks the keyword
// service with the node key and falls back to a local list on any failure.
type KeywordSource struct {
	url        string
	nodeKey    string
	httpClient *http.Client
	fallback   []string
	intN       func(n int) int
	logger     *slog.Logger
}

// KeywordOption configures a KeywordSource.
type KeywordOption func(*KeywordSource)

// WithKeywordHTTPClient sets the HTTP client.
func WithKeywordHTTPClient(c *http.Client) KeywordOption {
	return func(k *KeywordSource) {
		k.httpClient = c
	}
}

// WithFallback replaces the embedded fallback list.
func WithFallback(words []string) KeywordOption {
	return func(k *KeywordSource) {
		k.fallback = words
	}
}

// WithKeywordRand sets the index source used on the fallback list.
func WithKeywordRand(intN func(n int) int) KeywordOption {
	return func(k *KeywordSource) {
		k.intN = intN
	}
}

// WithKeywordLogger sets the logger.
func WithKeywordLogger(logger *slog.Logger) KeywordOption {
	return func(k *KeywordSource) {
		k.logger = logger
	}
}

// NewKeywordSource creates a source querying serviceURL as this node.
// An empty serviceURL uses only the fallback list.
func NewKeywordSource(serviceURL, nodeKey string, opts ...KeywordOption) *KeywordSource {
	k := &KeywordSource{
		url:        serviceURL,
		nodeKey:    nodeKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		intN:       rand.IntN,
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.fallback == nil {
		k.fallback = Fallback()
	}
	if k.logger == nil {
		k.logger = slog.Default()
	}
	return k
}

// SearchTerm returns a non-empty term. It only fails when both the
// service and the fallback list are unusable.
func (k *KeywordSource) SearchTerm(ctx context.Context) (string, error) {
	if k.url != "" {
		term, err := k.fetch(ctx)
		if err == nil {
			return term, nil
		}
		k.logger.Warn("keyword service unavailable, using local list", "error", err)
	}

	if len(k.fallback) == 0 {
		return "", errors.New("no keywords available")
	}
	return k.fallback[k.intN(len(k.fallback))], nil
}

func (k *KeywordSource) fetch(ctx context.Context) (string, error) {
	u, err := url.Parse(k.url)
	if err != nil {
		return "", fmt.Errorf("invalid keyword service URL: %w", err)
	}
	q := u.Query()
	q.Set("key", k.nodeKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query keyword service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("keyword service returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("failed to read keyword: %w", err)
	}
	return parseKeyword(body, k.intN)
}

// parseKeyword accepts a JSON string, a JSON array of strings, or plain text.
func parseKeyword(body []byte, intN func(int) int) (string, error) {
	var term string
	if err := json.Unmarshal(body, &term); err != nil {
		var list []string
		if err := json.Unmarshal(body, &list); err == nil {
			if len(list) > 0 {
				term = list[intN(len(list))]
			}
		} else {
			term = string(body)
		}
	}

	term = strings.TrimSpace(term)
	if term == "" {
		return "", errors.New("keyword service returned an empty keyword")
	}
	return term, nil
}
