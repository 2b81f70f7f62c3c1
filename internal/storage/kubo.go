package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nao1215/roundscout/internal/model"
)

// DefaultKuboAPI is the default RPC address of a local IPFS Kubo node.
const DefaultKuboAPI = "http://127.0.0.1:5001"

// KuboClient uploads to and reads from an IPFS Kubo node over its RPC API.
type KuboClient struct {
	baseURL    string
	httpClient *http.Client
}

// KuboOption configures a KuboClient.
type KuboOption func(*KuboClient)

// WithKuboHTTPClient sets the HTTP client used for RPC calls.
func WithKuboHTTPClient(c *http.Client) KuboOption {
	return func(k *KuboClient) {
		k.httpClient = c
	}
}

// NewKuboClient creates a client for the RPC API at baseURL.
func NewKuboClient(baseURL string, opts ...KuboOption) *KuboClient {
	if baseURL == "" {
		baseURL = DefaultKuboAPI
	}
	k := &KuboClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// addEntry is one line of the /api/v0/add response stream.
type addEntry struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
}

// kuboError is the body Kubo returns with a non-2xx status.
type kuboError struct {
	Message string `json:"Message"`
}

// Upload adds the file wrapped in a directory and returns the directory
// CID, so the file is reachable as <cid>/<base name>.
func (k *KuboClient) Upload(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is produced by the publisher
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to build upload: %w", err)
	}

	q := url.Values{}
	q.Set("wrap-with-directory", "true")
	q.Set("cid-version", "1")
	q.Set("pin", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/api/v0/add?"+q.Encode(), &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call kubo add: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("kubo add: %w", readKuboError(resp))
	}

	// The response streams one entry per added object; the wrapping
	// directory has an empty name and comes last.
	var dir string
	dec := json.NewDecoder(resp.Body)
	for {
		var e addEntry
		if err := dec.Decode(&e); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return "", fmt.Errorf("failed to decode kubo add response: %w", err)
		}
		if e.Name == "" {
			dir = e.Hash
		}
	}
	if dir == "" {
		return "", errors.New("kubo add response has no directory entry")
	}
	return dir, nil
}

// Get reads <cid>/<name> with /api/v0/cat.
func (k *KuboClient) Get(ctx context.Context, cid, name string) ([]byte, error) {
	q := url.Values{}
	q.Set("arg", cid+"/"+name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/api/v0/cat?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call kubo cat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := readKuboError(resp)
		if isKuboNotFound(err.Error()) {
			return nil, fmt.Errorf("kubo cat %s/%s: %w", cid, name, model.ErrNotFound)
		}
		return nil, fmt.Errorf("kubo cat: %w", err)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read kubo cat response: %w", err)
	}
	return data, nil
}

func readKuboError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:errcheck // best effort error body
	var ke kuboError
	if err := json.Unmarshal(raw, &ke); err == nil && ke.Message != "" {
		return fmt.Errorf("status %d: %s", resp.StatusCode, ke.Message)
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}

func isKuboNotFound(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "no link named") || strings.Contains(msg, "not found")
}
