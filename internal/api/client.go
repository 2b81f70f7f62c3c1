package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nao1215/roundscout/internal/model"
)

// PeerClient reads proofs from other nodes' APIs.
type PeerClient struct {
	httpClient *http.Client
}

// PeerClientOption configures a PeerClient.
type PeerClientOption func(*PeerClient)

// WithPeerHTTPClient sets the HTTP client.
func WithPeerHTTPClient(c *http.Client) PeerClientOption {
	return func(p *PeerClient) {
		p.httpClient = c
	}
}

// NewPeerClient creates a PeerClient.
func NewPeerClient(opts ...PeerClientOption) *PeerClient {
	p := &PeerClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Proof returns the CID peer published for round. A peer without a proof
// yields an error wrapping model.ErrNotFound.
func (p *PeerClient) Proof(ctx context.Context, peer string, round int64) (string, error) {
	url := fmt.Sprintf("%s/rounds/%d/proof", strings.TrimRight(peer, "/"), round)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query peer %s: %w", peer, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", fmt.Errorf("peer %s round %d: %w", peer, round, model.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("peer %s returned status %d", peer, resp.StatusCode)
	}

	var proof model.ProofRecord
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&proof); err != nil {
		return "", fmt.Errorf("failed to decode proof from %s: %w", peer, err)
	}
	if proof.Round != round {
		return "", fmt.Errorf("peer %s answered for round %d, asked %d", peer, proof.Round, round)
	}
	return proof.CID, nil
}
