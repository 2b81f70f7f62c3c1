// Package storage publishes round artifacts to content-addressed storage
// and retrieves peers' artifacts with gateway fallback.
//
// Two Client implementations exist: KuboClient talks to an IPFS node over
// its RPC API, and LocalStore keeps artifacts on disk under their CID for
// offline nodes and tests. Fetcher wraps a Client with public gateways.
package storage

import (
	"context"
)

// Client stores and loads named files under a content address.
type Client interface {
	// Upload stores the file at path and returns the CID under which it
	// can be loaded by its base name.
	Upload(ctx context.Context, path string) (string, error)

	// Get loads the file name stored under cid.
	// It returns an error wrapping model.ErrNotFound when the store
	// definitely does not hold it.
	Get(ctx context.Context, cid, name string) ([]byte, error)
}

// ArtifactName is the file name of a published round artifact.
const ArtifactName = "dataList.json"

// maxArtifactSize bounds how much of a fetched artifact is read.
const maxArtifactSize = 64 << 20
