package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/nao1215/roundscout/internal/model"
)

// LocalStore is a filesystem content-addressed store.
// A file is kept at <root>/<cid>/<name>, where cid is the CIDv1 (raw
// codec, sha2-256) of its bytes.
//
// A raw CID names the file's bytes, not a directory wrapping it, so public
// gateways cannot resolve <cid>/<name> for a LocalStore artifact. Peers
// reach it only through this node's /ipfs/:cid/:name route. Use Kubo for
// artifacts that gateways must serve.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &LocalStore{root: dir}, nil
}

// Root returns the store directory.
func (s *LocalStore) Root() string {
	return s.root
}

// ComputeCID returns the CIDv1 (raw, sha2-256) of data.
func ComputeCID(data []byte) (string, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum).String(), nil
}

// Upload copies the file at path into the store.
func (s *LocalStore) Upload(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path) //nolint:gosec // path is produced by the publisher
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	c, err := ComputeCID(data)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, c)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create object directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filepath.Base(path)), data, 0600); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	return c, nil
}

// Get reads name stored under c.
func (s *LocalStore) Get(ctx context.Context, c, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Both parts become path elements; reject anything that could escape root.
	if _, err := model.ParseContentAddress(c); err != nil {
		return nil, err
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return nil, &model.ValidationError{Value: name, Err: errors.New("invalid object name")}
	}

	data, err := os.ReadFile(filepath.Join(s.root, c, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s/%s: %w", c, name, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}
