package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nao1215/roundscout/internal/model"
)

func writeArtifact(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), ArtifactName)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	return path
}

func mustCID(t *testing.T, content string) string {
	t.Helper()

	c, err := ComputeCID([]byte(content))
	if err != nil {
		t.Fatalf("ComputeCID failed: %v", err)
	}
	return c
}

func TestLocalStore(t *testing.T) {
	t.Parallel()

	t.Run("upload then get", func(t *testing.T) {
		t.Parallel()

		s, err := NewLocalStore(filepath.Join(t.TempDir(), "cas"))
		if err != nil {
			t.Fatalf("NewLocalStore failed: %v", err)
		}

		c, err := s.Upload(context.Background(), writeArtifact(t, `[{"id":"1"}]`))
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if c != mustCID(t, `[{"id":"1"}]`) {
			t.Errorf("CID is not derived from content: %s", c)
		}
		if !model.IsContentAddress(c) {
			t.Errorf("Upload returned invalid CID %q", c)
		}
		if !strings.HasPrefix(c, "bafk") {
			t.Errorf("expected CIDv1 raw (bafk...), got %s", c)
		}

		data, err := s.Get(context.Background(), c, ArtifactName)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(data) != `[{"id":"1"}]` {
			t.Errorf("Get returned %q", data)
		}
	})

	t.Run("missing object", func(t *testing.T) {
		t.Parallel()

		s, _ := NewLocalStore(t.TempDir())
		_, err := s.Get(context.Background(), mustCID(t, "nothing"), ArtifactName)
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		t.Parallel()

		s, _ := NewLocalStore(t.TempDir())
		if _, err := s.Get(context.Background(), "../../etc", "passwd"); err == nil {
			t.Error("expected error for invalid cid")
		}
		if _, err := s.Get(context.Background(), mustCID(t, "x"), "../x"); err == nil {
			t.Error("expected error for invalid name")
		}
	})
}

func TestKuboClient(t *testing.T) {
	t.Parallel()

	t.Run("upload returns the wrapping directory", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v0/add" || r.Method != http.MethodPost {
				http.Error(w, "unexpected", http.StatusBadRequest)
				return
			}
			if r.URL.Query().Get("wrap-with-directory") != "true" || r.URL.Query().Get("cid-version") != "1" {
				http.Error(w, "missing params", http.StatusBadRequest)
				return
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			defer file.Close()
			body, _ := io.ReadAll(file)
			if header.Filename != ArtifactName || string(body) != "[]" {
				http.Error(w, "bad file", http.StatusBadRequest)
				return
			}
			fmt.Fprintln(w, `{"Name":"dataList.json","Hash":"bafkfile","Size":"2"}`)
			fmt.Fprintln(w, `{"Name":"","Hash":"bafydir","Size":"60"}`)
		}))
		defer server.Close()

		k := NewKuboClient(server.URL)
		c, err := k.Upload(context.Background(), writeArtifact(t, "[]"))
		if err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		if c != "bafydir" {
			t.Errorf("Upload() = %q, want directory CID", c)
		}
	})

	t.Run("cat reads the named file", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/v0/cat" && r.URL.Query().Get("arg") == "bafydir/dataList.json" {
				_, _ = w.Write([]byte("payload"))
				return
			}
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"Message":"no link named \"x\" under bafydir","Code":0,"Type":"error"}`))
		}))
		defer server.Close()

		k := NewKuboClient(server.URL)
		data, err := k.Get(context.Background(), "bafydir", ArtifactName)
		if err != nil || string(data) != "payload" {
			t.Fatalf("Get() = %q, %v", data, err)
		}

		_, err = k.Get(context.Background(), "bafydir", "x")
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

type countingClient struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (c *countingClient) Upload(context.Context, string) (string, error) {
	return "", errors.New("not supported")
}

func (c *countingClient) Get(context.Context, string, string) ([]byte, error) {
	c.calls.Add(1)
	return c.data, c.err
}

// gatewayServer serves /g1, /g2, ... with per-gateway handlers and counts hits.
type gatewayServer struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func newGatewayServer(t *testing.T, handlers map[string]http.HandlerFunc) *gatewayServer {
	t.Helper()

	gs := &gatewayServer{hits: make(map[string]int)}
	gs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")[0]
		gs.mu.Lock()
		gs.hits[name]++
		gs.mu.Unlock()
		if h, ok := handlers[name]; ok {
			h(w, r)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(gs.Close)
	return gs
}

func (gs *gatewayServer) template(name string) string {
	return gs.URL + "/" + name + "/ipfs/{cid}/{name}"
}

func (gs *gatewayServer) hitCount(name string) int {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.hits[name]
}

func TestFetcher(t *testing.T) {
	t.Parallel()

	ok := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(body)) }
	}
	status := func(code int) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(code) }
	}

	t.Run("invalid address makes no network call", func(t *testing.T) {
		t.Parallel()

		gs := newGatewayServer(t, map[string]http.HandlerFunc{"g1": ok("x")})
		primary := &countingClient{data: []byte("x")}
		f := NewFetcher(WithPrimary(primary), WithGateways(gs.template("g1")), WithRetryDelay(0))

		_, err := f.Fetch(context.Background(), "not-a-cid", ArtifactName)
		var vErr *model.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if !errors.Is(err, model.ErrInvalidContentAddress) {
			t.Errorf("expected ErrInvalidContentAddress, got %v", err)
		}
		if primary.calls.Load() != 0 || gs.hitCount("g1") != 0 {
			t.Error("no source should be contacted for an invalid address")
		}
	})

	t.Run("falls through to the first working gateway", func(t *testing.T) {
		t.Parallel()

		gs := newGatewayServer(t, map[string]http.HandlerFunc{
			"g1": status(http.StatusBadGateway),
			"g2": ok("artifact"),
			"g3": ok("other"),
		})
		primary := &countingClient{err: errors.New("connection refused")}
		f := NewFetcher(
			WithPrimary(primary),
			WithGateways(gs.template("g1"), gs.template("g2"), gs.template("g3")),
			WithRetryDelay(0),
		)

		data, err := f.Fetch(context.Background(), mustCID(t, "artifact"), ArtifactName)
		if err != nil {
			t.Fatalf("Fetch failed: %v", err)
		}
		if string(data) != "artifact" {
			t.Errorf("Fetch() = %q", data)
		}
		if primary.calls.Load() != 1 {
			t.Errorf("primary calls = %d, want 1", primary.calls.Load())
		}
		if gs.hitCount("g1") != DefaultAttempts {
			t.Errorf("g1 hits = %d, want %d", gs.hitCount("g1"), DefaultAttempts)
		}
		if gs.hitCount("g2") != 1 {
			t.Errorf("g2 hits = %d, want 1", gs.hitCount("g2"))
		}
		if gs.hitCount("g3") != 0 {
			t.Errorf("g3 must not be contacted, hits = %d", gs.hitCount("g3"))
		}
	})

	t.Run("primary success skips gateways", func(t *testing.T) {
		t.Parallel()

		gs := newGatewayServer(t, map[string]http.HandlerFunc{"g1": ok("x")})
		f := NewFetcher(WithPrimary(&countingClient{data: []byte("local")}), WithGateways(gs.template("g1")))

		data, err := f.Fetch(context.Background(), mustCID(t, "local"), ArtifactName)
		if err != nil || string(data) != "local" {
			t.Fatalf("Fetch() = %q, %v", data, err)
		}
		if gs.hitCount("g1") != 0 {
			t.Error("gateway should not be contacted")
		}
	})

	t.Run("every source says not found", func(t *testing.T) {
		t.Parallel()

		gs := newGatewayServer(t, nil)
		primary := &countingClient{err: fmt.Errorf("missing: %w", model.ErrNotFound)}
		f := NewFetcher(WithPrimary(primary), WithGateways(gs.template("g1"), gs.template("g2")), WithRetryDelay(0))

		_, err := f.Fetch(context.Background(), mustCID(t, "gone"), ArtifactName)
		var rErr *model.StorageRetrievalError
		if !errors.As(err, &rErr) {
			t.Fatalf("expected StorageRetrievalError, got %v", err)
		}
		if rErr.Kind != model.RetrievalNotFound {
			t.Errorf("kind = %v, want not-found", rErr.Kind)
		}
		if gs.hitCount("g1") != 1 {
			t.Errorf("404 must not be retried, hits = %d", gs.hitCount("g1"))
		}
	})

	t.Run("unreachable gateways are unavailable", func(t *testing.T) {
		t.Parallel()

		gs := newGatewayServer(t, nil)
		tpl := gs.template("g1")
		gs.Close()

		f := NewFetcher(WithGateways(tpl), WithRetryDelay(0), WithAttempts(2))
		_, err := f.Fetch(context.Background(), mustCID(t, "x"), ArtifactName)
		var rErr *model.StorageRetrievalError
		if !errors.As(err, &rErr) || rErr.Kind != model.RetrievalUnavailable {
			t.Fatalf("expected unavailable, got %v", err)
		}
	})

	t.Run("mixed answers are unavailable", func(t *testing.T) {
		t.Parallel()

		gs := newGatewayServer(t, map[string]http.HandlerFunc{"g2": status(http.StatusInternalServerError)})
		f := NewFetcher(WithGateways(gs.template("g1"), gs.template("g2")), WithRetryDelay(0))

		_, err := f.Fetch(context.Background(), mustCID(t, "x"), ArtifactName)
		var rErr *model.StorageRetrievalError
		if !errors.As(err, &rErr) || rErr.Kind != model.RetrievalUnavailable {
			t.Fatalf("expected unavailable, got %v", err)
		}
	})

	t.Run("undecodable json is malformed", func(t *testing.T) {
		t.Parallel()

		f := NewFetcher(WithPrimary(&countingClient{data: []byte("{not json")}), WithGateways())

		var v []model.ProofEntry
		err := f.FetchJSON(context.Background(), mustCID(t, "x"), ArtifactName, &v)
		var rErr *model.StorageRetrievalError
		if !errors.As(err, &rErr) || rErr.Kind != model.RetrievalMalformed {
			t.Fatalf("expected malformed, got %v", err)
		}
	})
}
