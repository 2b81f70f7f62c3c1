package round

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClockOracle(t *testing.T) {
	t.Parallel()

	genesis := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		now  time.Time
		want int64
	}{
		{name: "at genesis", now: genesis, want: 0},
		{name: "inside first round", now: genesis.Add(59 * time.Minute), want: 0},
		{name: "third round", now: genesis.Add(2*time.Hour + time.Second), want: 2},
		{name: "before genesis", now: genesis.Add(-time.Hour), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			o := NewClockOracle(genesis, time.Hour)
			o.Now = func() time.Time { return tt.now }

			got, err := o.CurrentRound(context.Background())
			if err != nil {
				t.Fatalf("CurrentRound failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("CurrentRound() = %d, want %d", got, tt.want)
			}
		})
	}

	t.Run("zero duration", func(t *testing.T) {
		t.Parallel()

		if _, err := NewClockOracle(genesis, 0).CurrentRound(context.Background()); err == nil {
			t.Error("expected error for zero duration")
		}
	})
}

func TestHTTPOracle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		want    int64
		wantErr bool
	}{
		{name: "json object", status: http.StatusOK, body: `{"round": 12}`, want: 12},
		{name: "bare integer", status: http.StatusOK, body: "34\n", want: 34},
		{name: "missing field", status: http.StatusOK, body: `{"epoch": 1}`, wantErr: true},
		{name: "garbage", status: http.StatusOK, body: "soon", wantErr: true},
		{name: "server error", status: http.StatusInternalServerError, body: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			got, err := NewHTTPOracle(server.URL).CurrentRound(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CurrentRound failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("CurrentRound() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKeywordSource(t *testing.T) {
	t.Parallel()

	first := func(int) int { return 0 }

	t.Run("service keyword with node key", func(t *testing.T) {
		t.Parallel()

		var gotKey string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotKey = r.URL.Query().Get("key")
			fmt.Fprint(w, `"solana"`)
		}))
		defer server.Close()

		k := NewKeywordSource(server.URL+"/keywords", "node-abc", WithKeywordRand(first))
		term, err := k.SearchTerm(context.Background())
		if err != nil {
			t.Fatalf("SearchTerm failed: %v", err)
		}
		if term != "solana" {
			t.Errorf("SearchTerm() = %q", term)
		}
		if gotKey != "node-abc" {
			t.Errorf("key = %q, want node-abc", gotKey)
		}
	})

	t.Run("plain text and arrays", func(t *testing.T) {
		t.Parallel()

		for body, want := range map[string]string{
			"  rust lang \n":     "rust lang",
			`["alpha", "beta"]`: "alpha",
		} {
			got, err := parseKeyword([]byte(body), first)
			if err != nil || got != want {
				t.Errorf("parseKeyword(%q) = %q, %v; want %q", body, got, err, want)
			}
		}
		if _, err := parseKeyword([]byte(`""`), first); err == nil {
			t.Error("empty keyword should fail")
		}
	})

	t.Run("falls back when service fails", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		k := NewKeywordSource(server.URL, "k", WithFallback([]string{"fallback"}), WithKeywordRand(first))
		term, err := k.SearchTerm(context.Background())
		if err != nil || term != "fallback" {
			t.Errorf("SearchTerm() = %q, %v", term, err)
		}
	})

	t.Run("embedded list", func(t *testing.T) {
		t.Parallel()

		words := Fallback()
		if len(words) == 0 {
			t.Fatal("embedded keyword list is empty")
		}
		term, err := NewKeywordSource("", "", WithKeywordRand(first)).SearchTerm(context.Background())
		if err != nil || term != words[0] {
			t.Errorf("SearchTerm() = %q, %v", term, err)
		}
	})

	t.Run("empty fallback", func(t *testing.T) {
		t.Parallel()

		if _, err := NewKeywordSource("", "", WithFallback([]string{})).SearchTerm(context.Background()); err == nil {
			t.Error("expected error with no keywords")
		}
	})
}
