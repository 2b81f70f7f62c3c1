package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/roundscout/internal/site"
)

// TestNewConfig pins the defaults so changes to them are intentional.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	if cfg.Interval != DefaultInterval {
		t.Errorf("Interval = %v", cfg.Interval)
	}
	if cfg.RoundDuration != DefaultRoundDuration {
		t.Errorf("RoundDuration = %v", cfg.RoundDuration)
	}
	if cfg.KeywordURL != "http://localhost:3000/keywords" {
		t.Errorf("KeywordURL = %q", cfg.KeywordURL)
	}
	if cfg.Storage != StorageKubo || cfg.KuboAPI != DefaultKuboAPI {
		t.Errorf("Storage = %q, KuboAPI = %q", cfg.Storage, cfg.KuboAPI)
	}
	if len(cfg.Gateways) != len(DefaultGateways) {
		t.Errorf("Gateways = %v", cfg.Gateways)
	}
	if cfg.DedupPolicy != "first-wins" {
		t.Errorf("DedupPolicy = %q", cfg.DedupPolicy)
	}
	if cfg.Samples != 2 || cfg.SampleDelay != 30*time.Second {
		t.Errorf("Samples = %d, SampleDelay = %v", cfg.Samples, cfg.SampleDelay)
	}
	if cfg.AuditLag != 1 {
		t.Errorf("AuditLag = %d", cfg.AuditLag)
	}
	if !cfg.Headless {
		t.Error("Headless should default to true")
	}
	if cfg.UseTor || cfg.UseExternalTor {
		t.Error("Tor should be off by default")
	}
	if cfg.TorProxyAddress != "127.0.0.1:9050" || cfg.TorStartupTimeout != 3*time.Minute {
		t.Errorf("TorProxyAddress = %q, TorStartupTimeout = %v", cfg.TorProxyAddress, cfg.TorStartupTimeout)
	}
	if !strings.HasSuffix(cfg.DataDir, AppName) {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}

	cfg.Gateways[0] = "changed"
	if DefaultGateways[0] == "changed" {
		t.Error("NewConfig must copy DefaultGateways")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{name: "defaults are valid", modify: func(*Config) {}},
		{name: "local storage", modify: func(c *Config) { c.Storage = StorageLocal; c.KuboAPI = "" }},
		{name: "oracle url replaces round duration", modify: func(c *Config) { c.OracleURL = "http://oracle:4000/round"; c.RoundDuration = 0 }},
		{name: "empty keyword url uses fallback", modify: func(c *Config) { c.KeywordURL = "" }},
		{name: "empty data dir", modify: func(c *Config) { c.DataDir = "" }, want: ErrNoDataDir},
		{name: "zero interval", modify: func(c *Config) { c.Interval = 0 }, want: ErrInvalidInterval},
		{name: "no oracle and no duration", modify: func(c *Config) { c.RoundDuration = 0 }, want: ErrInvalidRoundDuration},
		{name: "oracle url without scheme", modify: func(c *Config) { c.OracleURL = "oracle:4000" }, want: ErrInvalidOracleURL},
		{name: "keyword url without host", modify: func(c *Config) { c.KeywordURL = "http://" }, want: ErrInvalidKeywordURL},
		{name: "bad kubo api", modify: func(c *Config) { c.KuboAPI = "ftp://kubo" }, want: ErrInvalidKuboAPI},
		{name: "unknown storage", modify: func(c *Config) { c.Storage = "s3" }, want: ErrUnknownStorage},
		{name: "bad peer", modify: func(c *Config) { c.Peers = []string{"http://ok:8080", "peer-2"} }, want: ErrInvalidPeer},
		{name: "unknown dedup", modify: func(c *Config) { c.DedupPolicy = "last-wins" }, want: ErrUnknownDedupPolicy},
		{name: "zero samples", modify: func(c *Config) { c.Samples = 0 }, want: ErrInvalidSamples},
		{name: "negative sample delay", modify: func(c *Config) { c.SampleDelay = -time.Second }, want: ErrInvalidSampleDelay},
		{name: "zero max iterations", modify: func(c *Config) { c.MaxIterations = 0 }, want: ErrInvalidMaxIterations},
		{name: "zero peer concurrency", modify: func(c *Config) { c.PeerConcurrency = 0 }, want: ErrInvalidPeerConcurrency},
		{name: "negative audit lag", modify: func(c *Config) { c.AuditLag = -1 }, want: ErrInvalidAuditLag},
		{name: "zero timeout", modify: func(c *Config) { c.Timeout = 0 }, want: ErrInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPeerError(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.Peers = []string{"peer-2"}
	var pErr *PeerError
	if err := cfg.Validate(); !errors.As(err, &pErr) || pErr.Peer != "peer-2" {
		t.Errorf("Validate() = %v, want PeerError for peer-2", err)
	}
}

func TestValidateCredentials(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	if err := cfg.ValidateCredentials(); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("ValidateCredentials() = %v, want ErrNoCredentials", err)
	}
	cfg.Username = "scout"
	if err := cfg.ValidateCredentials(); !errors.Is(err, ErrNoCredentials) {
		t.Error("username without password should be rejected")
	}
	cfg.Password = "pw"
	if err := cfg.ValidateCredentials(); err != nil {
		t.Errorf("ValidateCredentials() = %v", err)
	}
}

func TestConfigPaths(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.DataDir = filepath.Join("var", "rs")
	if got := cfg.StagingDir(); got != filepath.Join("var", "rs", "staging") {
		t.Errorf("StagingDir() = %q", got)
	}
	if got := cfg.LocalStoreDir(); got != filepath.Join("var", "rs", "cas") {
		t.Errorf("LocalStoreDir() = %q", got)
	}
	if XDGConfigDir() == "" {
		t.Error("XDGConfigDir() is empty")
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

const sampleConfig = `node:
  key: node-7
  interval: 45s
  apiAddr: ":9090"
round:
  genesis: 2024-01-01T00:00:00Z
  duration: 1h
storage:
  backend: local
  gateways:
    - "https://gw.example/ipfs/{cid}/{name}"
peers:
  - "http://peer-a:8080"
  - "http://peer-b:8080"
crawl:
  headless: false
  maxIterations: 50
  dedup: freshest
validation:
  samples: 3
  sampleDelay: 5s
  auditLag: 0
tor:
  enabled: true
  external: true
  proxy: "127.0.0.1:9150"
source:
  itemSelector: "article"
  viewportHeight: 2000
`

func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		f, err := LoadConfigFile(filepath.Join(t.TempDir(), DefaultConfigFile))
		if !errors.Is(err, ErrConfigNotFound) || f != nil {
			t.Fatalf("LoadConfigFile() = %v, %v", f, err)
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, t.TempDir(), DefaultConfigFile, "node: [}")
		if _, err := LoadConfigFile(path); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})

	t.Run("applies every section", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, t.TempDir(), DefaultConfigFile, sampleConfig)
		f, err := LoadConfigFile(path)
		if err != nil {
			t.Fatalf("LoadConfigFile failed: %v", err)
		}

		cfg := NewConfig()
		f.Apply(cfg)

		if cfg.NodeKey != "node-7" || cfg.Interval != 45*time.Second || cfg.APIAddr != ":9090" {
			t.Errorf("node section: key=%q interval=%v api=%q", cfg.NodeKey, cfg.Interval, cfg.APIAddr)
		}
		if !cfg.RoundGenesis.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) || cfg.RoundDuration != time.Hour {
			t.Errorf("round section: genesis=%v duration=%v", cfg.RoundGenesis, cfg.RoundDuration)
		}
		if cfg.KeywordURL != DefaultKeywordURL {
			t.Errorf("unset keyword URL changed to %q", cfg.KeywordURL)
		}
		if cfg.Storage != StorageLocal || len(cfg.Gateways) != 1 {
			t.Errorf("storage section: backend=%q gateways=%v", cfg.Storage, cfg.Gateways)
		}
		if len(cfg.Peers) != 2 {
			t.Errorf("Peers = %v", cfg.Peers)
		}
		if cfg.Headless || cfg.MaxIterations != 50 || cfg.DedupPolicy != "freshest" {
			t.Errorf("crawl section: headless=%v max=%d dedup=%q", cfg.Headless, cfg.MaxIterations, cfg.DedupPolicy)
		}
		if cfg.Samples != 3 || cfg.SampleDelay != 5*time.Second || cfg.AuditLag != 0 {
			t.Errorf("validation section: samples=%d delay=%v lag=%d", cfg.Samples, cfg.SampleDelay, cfg.AuditLag)
		}
		if !cfg.UseTor || !cfg.UseExternalTor || cfg.TorProxyAddress != "127.0.0.1:9150" {
			t.Errorf("tor section: %v %v %q", cfg.UseTor, cfg.UseExternalTor, cfg.TorProxyAddress)
		}
		if cfg.Source.ItemSelector != "article" || cfg.Source.ViewportHeight != 2000 {
			t.Errorf("Source = %+v", cfg.Source)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("loaded config is invalid: %v", err)
		}
	})
}

func TestFindConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("explicit path", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, t.TempDir(), "custom.yaml", "peers: []")
		if got := FindConfigFile(path); got != path {
			t.Errorf("FindConfigFile() = %q, want %q", got, path)
		}
	})

	t.Run("missing explicit path", func(t *testing.T) {
		t.Parallel()

		if got := FindConfigFile(filepath.Join(t.TempDir(), "nope.yaml")); got != "" {
			t.Errorf("FindConfigFile() = %q, want empty", got)
		}
	})
}

func TestLoadEnv(t *testing.T) {
	t.Parallel()

	t.Run("reads dotenv file", func(t *testing.T) {
		t.Parallel()

		path := writeFile(t, t.TempDir(), ".env",
			"ROUNDSCOUT_TEST_UNUSED=1\nTWITTER_USERNAME=scout\nTWITTER_PASSWORD=\"p@ss word\"\nTWITTER_VERIFICATION=scout@example.com\n")
		cfg := NewConfig()
		if err := LoadEnv(cfg, path); err != nil {
			t.Fatalf("LoadEnv failed: %v", err)
		}
		if os.Getenv(EnvUsername) == "" && cfg.Username != "scout" {
			t.Errorf("Username = %q", cfg.Username)
		}
		if os.Getenv(EnvPassword) == "" && cfg.Password != "p@ss word" {
			t.Errorf("Password = %q", cfg.Password)
		}
		if os.Getenv(EnvVerification) == "" && cfg.Verification != "scout@example.com" {
			t.Errorf("Verification = %q", cfg.Verification)
		}
	})

	t.Run("missing dotenv file is not an error", func(t *testing.T) {
		t.Parallel()

		if err := LoadEnv(NewConfig(), filepath.Join(t.TempDir(), ".env")); err != nil {
			t.Errorf("LoadEnv() = %v", err)
		}
	})
}

func TestLoadEnvProcessWins(t *testing.T) {
	t.Setenv(EnvUsername, "from-process")
	t.Setenv(EnvNodeKey, "key-from-process")

	path := writeFile(t, t.TempDir(), ".env", "TWITTER_USERNAME=from-file\n")
	cfg := NewConfig()
	if err := LoadEnv(cfg, path); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}
	if cfg.Username != "from-process" {
		t.Errorf("Username = %q, want from-process", cfg.Username)
	}
	if cfg.NodeKey != "key-from-process" {
		t.Errorf("NodeKey = %q", cfg.NodeKey)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("explicit file", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		path := writeFile(t, dir, "node.yaml", sampleConfig)
		cfg, err := Load(path, filepath.Join(dir, ".env"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.ConfigFilePath != path || cfg.Storage != StorageLocal {
			t.Errorf("ConfigFilePath = %q, Storage = %q", cfg.ConfigFilePath, cfg.Storage)
		}
	})

	t.Run("missing explicit file", func(t *testing.T) {
		t.Parallel()

		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("Load() = %v, want ErrConfigNotFound", err)
		}
	})
}

func TestSourceConfig(t *testing.T) {
	t.Parallel()

	t.Run("merge keeps unset fields", func(t *testing.T) {
		t.Parallel()

		base := SourceConfig{UserAgent: "ua", ItemSelector: "article"}
		got := base.Merge(SourceConfig{ItemSelector: "div.post", ViewportWidth: 800})
		if got.UserAgent != "ua" || got.ItemSelector != "div.post" || got.ViewportWidth != 800 {
			t.Errorf("Merge() = %+v", got)
		}
	})

	t.Run("profile overrides", func(t *testing.T) {
		t.Parallel()

		base := site.X()
		p := SourceConfig{SearchURL: "https://example.com/s?q=%s", RateLimitPhrase: "slow down"}.Profile(base)
		if p.SearchURLTemplate != "https://example.com/s?q=%s" || p.RateLimitPhrase != "slow down" {
			t.Errorf("Profile() = %+v", p)
		}
		if p.ItemSelector != base.ItemSelector || p.UserAgent != base.UserAgent {
			t.Error("unset overrides changed the profile")
		}

		p.OwnHosts[0] = "evil.example"
		if site.X().OwnHosts[0] == "evil.example" || base.OwnHosts[0] == "evil.example" {
			t.Error("Profile() shares OwnHosts with the base profile")
		}
	})

	t.Run("empty config returns base", func(t *testing.T) {
		t.Parallel()

		base := site.X()
		p := SourceConfig{}.Profile(base)
		if p.SearchURLTemplate != base.SearchURLTemplate || p.ViewportHeight != base.ViewportHeight {
			t.Errorf("Profile() = %+v", p)
		}
	})
}
