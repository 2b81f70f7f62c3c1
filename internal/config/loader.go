package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file name searched for.
const DefaultConfigFile = ".roundscout"

// DefaultEnvFile is the dotenv file read for credentials.
const DefaultEnvFile = ".env"

// Environment variables read by LoadEnv.
const (
	EnvUsername     = "TWITTER_USERNAME"
	EnvPassword     = "TWITTER_PASSWORD"
	EnvVerification = "TWITTER_VERIFICATION"
	EnvNodeKey      = "ROUNDSCOUT_NODE_KEY"
)

// File is the structure of the .roundscout YAML file. Zero values leave
// the corresponding Config field unchanged.
type File struct {
	Node       NodeFile       `yaml:"node,omitempty"`
	Round      RoundFile      `yaml:"round,omitempty"`
	Storage    StorageFile    `yaml:"storage,omitempty"`
	Peers      []string       `yaml:"peers,omitempty"`
	Crawl      CrawlFile      `yaml:"crawl,omitempty"`
	Validation ValidationFile `yaml:"validation,omitempty"`
	Tor        TorFile        `yaml:"tor,omitempty"`
	Source     SourceConfig   `yaml:"source,omitempty"`
}

// NodeFile is the node section.
type NodeFile struct {
	Key             string        `yaml:"key,omitempty"`
	DataDir         string        `yaml:"dataDir,omitempty"`
	Interval        time.Duration `yaml:"interval,omitempty"`
	APIAddr         string        `yaml:"apiAddr,omitempty"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	PeerConcurrency int           `yaml:"peerConcurrency,omitempty"`
}

// RoundFile is the round section.
type RoundFile struct {
	OracleURL  string        `yaml:"oracleURL,omitempty"`
	Genesis    time.Time     `yaml:"genesis,omitempty"`
	Duration   time.Duration `yaml:"duration,omitempty"`
	KeywordURL string        `yaml:"keywordURL,omitempty"`
}

// StorageFile is the storage section.
type StorageFile struct {
	Backend  string   `yaml:"backend,omitempty"`
	KuboAPI  string   `yaml:"kuboAPI,omitempty"`
	Gateways []string `yaml:"gateways,omitempty"`
}

// CrawlFile is the crawl section.
type CrawlFile struct {
	Headless      *bool  `yaml:"headless,omitempty"`
	ChromePath    string `yaml:"chromePath,omitempty"`
	MaxIterations int    `yaml:"maxIterations,omitempty"`
	Dedup         string `yaml:"dedup,omitempty"`
}

// ValidationFile is the validation section.
type ValidationFile struct {
	Samples     int           `yaml:"samples,omitempty"`
	SampleDelay time.Duration `yaml:"sampleDelay,omitempty"`
	AuditLag    *int64        `yaml:"auditLag,omitempty"`
}

// TorFile is the tor section.
type TorFile struct {
	Enabled        *bool         `yaml:"enabled,omitempty"`
	External       *bool         `yaml:"external,omitempty"`
	Proxy          string        `yaml:"proxy,omitempty"`
	StartupTimeout time.Duration `yaml:"startupTimeout,omitempty"`
}

// LoadConfigFile parses the YAML file at path.
// A missing file returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path is intentional
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &f, nil
}

// FindConfigFile returns configPath if it exists, otherwise the first
// .roundscout found in the current directory, the home directory and the
// XDG config directory. It returns "" when nothing is found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), "config.yaml"))

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// Apply copies every set field of f onto cfg.
func (f *File) Apply(cfg *Config) {
	setString(&cfg.NodeKey, f.Node.Key)
	setString(&cfg.DataDir, f.Node.DataDir)
	setDuration(&cfg.Interval, f.Node.Interval)
	setString(&cfg.APIAddr, f.Node.APIAddr)
	setDuration(&cfg.Timeout, f.Node.Timeout)
	setInt(&cfg.PeerConcurrency, f.Node.PeerConcurrency)

	setString(&cfg.OracleURL, f.Round.OracleURL)
	if !f.Round.Genesis.IsZero() {
		cfg.RoundGenesis = f.Round.Genesis
	}
	setDuration(&cfg.RoundDuration, f.Round.Duration)
	setString(&cfg.KeywordURL, f.Round.KeywordURL)

	setString(&cfg.Storage, f.Storage.Backend)
	setString(&cfg.KuboAPI, f.Storage.KuboAPI)
	if len(f.Storage.Gateways) > 0 {
		cfg.Gateways = append([]string(nil), f.Storage.Gateways...)
	}

	if len(f.Peers) > 0 {
		cfg.Peers = append([]string(nil), f.Peers...)
	}

	if f.Crawl.Headless != nil {
		cfg.Headless = *f.Crawl.Headless
	}
	setString(&cfg.ChromePath, f.Crawl.ChromePath)
	setInt(&cfg.MaxIterations, f.Crawl.MaxIterations)
	setString(&cfg.DedupPolicy, f.Crawl.Dedup)

	setInt(&cfg.Samples, f.Validation.Samples)
	setDuration(&cfg.SampleDelay, f.Validation.SampleDelay)
	if f.Validation.AuditLag != nil {
		cfg.AuditLag = *f.Validation.AuditLag
	}

	if f.Tor.Enabled != nil {
		cfg.UseTor = *f.Tor.Enabled
	}
	if f.Tor.External != nil {
		cfg.UseExternalTor = *f.Tor.External
	}
	setString(&cfg.TorProxyAddress, f.Tor.Proxy)
	setDuration(&cfg.TorStartupTimeout, f.Tor.StartupTimeout)

	cfg.Source = cfg.Source.Merge(f.Source)
}

// LoadEnv fills the credentials and node key from the process
// environment, falling back to the dotenv file at path. A missing dotenv
// file is not an error. Process variables win over the file.
func LoadEnv(cfg *Config, path string) error {
	fileEnv := map[string]string{}
	if path != "" {
		env, err := godotenv.Read(path)
		switch {
		case err == nil:
			fileEnv = env
		case errors.Is(err, os.ErrNotExist):
		default:
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	lookup := func(key string) string {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
		return fileEnv[key]
	}

	setString(&cfg.Username, lookup(EnvUsername))
	setString(&cfg.Password, lookup(EnvPassword))
	setString(&cfg.Verification, lookup(EnvVerification))
	setString(&cfg.NodeKey, lookup(EnvNodeKey))
	return nil
}

// Load builds a Config from defaults, the YAML file and the environment.
// An explicit configPath that does not exist returns ErrConfigNotFound;
// a missing default file is ignored.
func Load(configPath, envPath string) (*Config, error) {
	cfg := NewConfig()
	cfg.ConfigFilePath = configPath
	cfg.EnvFile = envPath

	path := FindConfigFile(configPath)
	if path == "" && configPath != "" {
		return nil, fmt.Errorf("%s: %w", configPath, ErrConfigNotFound)
	}
	if path != "" {
		f, err := LoadConfigFile(path)
		if err != nil {
			return nil, err
		}
		f.Apply(cfg)
		cfg.ConfigFilePath = path
	}

	if err := LoadEnv(cfg, envPath); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
