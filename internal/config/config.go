package config

import (
	"net/url"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/nao1215/roundscout/internal/roundstore"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "roundscout"

	// DefaultInterval is how often the node polls the round oracle.
	DefaultInterval = 30 * time.Second

	// DefaultRoundDuration is the round length used by the clock oracle
	// when no oracle URL is configured.
	DefaultRoundDuration = 30 * time.Minute

	// DefaultKeywordURL is the keyword service queried for search terms.
	DefaultKeywordURL = "http://localhost:3000/keywords"

	// DefaultKuboAPI is the local Kubo RPC endpoint.
	DefaultKuboAPI = "http://127.0.0.1:5001"

	// DefaultAPIAddr is the listen address of the status and peer API.
	DefaultAPIAddr = ":8080"

	// DefaultTimeout bounds each outbound HTTP request.
	DefaultTimeout = 30 * time.Second

	// DefaultSamples is how many records are re-checked per peer proof.
	DefaultSamples = 2

	// DefaultSampleDelay is the pause before each live re-check.
	DefaultSampleDelay = 30 * time.Second

	// DefaultMaxIterations caps scroll iterations in one crawl.
	DefaultMaxIterations = 10000

	// DefaultAuditLag is how many rounds behind the current one peers are audited.
	DefaultAuditLag = 1

	// DefaultPeerConcurrency limits parallel peer proof lookups.
	DefaultPeerConcurrency = 8

	// DefaultTorProxyAddress is the standard Tor SOCKS5 proxy address.
	DefaultTorProxyAddress = "127.0.0.1:9050"

	// DefaultTorStartupTimeout bounds the embedded Tor daemon's bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute
)

// Storage backends.
const (
	StorageKubo  = "kubo"
	StorageLocal = "local"
)

// DefaultGateways are the public gateways tried after the primary client.
// {cid} and {name} are replaced with the content address and file name.
var DefaultGateways = []string{
	"https://ipfs.io/ipfs/{cid}/{name}",
	"https://dweb.link/ipfs/{cid}/{name}",
	"https://w3s.link/ipfs/{cid}/{name}",
}

// Config holds every option of a roundscout node. It is filled from
// defaults, then the YAML file, then .env and the environment, then CLI
// flags, and passed down explicitly.
type Config struct {
	// ConfigFilePath is the YAML file to load. Empty searches for
	// .roundscout in the current directory and then the home directory.
	ConfigFilePath string

	// EnvFile is the dotenv file holding the source credentials.
	EnvFile string

	// Verbose enables Debug logging.
	Verbose bool

	// LogJSON selects the JSON log handler.
	LogJSON bool

	// DataDir holds the database and the staging area.
	// Defaults to the XDG data directory.
	DataDir string

	// Username, Password and Verification are the source account.
	Username     string
	Password     string
	Verification string

	// NodeKey identifies this node to the keyword service.
	NodeKey string

	// Interval is how often the node polls the round oracle.
	Interval time.Duration

	// OracleURL is the round oracle endpoint. Empty uses a clock oracle
	// built from RoundGenesis and RoundDuration.
	OracleURL string

	// RoundGenesis is when round 1 started for the clock oracle.
	RoundGenesis time.Time

	// RoundDuration is the fixed round length for the clock oracle.
	RoundDuration time.Duration

	// KeywordURL is the keyword service. Empty uses the embedded list only.
	KeywordURL string

	// Storage is StorageKubo or StorageLocal.
	Storage string

	// KuboAPI is the Kubo RPC base URL.
	KuboAPI string

	// Gateways are retrieval gateway templates tried after the primary client.
	Gateways []string

	// Peers are the base URLs of other nodes' status APIs.
	Peers []string

	// PeerConcurrency limits parallel peer proof lookups.
	PeerConcurrency int

	// AuditLag is how many rounds behind the current one peers are audited.
	AuditLag int64

	// DedupPolicy is "first-wins" or "freshest".
	DedupPolicy string

	// Samples is how many records are re-checked per peer proof.
	Samples int

	// SampleDelay is the pause before each live re-check.
	SampleDelay time.Duration

	// MaxIterations caps scroll iterations in one crawl.
	MaxIterations int

	// Headless runs Chrome without a window.
	Headless bool

	// ChromePath overrides the Chrome executable.
	ChromePath string

	// APIAddr is the listen address of the status and peer API.
	// Empty disables the API in run mode.
	APIAddr string

	// Timeout bounds each outbound HTTP request.
	Timeout time.Duration

	// UseTor routes the browser and HTTP clients through Tor.
	UseTor bool

	// UseExternalTor uses the proxy at TorProxyAddress instead of starting
	// an embedded daemon. Only read when UseTor is set.
	UseExternalTor bool

	// TorProxyAddress is the external Tor SOCKS5 proxy in "host:port" form.
	TorProxyAddress string

	// TorStartupTimeout bounds the embedded daemon's bootstrap.
	TorStartupTimeout time.Duration

	// Source holds overrides for the crawled source's profile.
	Source SourceConfig
}

// NewConfig returns a Config filled with defaults.
func NewConfig() *Config {
	return &Config{
		DataDir:           XDGDataDir(),
		Interval:          DefaultInterval,
		RoundDuration:     DefaultRoundDuration,
		KeywordURL:        DefaultKeywordURL,
		Storage:           StorageKubo,
		KuboAPI:           DefaultKuboAPI,
		Gateways:          append([]string(nil), DefaultGateways...),
		PeerConcurrency:   DefaultPeerConcurrency,
		AuditLag:          DefaultAuditLag,
		DedupPolicy:       roundstore.PolicyFirstWins.String(),
		Samples:           DefaultSamples,
		SampleDelay:       DefaultSampleDelay,
		MaxIterations:     DefaultMaxIterations,
		Headless:          true,
		APIAddr:           DefaultAPIAddr,
		Timeout:           DefaultTimeout,
		TorProxyAddress:   DefaultTorProxyAddress,
		TorStartupTimeout: DefaultTorStartupTimeout,
	}
}

// XDGDataDir returns the XDG data directory for roundscout.
// On Linux: ~/.local/share/roundscout
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for roundscout.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// StagingDir is where round artifacts are written before upload.
func (c *Config) StagingDir() string {
	return filepath.Join(c.DataDir, "staging")
}

// LocalStoreDir is the content-addressed directory of the local backend.
func (c *Config) LocalStoreDir() string {
	return filepath.Join(c.DataDir, "cas")
}

// HasCredentials reports whether a source account is configured.
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// Validate checks the options the node needs regardless of command.
// Credentials are checked separately by commands that crawl.
//
// The first problem found is returned.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrNoDataDir
	}
	if c.Interval <= 0 {
		return ErrInvalidInterval
	}
	if c.OracleURL == "" && c.RoundDuration <= 0 {
		return ErrInvalidRoundDuration
	}
	if c.OracleURL != "" && !isHTTPURL(c.OracleURL) {
		return ErrInvalidOracleURL
	}
	if c.KeywordURL != "" && !isHTTPURL(c.KeywordURL) {
		return ErrInvalidKeywordURL
	}
	switch c.Storage {
	case StorageKubo:
		if !isHTTPURL(c.KuboAPI) {
			return ErrInvalidKuboAPI
		}
	case StorageLocal:
	default:
		return ErrUnknownStorage
	}
	for _, p := range c.Peers {
		if !isHTTPURL(p) {
			return &PeerError{Peer: p}
		}
	}
	if _, err := roundstore.ParsePolicy(c.DedupPolicy); err != nil {
		return ErrUnknownDedupPolicy
	}
	if c.Samples <= 0 {
		return ErrInvalidSamples
	}
	if c.SampleDelay < 0 {
		return ErrInvalidSampleDelay
	}
	if c.MaxIterations <= 0 {
		return ErrInvalidMaxIterations
	}
	if c.PeerConcurrency <= 0 {
		return ErrInvalidPeerConcurrency
	}
	if c.AuditLag < 0 {
		return ErrInvalidAuditLag
	}
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}
	return nil
}

// ValidateCredentials returns ErrNoCredentials when no source account is set.
func (c *Config) ValidateCredentials() error {
	if !c.HasCredentials() {
		return ErrNoCredentials
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
