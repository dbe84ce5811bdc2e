// Package config loads the aggregator's YAML configuration, following
// default-then-file-then-env precedence.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vpnagg/aggregator/internal/xerrors"
	"github.com/vpnagg/aggregator/pkg/output"
)

// Config is the aggregator's root configuration.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Fetch      FetchConfig      `yaml:"fetch"`
	Validate   ValidateConfig   `yaml:"validate"`
	Test       TestConfig       `yaml:"test"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Output     OutputConfig     `yaml:"output"`
	Cache      CacheConfig      `yaml:"cache"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Execution  ExecutionConfig  `yaml:"execution"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
}

// LoggingConfig mirrors internal/telemetry/log.Config in YAML form.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FetchConfig tunes pkg/fetcher.Config.
type FetchConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	Retries          int           `yaml:"retries"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	RateLimit        float64       `yaml:"rate_limit"`
	RateBurst        int           `yaml:"rate_burst"`
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	Proxy            string        `yaml:"proxy"`
}

// ValidateConfig tunes source validation acceptance.
type ValidateConfig struct {
	MinScore float64 `yaml:"min_score"`
}

// TestConfig tunes pkg/tester.Config.
type TestConfig struct {
	Enabled                bool              `yaml:"enabled"`
	ConcurrencyPerProtocol int               `yaml:"concurrency_per_protocol"`
	Timeout                time.Duration     `yaml:"timeout"`
	MaxPingMS              int               `yaml:"max_ping_ms"`
	AppProbes              map[string]string `yaml:"app_probes"`
}

// DedupConfig tunes pkg/dedup filters and Bloom sizing.
type DedupConfig struct {
	TLSFragment      string   `yaml:"tls_fragment"`
	IncludeProtocols []string `yaml:"include_protocols"`
	ExcludeProtocols []string `yaml:"exclude_protocols"`
	IncludeCountries []string `yaml:"include_countries"`
	ExcludeCountries []string `yaml:"exclude_countries"`
	IncludeRegexes   []string `yaml:"include_regexes"`
	ExcludeRegexes   []string `yaml:"exclude_regexes"`
	ExpectedCapacity int      `yaml:"expected_capacity"`
	TargetFPR        float64  `yaml:"target_fpr"`
}

// OutputConfig tunes pkg/output.
type OutputConfig struct {
	Dir     string   `yaml:"dir"`
	Formats []string `yaml:"formats"`
}

// CacheConfig tunes pkg/cache.Config.
type CacheConfig struct {
	L1MaxEntries int   `yaml:"l1_max_entries"`
	L1MaxBytes   int64 `yaml:"l1_max_bytes"`
	L2Bytes      int   `yaml:"l2_bytes"`
}

// DiscoveryConfig tunes pkg/discovery.
type DiscoveryConfig struct {
	SeedListPath  string `yaml:"seed_list_path"`
	ChannelsPath  string `yaml:"channels_path"`
	GithubToken   string `yaml:"-"`
	DiscoveryCap  int    `yaml:"discovery_cap"`
}

// GeoIPConfig points at an optional local MaxMind GeoLite2 country database.
// Leaving DBPath empty disables country enrichment entirely.
type GeoIPConfig struct {
	DBPath string `yaml:"db_path"`
}

// ExecutionConfig tunes orchestrator-level budgets.
type ExecutionConfig struct {
	ConcurrentLimit int           `yaml:"concurrent_limit"`
	FetchCap        int           `yaml:"fetch_cap"`
	WallClockCap    time.Duration `yaml:"wall_clock_cap"`
	SkipNetwork     bool          `yaml:"-"`
}

// DefaultConfig returns a fully populated default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Fetch: FetchConfig{
			Timeout:          12 * time.Second,
			Retries:          3,
			BaseDelay:        time.Second,
			MaxDelay:         8 * time.Second,
			RateLimit:        5,
			RateBurst:        10,
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
			MaxBodyBytes:     2 * 1024 * 1024,
		},
		Validate: ValidateConfig{MinScore: 0.3},
		Test: TestConfig{
			Enabled:                false,
			ConcurrencyPerProtocol: 50,
			Timeout:                5 * time.Second,
			MaxPingMS:              1000,
			AppProbes: map[string]string{
				"google":     "https://www.google.com/generate_204",
				"cloudflare": "https://1.1.1.1/cdn-cgi/trace",
			},
		},
		Dedup: DedupConfig{ExpectedCapacity: 1_000_000, TargetFPR: 0.01},
		Output: OutputConfig{
			Dir:     "./output",
			Formats: []string{"all"},
		},
		Cache: CacheConfig{L1MaxEntries: 1000, L1MaxBytes: 100 * 1024 * 1024},
		Discovery: DiscoveryConfig{
			SeedListPath: "sources.yaml",
			DiscoveryCap: 200,
		},
		Execution: ExecutionConfig{
			ConcurrentLimit: 50,
			FetchCap:        200,
		},
	}
}

// Load applies default -> YAML file -> recognized environment variable
// precedence, expanding ${VAR} references in the raw YAML before parsing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = "config.yaml"
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.New(xerrors.KindIO, "reading config file", err)
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		return nil, xerrors.New(xerrors.KindConfig, "parsing config file", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VPN_CONCURRENT_LIMIT"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			cfg.Execution.ConcurrentLimit = n
		}
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.Discovery.GithubToken = v
	}
	if os.Getenv("SKIP_NETWORK") != "" || os.Getenv("CI") != "" {
		cfg.Execution.SkipNetwork = true
	}
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a non-negative integer: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

// Save writes the configuration back to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return xerrors.New(xerrors.KindIO, "marshaling config", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return xerrors.New(xerrors.KindIO, "writing config file", err)
	}
	return nil
}

// Validate fails fast on configuration that would otherwise surface as a
// confusing runtime error.
func (c *Config) Validate() error {
	if c.Output.Dir == "" {
		return xerrors.New(xerrors.KindConfig, "output.dir is required", nil)
	}
	if c.Execution.ConcurrentLimit < 1 {
		return xerrors.New(xerrors.KindConfig, "execution.concurrent_limit must be at least 1", nil)
	}
	if c.Fetch.Retries < 0 {
		return xerrors.New(xerrors.KindConfig, "fetch.retries must be non-negative", nil)
	}
	return nil
}

// ResolvedFormats parses c.Output.Formats (a list already split from the
// CLI's --formats flag, or the config file's formats list) into concrete
// output.Format values.
func (c *Config) ResolvedFormats() ([]output.Format, error) {
	if len(c.Output.Formats) == 1 {
		return output.ParseFormats(c.Output.Formats[0])
	}
	formats := make([]output.Format, 0, len(c.Output.Formats))
	for _, f := range c.Output.Formats {
		parsed, err := output.ParseFormats(f)
		if err != nil {
			return nil, err
		}
		formats = append(formats, parsed...)
	}
	return formats, nil
}
