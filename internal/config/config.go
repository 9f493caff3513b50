package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"cfpradar/internal/store"
)

// Resolution modes for duplicate groups.
const (
	ResolutionPositive = "positive"
	ResolutionHighest  = "highest"
)

// FetchConfig controls the network side of the collect stage.
type FetchConfig struct {
	// Timeout bounds a single request attempt.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Retries is the number of extra attempts after the first failure.
	Retries int `yaml:"retries" json:"retries"`
	// RetryBackoff is the initial wait between attempts; it doubles per retry.
	RetryBackoff time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	// Workers bounds how many sources are fetched at once. 1 = sequential.
	Workers int `yaml:"workers" json:"workers"`
	// UserAgent is sent on every request.
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// CacheDir enables the ETag/Last-Modified cache when non-empty.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// RenderTimeout bounds headless rendering of HTML sources.
	RenderTimeout time.Duration `yaml:"render_timeout" json:"render_timeout"`
}

// NormalizeConfig controls extraction.
type NormalizeConfig struct {
	// HorizonDays limits recurrence expansion of ICS events into the future.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
}

// DedupeConfig controls duplicate grouping and resolution.
type DedupeConfig struct {
	// Resolution is "positive" (candidate with any positive score replaces
	// the current best) or "highest" (strictly higher score wins).
	Resolution string `yaml:"resolution" json:"resolution"`
	// TitleSimilarity is the exclusive lower bound for fuzzy title matches.
	TitleSimilarity float64 `yaml:"title_similarity" json:"title_similarity"`
	// CityWindow is the max start-time distance for same-city matches.
	CityWindow time.Duration `yaml:"city_window" json:"city_window"`
	// TrustedSources are source-id substrings that earn a score bonus.
	TrustedSources []string `yaml:"trusted_sources" json:"trusted_sources"`
}

// Config is the top-level application configuration.
type Config struct {
	// DataDir holds pipeline-internal artifacts (raw, normalized, events.json).
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// PublicDir receives the artifacts consumed by the presentation layer.
	PublicDir string `yaml:"public_dir" json:"public_dir"`

	// SourcesFile is the optional catalog override. When empty or missing,
	// the built-in catalog is used.
	SourcesFile string `yaml:"sources_file" json:"sources_file"`

	// Timezone is the IANA zone used for calendar-day and month boundaries.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Schedule is a cron-style schedule string used by `watch`.
	Schedule string `yaml:"schedule" json:"schedule"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// MetricsFile, if set, receives a Prometheus textfile after each run.
	MetricsFile string `yaml:"metrics_file,omitempty" json:"metrics_file,omitempty"`

	Fetch         FetchConfig     `yaml:"fetch" json:"fetch"`
	Normalization NormalizeConfig `yaml:"normalize" json:"normalize"`
	Dedupe        DedupeConfig    `yaml:"dedupe" json:"dedupe"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{Fetch: FetchConfig{Retries: 1}}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.PublicDir == "" {
		c.PublicDir = "public"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		c.Schedule = "0 */6 * * *"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat != "json" {
		c.LogFormat = "text"
	}

	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.Retries < 0 {
		c.Fetch.Retries = 0
	}
	if c.Fetch.RetryBackoff <= 0 {
		c.Fetch.RetryBackoff = time.Second
	}
	if c.Fetch.Workers <= 0 {
		c.Fetch.Workers = 1
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "CFP-Radar-LATAM/1.0"
	}
	if c.Fetch.RenderTimeout <= 0 {
		c.Fetch.RenderTimeout = 45 * time.Second
	}

	if c.Normalization.HorizonDays <= 0 {
		c.Normalization.HorizonDays = 365
	}

	switch c.Dedupe.Resolution {
	case ResolutionPositive, ResolutionHighest:
	default:
		c.Dedupe.Resolution = ResolutionPositive
	}
	if c.Dedupe.TitleSimilarity <= 0 || c.Dedupe.TitleSimilarity >= 1 {
		c.Dedupe.TitleSimilarity = 0.8
	}
	if c.Dedupe.CityWindow <= 0 {
		c.Dedupe.CityWindow = 24 * time.Hour
	}
	if c.Dedupe.TrustedSources == nil {
		c.Dedupe.TrustedSources = []string{"gdg", "owasp", "aws"}
	}
}

// Location resolves Timezone, falling back to UTC for unknown zones.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone)); err == nil {
		return loc
	}
	return time.UTC
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal over DefaultConfig
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	// Keys missing from the file keep their defaults.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save normalizes cfg and writes it as YAML with 0600 perms, replacing
// any existing file atomically.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return store.WriteFile(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
