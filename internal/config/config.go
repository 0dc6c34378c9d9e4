// Package config loads and validates the TOML configuration file that
// drives a ghmirror run: the database path, the repositories to
// mirror, the credential pool, and the global request budget.
package config

import (
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/ghsync/ghmirror/internal/budget"
	"github.com/ghsync/ghmirror/internal/creds"
	"github.com/ghsync/ghmirror/internal/model"
)

// Config is the parsed, validated contents of a ghmirror TOML config
// file.
type Config struct {
	// DBPath is the path to the SQLite database file; created and
	// migrated on open if it does not already exist.
	DBPath string `toml:"db_path"`

	// Repos lists the repositories to mirror, each written "org/name".
	Repos []string `toml:"repos"`

	// RequestsPerHour is the request budget per credential. The CLI
	// multiplies it by the credential pool size to get the global budget
	// shared across the Update, Comments, and Index categories by their
	// fixed shares.
	RequestsPerHour int `toml:"requests_per_hour"`

	// Credentials is the pool of client identities used in rotation.
	// At least one is required; mutually exclusive with CredentialsFile
	// only in the sense that CredentialsFile, when set, is the source
	// of truth at startup and Credentials seeds nothing.
	Credentials []CredentialEntry `toml:"credentials"`

	// CredentialsFile, if set, is watched for changes and hot-reloads
	// the credential pool; its initial contents are loaded at startup
	// instead of Credentials.
	CredentialsFile string `toml:"credentials_file"`

	// TickInterval is how often the orchestrator's main loop wakes to
	// drain the rate budgeter. Defaults to 5s.
	TickInterval time.Duration `toml:"tick_interval"`

	// RefreshInterval is how often New-list requests are re-seeded for
	// every configured repo. Defaults to 60s.
	RefreshInterval time.Duration `toml:"refresh_interval"`
}

// CredentialEntry is one client identity in the TOML credentials array.
type CredentialEntry struct {
	Identity string `toml:"identity"`
	Secret   string `toml:"secret"`
}

const (
	defaultTickInterval    = 5 * time.Second
	defaultRefreshInterval = 60 * time.Second
)

// Load reads the TOML config file at path through viper, fills in the
// default intervals, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	decodeDuration := func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}
	if err := v.Unmarshal(&cfg, decodeDuration); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}

	if cfg.TickInterval == 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.RefreshInterval == 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks a decoded Config for internal consistency: a
// non-empty database path, at least one parseable repo, a non-empty
// credential source, and budget shares that sum to one.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if len(c.Repos) == 0 {
		return fmt.Errorf("at least one repo is required")
	}
	if _, err := c.ParsedRepos(); err != nil {
		return err
	}
	if c.CredentialsFile == "" && len(c.Credentials) == 0 {
		return fmt.Errorf("credentials or credentials_file is required")
	}
	if c.RequestsPerHour <= 0 {
		return fmt.Errorf("requests_per_hour must be positive")
	}
	if err := budget.Validate(); err != nil {
		return err
	}
	return nil
}

// ParsedRepos parses every "org/name" entry in Repos into a model.Repo,
// failing fast on the first malformed entry.
func (c *Config) ParsedRepos() ([]model.Repo, error) {
	repos := make([]model.Repo, 0, len(c.Repos))
	for _, raw := range c.Repos {
		parts := strings.SplitN(raw, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("malformed repo %q, want \"org/name\"", raw)
		}
		repos = append(repos, model.Repo{Organization: parts[0], Name: parts[1]})
	}
	return repos, nil
}

// InitialCredentials returns the credential pool's starting contents:
// CredentialsFile's contents if set, else the inline Credentials array.
func (c *Config) InitialCredentials() ([]creds.Credential, error) {
	if c.CredentialsFile != "" {
		return creds.LoadFile(c.CredentialsFile)
	}
	out := make([]creds.Credential, 0, len(c.Credentials))
	for _, e := range c.Credentials {
		out = append(out, creds.Credential{Identity: e.Identity, Secret: e.Secret})
	}
	return out, nil
}
