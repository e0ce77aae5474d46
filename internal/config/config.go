// Package config loads the summarizer configuration.
//
// A Config is loaded once at startup and handed by value to each component.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Generation backends.
const (
	BackendHost   = "host"
	BackendCustom = "custom"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreHost   = "http"
)

// CompactionPolicy selects how a big summary is written back.
type CompactionPolicy string

const (
	// PolicyAppend appends each compaction as a chapter of the big-summary entry.
	PolicyAppend CompactionPolicy = "append"
	// PolicyReplace replaces the small-summary entry with the distilled records.
	PolicyReplace CompactionPolicy = "replace"
)

// Valid reports whether p names a known policy.
func (p CompactionPolicy) Valid() bool {
	return p == PolicyAppend || p == PolicyReplace
}

type HostModel struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
}

type CustomEndpoint struct {
	URL         string  `yaml:"url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type Generation struct {
	Backend     string         `yaml:"backend"`
	Timeout     time.Duration  `yaml:"timeout"`
	MaxAttempts int            `yaml:"max_attempts"`
	Host        HostModel      `yaml:"host"`
	Custom      CustomEndpoint `yaml:"custom"`
}

type HostStore struct {
	URL       string        `yaml:"url"`
	CSRFToken string        `yaml:"csrf_token"`
	Timeout   time.Duration `yaml:"timeout"`
}

type Store struct {
	Backend    string    `yaml:"backend"`
	Name       string    `yaml:"name"`
	SQLitePath string    `yaml:"sqlite_path"`
	Host       HostStore `yaml:"host"`
}

// Summary holds the pipeline settings.
type Summary struct {
	Enabled          bool             `yaml:"-"`
	Store            string           `yaml:"-"`
	FloorRange       string           `yaml:"floor_range"`
	DefaultRange     string           `yaml:"default_range"`
	ExcludePattern   string           `yaml:"exclude_pattern"`
	SmallEntry       string           `yaml:"small_entry"`
	SmallAliases     []string         `yaml:"small_aliases"`
	BigEntry         string           `yaml:"big_entry"`
	SmallDepth       int              `yaml:"small_depth"`
	BigDepth         int              `yaml:"big_depth"`
	CompactionPolicy CompactionPolicy `yaml:"compaction_policy"`
	Timeout          time.Duration    `yaml:"timeout"`
	// LockFile makes the busy guard hold across processes. Empty keeps it in-process.
	LockFile string `yaml:"lock_file"`
}

type Config struct {
	Path string `yaml:"-"`

	Enabled    bool       `yaml:"enabled"`
	LogLevel   string     `yaml:"log_level"`
	Generation Generation `yaml:"generation"`
	Store      Store      `yaml:"store"`
	Summary    Summary    `yaml:"summary"`
}

// Pipeline returns the summary settings with the process-wide fields filled in.
func (c Config) Pipeline() Summary {
	s := c.Summary
	s.Enabled = c.Enabled
	s.Store = c.Store.Name
	return s
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Enabled:  true,
		LogLevel: "warn",
		Generation: Generation{
			Backend:     BackendHost,
			Timeout:     2 * time.Minute,
			MaxAttempts: 3,
			Host: HostModel{
				URL:   "http://localhost:11434",
				Model: "llama3.1",
			},
			Custom: CustomEndpoint{
				MaxTokens:   2000,
				Temperature: 0.7,
			},
		},
		Store: Store{
			Backend:    StoreSQLite,
			SQLitePath: filepath.Join(homeDir(), ".chat-summary", "memory.db"),
			Host: HostStore{
				URL:     "http://127.0.0.1:8000",
				Timeout: 30 * time.Second,
			},
		},
		Summary: Summary{
			FloorRange:       "0-10",
			DefaultRange:     "0-10",
			ExcludePattern:   `<thinking>[\s\S]*?</thinking>`,
			SmallEntry:       "Small Summary",
			BigEntry:         "Big Summary",
			SmallDepth:       4,
			BigDepth:         4,
			CompactionPolicy: PolicyAppend,
			Timeout:          3 * time.Minute,
			LockFile:         filepath.Join(homeDir(), ".chat-summary", "summary.lock"),
		},
	}
}

// DefaultPath is $CHAT_SUMMARY_CONFIG or ~/.chat-summary/config.yaml.
func DefaultPath() string {
	if env := os.Getenv("CHAT_SUMMARY_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(homeDir(), ".chat-summary", "config.yaml")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// Load reads path over the defaults, applies environment overrides and validates.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	cfg.Path = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHAT_SUMMARY_DB"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("CHAT_SUMMARY_STORE"); v != "" {
		cfg.Store.Name = v
	}
	if v := os.Getenv("CHAT_SUMMARY_API_URL"); v != "" {
		cfg.Generation.Custom.URL = v
	}
	if v := os.Getenv("CHAT_SUMMARY_API_KEY"); v != "" {
		cfg.Generation.Custom.APIKey = v
	}
	if v := os.Getenv("CHAT_SUMMARY_MODEL"); v != "" {
		cfg.Generation.Custom.Model = v
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Generation.Host.URL = v
	}
	if v := os.Getenv("CHAT_SUMMARY_LOCK_FILE"); v != "" {
		cfg.Summary.LockFile = v
	}
	if v := os.Getenv("CHAT_SUMMARY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func normalize(cfg *Config) {
	d := Default()
	if cfg.Summary.DefaultRange == "" {
		cfg.Summary.DefaultRange = d.Summary.DefaultRange
	}
	if cfg.Summary.FloorRange == "" {
		cfg.Summary.FloorRange = cfg.Summary.DefaultRange
	}
	if cfg.Summary.SmallEntry == "" {
		cfg.Summary.SmallEntry = d.Summary.SmallEntry
	}
	if cfg.Summary.BigEntry == "" {
		cfg.Summary.BigEntry = d.Summary.BigEntry
	}
	if cfg.Generation.MaxAttempts <= 0 {
		cfg.Generation.MaxAttempts = 1
	}
}

// Validate checks the settings that would otherwise fail late.
func (c Config) Validate() error {
	switch c.Generation.Backend {
	case BackendHost:
		if c.Generation.Host.Model == "" {
			return errors.New("generation.host.model is required for the host backend")
		}
	case BackendCustom:
		g := c.Generation.Custom
		if g.URL == "" || g.APIKey == "" || g.Model == "" {
			return errors.New("generation.custom requires url, api_key and model")
		}
	default:
		return fmt.Errorf("unknown generation.backend %q (valid: host, custom)", c.Generation.Backend)
	}

	switch c.Store.Backend {
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store.sqlite_path is required for the sqlite backend")
		}
	case StoreHost:
		if c.Store.Host.URL == "" {
			return errors.New("store.host.url is required for the http backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q (valid: sqlite, http)", c.Store.Backend)
	}

	if !c.Summary.CompactionPolicy.Valid() {
		return fmt.Errorf("unknown summary.compaction_policy %q (valid: append, replace)", c.Summary.CompactionPolicy)
	}
	if c.Generation.Timeout < 0 || c.Summary.Timeout < 0 {
		return errors.New("timeouts must be >= 0")
	}
	if c.Summary.SmallEntry == c.Summary.BigEntry {
		return errors.New("summary.small_entry and summary.big_entry must differ")
	}
	if slices.Contains(c.Summary.SmallAliases, c.Summary.BigEntry) {
		return fmt.Errorf("summary.small_aliases must not contain big_entry %q", c.Summary.BigEntry)
	}
	return nil
}
