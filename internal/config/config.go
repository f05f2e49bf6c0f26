// Package config loads the YAML configuration file, creating a default one
// on first run, and applies environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Source types.
const (
	SourceHTML = "html"
	SourceICS  = "ics"
)

// Selectors are CSS selectors used to pull fields out of an HTML listing.
// Item selects one element per event; the rest are relative to it.
type Selectors struct {
	Item        string `yaml:"item" json:"item"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Date        string `yaml:"date" json:"date"`
	Time        string `yaml:"time,omitempty" json:"time,omitempty"`
	Location    string `yaml:"location,omitempty" json:"location,omitempty"`
	Link        string `yaml:"link,omitempty" json:"link,omitempty"`
	Image       string `yaml:"image,omitempty" json:"image,omitempty"`
}

// SourceConfig describes one place events are scraped from.
type SourceConfig struct {
	ID       string   `yaml:"id" json:"id"`
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type" json:"type"`
	URL      string   `yaml:"url" json:"url"`
	School   string   `yaml:"school,omitempty" json:"school,omitempty"`
	Category []string `yaml:"category,omitempty" json:"category,omitempty"`

	Selectors *Selectors `yaml:"selectors,omitempty" json:"selectors,omitempty"`
}

// GoogleConfig holds the OAuth client. Usually supplied through the
// environment rather than written to disk.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id" json:"client_id"`
	ClientSecret string `yaml:"client_secret" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone used for date parsing and day boundaries.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Database is the sqlite file path.
	Database string `yaml:"database" json:"database"`

	PageSize   int `yaml:"page_size" json:"page_size"`
	QueryLimit int `yaml:"query_limit" json:"query_limit"`

	// AllowedDomain restricts sign-in to one e-mail domain.
	AllowedDomain string `yaml:"allowed_domain" json:"allowed_domain"`

	// BaseURL is the externally visible origin, used for the OAuth redirect.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// UIDDomain is the right-hand side of exported iCalendar UIDs.
	UIDDomain string `yaml:"uid_domain" json:"uid_domain"`

	SessionTTLMinutes int `yaml:"session_ttl_minutes" json:"session_ttl_minutes"`

	// ScrapeCron is a standard 5-field cron schedule for scraping.
	ScrapeCron string `yaml:"scrape_cron" json:"scrape_cron"`

	// HorizonDays bounds recurrence expansion of ICS sources.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// CacheDir holds the ICS conditional-fetch cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ClassifierRules optionally replaces the built-in category/tag rules.
	ClassifierRules string `yaml:"classifier_rules,omitempty" json:"classifier_rules,omitempty"`

	UserAgent string `yaml:"user_agent" json:"user_agent"`

	Google GoogleConfig `yaml:"google" json:"google"`

	// DevSignIn enables the e-mail form sign-in used for local development.
	// It never applies when a Google client is configured.
	DevSignIn bool `yaml:"dev_sign_in,omitempty" json:"dev_sign_in,omitempty"`

	Sources []SourceConfig `yaml:"sources" json:"sources"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:            "127.0.0.1:8080",
		Timezone:          "America/Detroit",
		Database:          "./var/campusevents.db",
		PageSize:          20,
		QueryLimit:        100,
		AllowedDomain:     "umich.edu",
		BaseURL:           "http://127.0.0.1:8080",
		UIDDomain:         "campusevents.local",
		SessionTTLMinutes: 7 * 24 * 60,
		ScrapeCron:        "0 */6 * * *",
		HorizonDays:       60,
		CacheDir:          "./var/ics-cache",
		UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
		Sources:           []SourceConfig{},
		LogLevel:          "info",
	}
}

// Normalize fills zero values with defaults so partial files still work.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.Database == "" {
		c.Database = def.Database
	}
	if c.PageSize <= 0 {
		c.PageSize = def.PageSize
	}
	if c.QueryLimit <= 0 {
		c.QueryLimit = def.QueryLimit
	}
	c.AllowedDomain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(c.AllowedDomain), "@"))
	if c.AllowedDomain == "" {
		c.AllowedDomain = def.AllowedDomain
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://" + c.Listen
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.UIDDomain == "" {
		c.UIDDomain = def.UIDDomain
	}
	if c.SessionTTLMinutes <= 0 {
		c.SessionTTLMinutes = def.SessionTTLMinutes
	}
	if c.ScrapeCron == "" {
		c.ScrapeCron = def.ScrapeCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.CacheDir == "" {
		c.CacheDir = def.CacheDir
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Sources == nil {
		c.Sources = []SourceConfig{}
	}
	for i := range c.Sources {
		s := &c.Sources[i]
		s.Type = strings.ToLower(strings.TrimSpace(s.Type))
		if s.Type == "" {
			s.Type = SourceHTML
			if strings.HasSuffix(strings.ToLower(s.URL), ".ics") {
				s.Type = SourceICS
			}
		}
		if s.Name == "" {
			s.Name = s.ID
		}
	}
}

// Validate reports configuration that cannot work at runtime.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	if c.AllowedDomain == "" {
		return errors.New("config: allowed_domain is required")
	}
	if strings.ContainsAny(c.AllowedDomain, "@ ") || !strings.Contains(c.AllowedDomain, ".") {
		return fmt.Errorf("config: allowed_domain %q is not a domain", c.AllowedDomain)
	}
	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		if s.ID == "" {
			return fmt.Errorf("config: sources[%d]: id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("config: duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		if s.URL == "" {
			return fmt.Errorf("config: source %q: url is required", s.ID)
		}
		switch s.Type {
		case SourceICS:
		case SourceHTML:
			if s.Selectors == nil || s.Selectors.Item == "" || s.Selectors.Title == "" || s.Selectors.Date == "" {
				return fmt.Errorf("config: source %q: html sources need item, title and date selectors", s.ID)
			}
		default:
			return fmt.Errorf("config: source %q: unknown type %q", s.ID, s.Type)
		}
	}
	return nil
}

// Location returns the configured zone, or time.Local when it cannot load.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Timezone); err == nil {
		return loc
	}
	return time.Local
}

// SessionTTL returns the session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// HasGoogle reports whether an OAuth client is configured.
func (c *Config) HasGoogle() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

// ValidateAuth reports whether the server has a sign-in provider: a Google
// client, or dev_sign_in explicitly enabled.
func (c *Config) ValidateAuth() error {
	if c.HasGoogle() || c.DevSignIn {
		return nil
	}
	return errors.New("config: no Google OAuth client configured; set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET, or enable dev_sign_in for local use")
}

// ApplyEnv loads a .env file next to the working directory (if any) and
// overrides secrets and a few deployment keys from the environment.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		c.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		c.Google.ClientSecret = v
	}
	if v := os.Getenv("CAMPUSEVENTS_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Load reads configuration from path. On first run (file missing) a default
// config is written with 0600 perms and returned.
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

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
// The OAuth client secret is never written.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	out := *cfg
	out.Google.ClientSecret = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".campusevents-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is shorthand for Save(path, c).
func (c *Config) Save(path string) error {
	return Save(path, c)
}
