// Package config handles TOML configuration loading with environment variable substitution.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Diablofan/taiga/internal/library"
	"github.com/Diablofan/taiga/internal/reconcile"
	syncer "github.com/Diablofan/taiga/internal/sync"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig              `toml:"server"`
	Database  DatabaseConfig            `toml:"database"`
	Sync      SyncConfig                `toml:"sync"`
	Providers map[string]ProviderConfig `toml:"providers"`
}

type ServerConfig struct {
	LogLevel string `toml:"log_level"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`

	// EventRetention bounds the activity log. The daemon prunes older
	// events on startup.
	EventRetention duration `toml:"event_retention"`
}

type SyncConfig struct {
	Interval       duration `toml:"interval"`
	MaxRetries     int      `toml:"max_retries"`
	RetryBackoff   duration `toml:"retry_backoff"`
	RefreshHorizon duration `toml:"refresh_horizon"`
	MatchThreshold float64  `toml:"match_threshold"`
}

type ProviderConfig struct {
	Enabled       bool   `toml:"enabled"`
	ClientID      string `toml:"client_id"`
	ClientSecret  string `toml:"client_secret"`
	Username      string `toml:"username"`
	RedirectURI   string `toml:"redirect_uri"`
	TitleLanguage string `toml:"title_language"`
}

// duration lets TOML carry values like "30m" or "1h".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = duration(v)
	return nil
}

func (d duration) Std() time.Duration { return time.Duration(d) }

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Substitute environment variables
	content := substituteEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(content, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Apply defaults
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/taiga.db"
	}
	if cfg.Database.EventRetention == 0 {
		cfg.Database.EventRetention = duration(30 * 24 * time.Hour)
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = duration(30 * time.Minute)
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 2
	}
	if cfg.Sync.RetryBackoff == 0 {
		cfg.Sync.RetryBackoff = duration(time.Second)
	}
	if cfg.Sync.RefreshHorizon == 0 {
		cfg.Sync.RefreshHorizon = duration(time.Hour)
	}
	if cfg.Sync.MatchThreshold == 0 {
		cfg.Sync.MatchThreshold = reconcile.DefaultMatchThreshold
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	enabled := 0
	for name, p := range c.Providers {
		switch library.ProviderID(name) {
		case library.ProviderAniList, library.ProviderMyAnimeList:
		default:
			return fmt.Errorf("config: unknown provider %q", name)
		}
		if !p.Enabled {
			continue
		}
		enabled++
		if p.ClientID == "" {
			return fmt.Errorf("config: provider %s: client_id is required", name)
		}
		switch p.TitleLanguage {
		case "", string(syncer.TitleCanonical), string(syncer.TitleEnglish), string(syncer.TitleRomanized):
		default:
			return fmt.Errorf("config: provider %s: invalid title_language %q", name, p.TitleLanguage)
		}
		if library.ProviderID(name) == library.ProviderAniList && p.Username == "" {
			return fmt.Errorf("config: provider %s: username is required", name)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("config: no providers enabled")
	}
	return nil
}

// Enabled returns the enabled provider IDs in stable order.
func (c *Config) Enabled() []library.ProviderID {
	var ids []library.ProviderID
	for _, id := range []library.ProviderID{library.ProviderAniList, library.ProviderMyAnimeList} {
		if p, ok := c.Providers[string(id)]; ok && p.Enabled {
			ids = append(ids, id)
		}
	}
	return ids
}

// Lang returns the provider's configured title language, defaulting to
// romanized.
func (p ProviderConfig) Lang() syncer.TitleLanguage {
	if p.TitleLanguage == "" {
		return syncer.TitleRomanized
	}
	return syncer.TitleLanguage(p.TitleLanguage)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1] // Strip ${ and }
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match // Leave unchanged if not found
	})
}
