// Package config loads and validates tracker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fetch modes supported by the versioner client.
const (
	FetchModeStructure = "structure"
	FetchModeFull      = "full"
)

// snapshotDateLayout is the wire format for configured snapshot dates.
const snapshotDateLayout = "2006-01-02"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the read-only HTTP surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// FetchConfig configures the upstream versioner client and retry behavior.
type FetchConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	Mode             string `mapstructure:"mode"`
	UserAgent        string `mapstructure:"user_agent"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	PolitenessMs     int    `mapstructure:"politeness_ms"`
}

// SyncConfig governs the snapshot synchronization pass.
type SyncConfig struct {
	SnapshotDates []string `mapstructure:"snapshot_dates"`
	AgencyLimit   int      `mapstructure:"agency_limit"`
	ArchiveRaw    bool     `mapstructure:"archive_raw"`
}

// StorageConfig sets paths and content types for raw-content archival.
type StorageConfig struct {
	GCSBucket   string `mapstructure:"gcs_bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REGVEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("fetch.base_url", "https://www.ecfr.gov")
	v.SetDefault("fetch.mode", FetchModeStructure)
	v.SetDefault("fetch.user_agent", "regvelocity-bot/0.1")
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("fetch.politeness_ms", 1000)
	v.SetDefault("sync.snapshot_dates", []string{
		"2025-06-30", "2024-06-30", "2023-06-30", "2022-06-30", "2021-06-30",
	})
	v.SetDefault("sync.agency_limit", 0)
	v.SetDefault("sync.archive_raw", false)
	v.SetDefault("storage.prefix", "titles")
	v.SetDefault("storage.content_type", "application/xml")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Fetch.Mode != FetchModeStructure && c.Fetch.Mode != FetchModeFull {
		return fmt.Errorf("fetch.mode must be %q or %q", FetchModeStructure, FetchModeFull)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.PolitenessMs < 0 {
		return fmt.Errorf("fetch.politeness_ms must be >= 0")
	}
	if c.Sync.AgencyLimit < 0 {
		return fmt.Errorf("sync.agency_limit must be >= 0")
	}
	if len(c.Sync.SnapshotDates) == 0 {
		return fmt.Errorf("sync.snapshot_dates must not be empty")
	}
	if _, err := c.SnapshotDates(); err != nil {
		return err
	}
	return nil
}

// SnapshotDates parses the configured dates and returns them most-recent first.
func (c Config) SnapshotDates() ([]time.Time, error) {
	out := make([]time.Time, 0, len(c.Sync.SnapshotDates))
	for _, raw := range c.Sync.SnapshotDates {
		d, err := time.Parse(snapshotDateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("parse sync.snapshot_dates entry %q: %w", raw, err)
		}
		out = append(out, d)
	}
	for i := 1; i < len(out); i++ {
		if out[i].After(out[i-1]) {
			return nil, fmt.Errorf("sync.snapshot_dates must be ordered most-recent first (%s after %s)",
				c.Sync.SnapshotDates[i], c.Sync.SnapshotDates[i-1])
		}
	}
	return out, nil
}

// FetchTimeout converts the timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// BackoffInitial returns the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Fetch.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Fetch.BackoffMaxMs) * time.Millisecond
}

// PolitenessInterval returns the mandatory delay between upstream requests.
func (c Config) PolitenessInterval() time.Duration {
	return time.Duration(c.Fetch.PolitenessMs) * time.Millisecond
}
