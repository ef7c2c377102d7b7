// Package config loads the settings that govern where the index lives on
// disk and how aggressively it prunes and re-syncs.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds the settings the Index subsystem needs to run.
type Config struct {
	// MailRoot is the on-disk root of the Apple Mail store, containing one
	// directory per account.
	MailRoot string

	// DBPath is where the SQLite index file lives.
	DBPath string

	// IndexMaxEmails caps how many emails are retained per mailbox; the
	// oldest by date_received are evicted once the cap is exceeded.
	IndexMaxEmails int

	// StalenessHours is how long since the oldest mailbox's last_sync
	// before IsStale reports true.
	StalenessHours int

	// WatcherDebounceMs is how long the filesystem watcher waits after the
	// last observed change before triggering a re-sync.
	WatcherDebounceMs int
}

// StalenessThreshold returns StalenessHours as a time.Duration.
func (c *Config) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessHours) * time.Hour
}

// WatcherDebounce returns WatcherDebounceMs as a time.Duration.
func (c *Config) WatcherDebounce() time.Duration {
	return time.Duration(c.WatcherDebounceMs) * time.Millisecond
}

// Default returns the baseline configuration used when nothing in the
// environment or config file overrides it.
func Default() *Config {
	return &Config{
		MailRoot:          defaultMailRoot(),
		DBPath:            defaultDBPath(),
		IndexMaxEmails:    5000,
		StalenessHours:    24,
		WatcherDebounceMs: 500,
	}
}

// Load reads configuration from environment variables (prefixed
// MAILINDEX_) and, if present, a config file named mailindex.yaml/json/toml
// on the standard search path, falling back to Default for anything unset.
func Load() (*Config, error) {
	d := Default()

	v := viper.New()
	v.SetEnvPrefix("mailindex")
	v.AutomaticEnv()
	v.SetConfigName("mailindex")
	v.AddConfigPath(".")
	if cfgDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(cfgDir, "mailindex"))
	}

	v.SetDefault("mail_root", d.MailRoot)
	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("index_max_emails", d.IndexMaxEmails)
	v.SetDefault("staleness_hours", d.StalenessHours)
	v.SetDefault("watcher_debounce_ms", d.WatcherDebounceMs)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	return &Config{
		MailRoot:          v.GetString("mail_root"),
		DBPath:            v.GetString("db_path"),
		IndexMaxEmails:    v.GetInt("index_max_emails"),
		StalenessHours:    v.GetInt("staleness_hours"),
		WatcherDebounceMs: v.GetInt("watcher_debounce_ms"),
	}, nil
}

func defaultDBPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "mailindex.db"
	}
	return filepath.Join(dir, "mailindex", "index.db")
}

func defaultMailRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Library", "Mail")
}
