// Package config loads pergit settings from .pergit.toml, PERGIT_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Default values.
const (
	DefaultTagPrefix    = "p4"
	DefaultPollInterval = time.Minute
	DefaultDebounce     = 2 * time.Second
	DefaultLogMaxSizeMB = 20
	DefaultLogBackups   = 3
	DefaultLogMaxAge    = 30
	DefaultJournalPath  = ".git/pergit/journal.db"
)

// Validation errors.
var (
	ErrMissingBranch          = errors.New("branch is required")
	ErrMissingDepotPath       = errors.New("depot_path is required")
	ErrInvalidDepotPath       = errors.New("depot_path must be in depot syntax (//depot/path)")
	ErrInvalidTagPrefix       = errors.New("invalid tag_prefix")
	ErrInvalidStartChangelist = errors.New("start_changelist must not be negative")
	ErrInvalidWatchInterval   = errors.New("watch intervals must be positive")
)

// Config is the top-level pergit configuration.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	// Branch is the git branch kept in sync
	Branch string `mapstructure:"branch"`

	// DepotPath is the synchronized depot directory (//depot/project)
	DepotPath string `mapstructure:"depot_path"`

	// TagPrefix names checkpoint tags <prefix>-<changelist>
	TagPrefix string `mapstructure:"tag_prefix"`

	// WorkTree is the git work tree; empty means the current directory
	WorkTree string `mapstructure:"work_tree"`

	// StartChangelist is where a new branch starts importing from
	StartChangelist int `mapstructure:"start_changelist"`

	StripComments bool `mapstructure:"strip_comments"`
	AutoSubmit    bool `mapstructure:"auto_submit"`
	RevertOpened  bool `mapstructure:"revert_opened"`

	// CleanWorkspace runs `p4 clean` on the depot path before a run,
	// deleting local files unknown to perforce unless P4IGNORE lists them
	CleanWorkspace bool `mapstructure:"clean_workspace"`

	P4      P4Config      `mapstructure:"p4"`
	Log     LogConfig     `mapstructure:"log"`
	Journal JournalConfig `mapstructure:"journal"`
	Watch   WatchConfig   `mapstructure:"watch"`
}

// P4Config holds Perforce connection settings. Empty values fall back to
// the p4 environment (P4PORT, P4CONFIG, tickets ...).
type P4Config struct {
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Client   string `mapstructure:"client"`
	Password string `mapstructure:"password"`
	Charset  string `mapstructure:"charset"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Verbose    bool   `mapstructure:"verbose"`
}

// JournalConfig holds the run history database settings.
type JournalConfig struct {
	// Path is relative to the work tree unless absolute; empty disables it
	Path string `mapstructure:"path"`
}

// WatchConfig holds `pergit watch` settings.
type WatchConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Debounce     time.Duration `mapstructure:"debounce"`

	// Dashboard is the WebSocket listen address; empty disables it
	Dashboard string `mapstructure:"dashboard"`
}

var tagPrefixRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate checks the settings a synchronization needs.
func (c *Config) Validate() error {
	if c.Branch == "" {
		return ErrMissingBranch
	}
	if c.DepotPath == "" {
		return ErrMissingDepotPath
	}
	if !strings.HasPrefix(c.DepotPath, "//") || strings.ContainsAny(c.DepotPath, "@#*%") {
		return fmt.Errorf("%w: %q", ErrInvalidDepotPath, c.DepotPath)
	}
	if !tagPrefixRe.MatchString(c.TagPrefix) || strings.HasSuffix(c.TagPrefix, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidTagPrefix, c.TagPrefix)
	}
	if c.StartChangelist < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidStartChangelist, c.StartChangelist)
	}
	if c.Watch.PollInterval <= 0 || c.Watch.Debounce <= 0 {
		return ErrInvalidWatchInterval
	}
	return nil
}

// DepotRoot returns the depot path without a trailing "/...".
func (c *Config) DepotRoot() string {
	return strings.TrimSuffix(strings.TrimSuffix(c.DepotPath, "/..."), "/")
}
