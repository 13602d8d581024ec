package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".pergit"

// configType is the config file format.
const configType = "toml"

// envPrefix is the environment variable prefix for pergit settings.
const envPrefix = "PERGIT"

// flagKeys maps config keys to the command line flags that override them.
var flagKeys = map[string]string{
	"branch":           "branch",
	"depot_path":       "depot-path",
	"tag_prefix":       "tag-prefix",
	"work_tree":        "work-tree",
	"start_changelist": "changelist",
	"strip_comments":   "strip-comments",
	"auto_submit":      "auto-submit",
	"revert_opened":    "revert-opened",
	"clean_workspace":  "clean",
	"p4.port":          "p4-port",
	"p4.user":          "p4-user",
	"p4.client":        "p4-client",
	"p4.password":      "p4-password",
	"log.file":         "log-file",
	"log.verbose":      "verbose",
	"journal.path":     "journal",
	"watch.dashboard":  "dashboard",
}

// LoadOptions controls where settings are read from.
type LoadOptions struct {
	// ConfigPath is an explicit config file; it must exist
	ConfigPath string

	// SearchDirs are searched for .pergit.toml when ConfigPath is empty
	SearchDirs []string

	// Flags overrides settings for flags the user changed
	Flags *pflag.FlagSet

	// Overrides are applied last (positional arguments)
	Overrides map[string]any

	// SkipValidation returns the settings as loaded; used by `pergit init`
	SkipValidation bool
}

// Load reads the configuration: overrides, then flags, then PERGIT_*
// environment variables, then the config file, then defaults.
// A missing config file is not an error when searching.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigPath != "" {
		v.SetConfigFile(opts.ConfigPath)
	} else {
		v.SetConfigName(configName)
		for _, dir := range opts.SearchDirs {
			v.AddConfigPath(dir)
		}
	}

	if opts.ConfigPath != "" || len(opts.SearchDirs) > 0 {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if opts.Flags != nil {
		for key, name := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if !opts.SkipValidation {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validate config: %w", err)
		}
	}

	return &cfg, nil
}

// ConfigFileUsed is the file Load reads for the given options, or empty.
func ConfigFileUsed(opts LoadOptions) string {
	v := viper.New()
	v.SetConfigType(configType)
	if opts.ConfigPath != "" {
		return opts.ConfigPath
	}
	v.SetConfigName(configName)
	for _, dir := range opts.SearchDirs {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		return ""
	}
	return v.ConfigFileUsed()
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("branch", "")
	v.SetDefault("depot_path", "")
	v.SetDefault("tag_prefix", DefaultTagPrefix)
	v.SetDefault("work_tree", "")
	v.SetDefault("start_changelist", 0)
	v.SetDefault("strip_comments", false)
	v.SetDefault("auto_submit", false)
	v.SetDefault("revert_opened", true)
	v.SetDefault("clean_workspace", false)

	v.SetDefault("p4.port", "")
	v.SetDefault("p4.user", "")
	v.SetDefault("p4.client", "")
	v.SetDefault("p4.password", "")
	v.SetDefault("p4.charset", "")

	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", DefaultLogMaxSizeMB)
	v.SetDefault("log.max_backups", DefaultLogBackups)
	v.SetDefault("log.max_age_days", DefaultLogMaxAge)
	v.SetDefault("log.verbose", false)

	v.SetDefault("journal.path", DefaultJournalPath)

	v.SetDefault("watch.poll_interval", DefaultPollInterval)
	v.SetDefault("watch.debounce", DefaultDebounce)
	v.SetDefault("watch.dashboard", "")
}
