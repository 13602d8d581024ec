package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the config file `pergit init` writes.
const FileName = configName + "." + configType

// Write saves cfg as a TOML file readable by Load. The p4 password is
// never written; use a ticket or P4PASSWD instead.
func Write(path string, cfg *Config) error {
	doc := map[string]any{
		"branch":           cfg.Branch,
		"depot_path":       cfg.DepotPath,
		"tag_prefix":       cfg.TagPrefix,
		"start_changelist": cfg.StartChangelist,
		"strip_comments":   cfg.StripComments,
		"auto_submit":      cfg.AutoSubmit,
		"revert_opened":    cfg.RevertOpened,
		"clean_workspace":  cfg.CleanWorkspace,
		"log": map[string]any{
			"max_size_mb":  cfg.Log.MaxSizeMB,
			"max_backups":  cfg.Log.MaxBackups,
			"max_age_days": cfg.Log.MaxAgeDays,
			"verbose":      cfg.Log.Verbose,
		},
		"watch": map[string]any{
			"poll_interval": cfg.Watch.PollInterval.String(),
			"debounce":      cfg.Watch.Debounce.String(),
		},
	}
	if cfg.WorkTree != "" {
		doc["work_tree"] = cfg.WorkTree
	}
	if cfg.Log.File != "" {
		doc["log"].(map[string]any)["file"] = cfg.Log.File
	}
	if cfg.Watch.Dashboard != "" {
		doc["watch"].(map[string]any)["dashboard"] = cfg.Watch.Dashboard
	}
	if cfg.Journal.Path != "" {
		doc["journal"] = map[string]any{"path": cfg.Journal.Path}
	}

	p4 := map[string]any{}
	for key, value := range map[string]string{
		"port":    cfg.P4.Port,
		"user":    cfg.P4.User,
		"client":  cfg.P4.Client,
		"charset": cfg.P4.Charset,
	} {
		if value != "" {
			p4[key] = value
		}
	}
	if len(p4) > 0 {
		doc["p4"] = p4
	}

	var buf bytes.Buffer
	buf.WriteString("# pergit configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
