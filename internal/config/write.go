package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vastlab/vastctl/internal/errors"
)

// WriteFile serializes cfg to path, creating parent directories as needed.
// Durations are written as strings ("60s") so the file round-trips through
// viper cleanly. The API key is omitted when it came from the environment.
func WriteFile(cfg *Config, path string, keyFromEnv bool) error {
	doc := map[string]any{
		"provider": map[string]any{
			"base_url":         cfg.Provider.BaseURL,
			"timeout":          cfg.Provider.Timeout.String(),
			"freshness":        cfg.Provider.Freshness.String(),
			"poll_interval":    cfg.Provider.PollInterval.String(),
			"verify_mutations": cfg.Provider.VerifyMutations,
		},
		"ssh": map[string]any{
			"key_path":        cfg.SSH.KeyPath,
			"user":            cfg.SSH.User,
			"connect_timeout": cfg.SSH.ConnectTimeout.String(),
			"strict_host_key": cfg.SSH.StrictHostKey,
			"tmux_session":    cfg.SSH.TmuxSession,
		},
		"defaults": map[string]any{
			"gpu_type": cfg.Defaults.GPUType,
			"gpus":     cfg.Defaults.GPUs,
			"disk_gb":  cfg.Defaults.DiskGB,
			"image":    cfg.Defaults.Image,
			"project":  cfg.Defaults.Project,
		},
		"backup": map[string]any{
			"dir":       cfg.Backup.Dir,
			"workspace": cfg.Backup.Workspace,
			"include":   cfg.Backup.Include,
		},
		"env": map[string]any{
			"prefixes":    cfg.Env.Prefixes,
			"auto_inject": cfg.Env.AutoInject,
		},
	}

	if cfg.Provider.APIKey != "" && !keyFromEnv {
		doc["provider"].(map[string]any)["api_key"] = cfg.Provider.APIKey
	}

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to encode config", "")
	}
	encoder.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to create config directory",
			"Check permissions on "+filepath.Dir(path))
	}

	if err := os.WriteFile(path, []byte(buf.String()), 0o600); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to write config file",
			"Check permissions on "+path)
	}

	return nil
}
