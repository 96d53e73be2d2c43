package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"github.com/vastlab/vastctl/internal/errors"
)

// ConfigFileName is the config file name inside the vastctl home dir.
const ConfigFileName = "config.yaml"

// Load reads config from the specified path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Run 'vastctl init' to create one, or specify a path with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. $VASTCTL_HOME/config.yaml
// 3. ~/.vastctl/config.yaml
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	path := filepath.Join(HomeDir(), ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	return "", nil
}

// LoadOrDefault loads config from the found path, or returns defaults if not
// found. Commands like 'vastctl init' need to work before any config exists.
func LoadOrDefault(explicit string) (*Config, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, err
	}

	if path == "" {
		cfg := DefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	return Load(path)
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, path string) (*Config, error) {
	cfg := DefaultConfig()

	setDefaults(v, cfg)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	cfg.Home = HomeDir()
	cfg.SSH.KeyPath = Expand(cfg.SSH.KeyPath)
	cfg.Backup.Dir = Expand(cfg.Backup.Dir)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// setDefaults seeds viper so that keys absent from the file keep the
// built-in values. Viper parses duration strings like "60s" into the
// time.Duration fields during Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("provider.base_url", cfg.Provider.BaseURL)
	v.SetDefault("provider.timeout", cfg.Provider.Timeout.String())
	v.SetDefault("provider.freshness", cfg.Provider.Freshness.String())
	v.SetDefault("provider.poll_interval", cfg.Provider.PollInterval.String())
	v.SetDefault("provider.verify_mutations", cfg.Provider.VerifyMutations)
	v.SetDefault("ssh.key_path", cfg.SSH.KeyPath)
	v.SetDefault("ssh.user", cfg.SSH.User)
	v.SetDefault("ssh.connect_timeout", cfg.SSH.ConnectTimeout.String())
	v.SetDefault("ssh.tmux_session", cfg.SSH.TmuxSession)
	v.SetDefault("defaults.gpu_type", cfg.Defaults.GPUType)
	v.SetDefault("defaults.gpus", cfg.Defaults.GPUs)
	v.SetDefault("defaults.disk_gb", cfg.Defaults.DiskGB)
	v.SetDefault("defaults.image", cfg.Defaults.Image)
	v.SetDefault("defaults.project", cfg.Defaults.Project)
	v.SetDefault("backup.dir", cfg.Backup.Dir)
	v.SetDefault("backup.workspace", cfg.Backup.Workspace)
	v.SetDefault("env.auto_inject", cfg.Env.AutoInject)
}

// applyEnvOverrides layers process environment on top of file config.
// The API key is commonly supplied via environment rather than on disk.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("VAST_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
}

// Expand resolves a leading ~ to the user's home directory.
func Expand(path string) string {
	if path == "~" {
		return userHome()
	}
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(userHome(), path[2:])
	}
	return path
}
