package config

import (
	"fmt"
	"strings"

	"github.com/vastlab/vastctl/internal/errors"
)

// Validate checks the config for errors and returns structured error messages.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New(errors.ErrConfig,
			"Config is nil",
			"This is unexpected - try reloading the configuration.")
	}

	if err := validateProvider(cfg.Provider); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
			"Check the 'provider' section in "+ConfigFileName+".")
	}

	if err := validateSSH(cfg.SSH); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
			"Check the 'ssh' section in "+ConfigFileName+".")
	}

	if err := validateDefaults(cfg.Defaults); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
			"Check the 'defaults' section in "+ConfigFileName+".")
	}

	if err := validateEnv(cfg.Env); err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
			"Check the 'env' section in "+ConfigFileName+".")
	}

	return nil
}

// RequireAPIKey returns an error when no API key is configured. Commands
// that talk to the provider call this up front for a clear message.
func RequireAPIKey(cfg *Config) error {
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return errors.New(errors.ErrConfig,
			"No provider API key configured",
			"Set VAST_API_KEY in your environment, or add provider.api_key to "+ConfigFileName+".")
	}
	return nil
}

func validateProvider(p ProviderConfig) error {
	if p.BaseURL == "" {
		return fmt.Errorf("provider.base_url can't be empty")
	}
	if !strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://") {
		return fmt.Errorf("provider.base_url '%s' doesn't look like a URL - it should start with https://", p.BaseURL)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("provider.timeout can't be negative")
	}
	if p.Freshness < 0 {
		return fmt.Errorf("provider.freshness can't be negative")
	}
	if p.PollInterval <= 0 {
		return fmt.Errorf("provider.poll_interval needs to be positive - try '5s'")
	}
	return nil
}

func validateSSH(s SSHConfig) error {
	if s.KeyPath == "" {
		return fmt.Errorf("ssh.key_path can't be empty - point it at your private key")
	}
	if s.User == "" {
		return fmt.Errorf("ssh.user can't be empty")
	}
	if s.ConnectTimeout < 0 {
		return fmt.Errorf("ssh.connect_timeout can't be negative")
	}
	if s.TmuxSession == "" {
		return fmt.Errorf("ssh.tmux_session can't be empty")
	}
	if strings.ContainsAny(s.TmuxSession, ". :") {
		return fmt.Errorf("ssh.tmux_session '%s' contains characters tmux treats specially - use letters, digits, and dashes", s.TmuxSession)
	}
	return nil
}

func validateDefaults(d ProvisionDefaults) error {
	if d.GPUs < 0 {
		return fmt.Errorf("defaults.gpus can't be negative")
	}
	if d.DiskGB <= 0 {
		return fmt.Errorf("defaults.disk_gb needs to be positive (got %d)", d.DiskGB)
	}
	if d.Image == "" {
		return fmt.Errorf("defaults.image can't be empty - instances need a container image")
	}
	return nil
}

func validateEnv(e EnvConfig) error {
	for i, prefix := range e.Prefixes {
		if strings.TrimSpace(prefix) == "" {
			return fmt.Errorf("env.prefixes has an empty entry at position %d - remove it", i)
		}
		if strings.ToUpper(prefix) != prefix {
			return fmt.Errorf("env.prefixes entry '%s' should be upper case - environment variables are matched case-sensitively", prefix)
		}
	}
	return nil
}
