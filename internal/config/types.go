package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration for vastctl.
type Config struct {
	// Provider holds provider API settings.
	Provider ProviderConfig `mapstructure:"provider"`

	// SSH holds SSH connection settings.
	SSH SSHConfig `mapstructure:"ssh"`

	// Defaults holds provisioning defaults applied when flags are omitted.
	Defaults ProvisionDefaults `mapstructure:"defaults"`

	// Backup holds backup storage settings.
	Backup BackupConfig `mapstructure:"backup"`

	// Env holds credential auto-detection settings.
	Env EnvConfig `mapstructure:"env"`

	// Home is the vastctl state directory. Not read from the config file;
	// resolved from VASTCTL_HOME or ~/.vastctl.
	Home string `mapstructure:"-"`
}

// ProviderConfig holds settings for the remote provider API.
type ProviderConfig struct {
	// APIKey authenticates against the provider. Overridable via VAST_API_KEY.
	APIKey string `mapstructure:"api_key"`

	// BaseURL is the provider API root.
	BaseURL string `mapstructure:"base_url"`

	// Timeout bounds a single API request.
	Timeout time.Duration `mapstructure:"timeout"`

	// Freshness is how old a record's last sync may be before
	// endpoint-consuming operations force a reconcile.
	Freshness time.Duration `mapstructure:"freshness"`

	// PollInterval is the wait between polls when verifying mutations.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// VerifyMutations makes stop/destroy poll until the provider confirms.
	VerifyMutations bool `mapstructure:"verify_mutations"`
}

// SSHConfig holds settings for SSH connections to instances.
type SSHConfig struct {
	// KeyPath is the private key used for instance access.
	KeyPath string `mapstructure:"key_path"`

	// User is the remote user. Provider images run as root.
	User string `mapstructure:"user"`

	// ConnectTimeout bounds the TCP dial + handshake.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// StrictHostKey enables known_hosts verification. Off by default:
	// rented instances are ephemeral and recycle host keys.
	StrictHostKey bool `mapstructure:"strict_host_key"`

	// TmuxSession is the shared tmux session name used by `vastctl ssh --tmux`.
	TmuxSession string `mapstructure:"tmux_session"`
}

// ProvisionDefaults are applied by `vastctl start` when flags are omitted.
type ProvisionDefaults struct {
	GPUType string `mapstructure:"gpu_type"`
	GPUs    int    `mapstructure:"gpus"`
	DiskGB  int    `mapstructure:"disk_gb"`
	Image   string `mapstructure:"image"`
	Project string `mapstructure:"project"`
}

// BackupConfig holds backup storage settings.
type BackupConfig struct {
	// Dir is where archives are stored locally. Defaults under the home dir.
	Dir string `mapstructure:"dir"`

	// Workspace is the remote directory archived by default.
	Workspace string `mapstructure:"workspace"`

	// Include are the default archive patterns, relative to Workspace.
	Include []string `mapstructure:"include"`
}

// EnvConfig holds credential auto-detection settings.
type EnvConfig struct {
	// Prefixes are environment variable prefixes forwarded to instances.
	Prefixes []string `mapstructure:"prefixes"`

	// AutoInject injects detected credentials right after provisioning.
	AutoInject bool `mapstructure:"auto_inject"`
}

// DefaultCredentialPrefixes are the variable prefixes detected and forwarded
// when env.prefixes is not configured.
var DefaultCredentialPrefixes = []string{
	"AWS_",          // AWS credentials (also used for S3-compatible like B2)
	"B2_",           // Backblaze B2 credentials
	"WANDB_",        // Weights & Biases
	"HF_",           // Hugging Face
	"HUGGING_FACE_", // Hugging Face (alternative)
	"OPENAI_",       // OpenAI
	"ANTHROPIC_",    // Anthropic
	"COHERE_",       // Cohere
	"REPLICATE_",    // Replicate
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home := HomeDir()
	return &Config{
		Provider: ProviderConfig{
			BaseURL:         "https://console.vast.ai/api/v0",
			Timeout:         30 * time.Second,
			Freshness:       60 * time.Second,
			PollInterval:    5 * time.Second,
			VerifyMutations: true,
		},
		SSH: SSHConfig{
			KeyPath:        filepath.Join(userHome(), ".ssh", "vast_rsa"),
			User:           "root",
			ConnectTimeout: 10 * time.Second,
			TmuxSession:    "vastlab",
		},
		Defaults: ProvisionDefaults{
			GPUType: "A100",
			GPUs:    1,
			DiskGB:  200,
			Image:   "pytorch/pytorch:2.4.0-cuda12.4-cudnn9-runtime",
			Project: "default",
		},
		Backup: BackupConfig{
			Dir:       filepath.Join(home, "backups"),
			Workspace: "/workspace",
			Include: []string{
				"*.pt", "*.pth", "*.safetensors", "*.ckpt",
				"notebooks", "*.json", "*.yaml", "*.txt",
			},
		},
		Env: EnvConfig{
			Prefixes:   DefaultCredentialPrefixes,
			AutoInject: true,
		},
		Home: home,
	}
}

// HomeDir returns the vastctl state directory: VASTCTL_HOME if set,
// otherwise ~/.vastctl.
func HomeDir() string {
	if dir := os.Getenv("VASTCTL_HOME"); dir != "" {
		return dir
	}
	return filepath.Join(userHome(), ".vastctl")
}

// StatePath returns the durable store path inside the home dir.
func StatePath(home string) string {
	return filepath.Join(home, "state.json")
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.Getenv("HOME")
	}
	return home
}
