package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion              = 1
	DefaultPath                = "/etc/gohome-flo/config.yaml"
	DefaultHTTPAddr            = "0.0.0.0:8080"
	DefaultBlobPrefix          = "gohome/tokens"
	DefaultPollIntervalSeconds = 60
	DefaultSetupRetrySeconds   = 30
)

// Config is the top-level YAML configuration file.
type Config struct {
	SchemaVersion int         `yaml:"schema_version"`
	Core          *CoreConfig `yaml:"core"`
	Blob          *BlobConfig `yaml:"blob"`
	Flo           *FloConfig  `yaml:"flo"`
}

// CoreConfig holds runner-level settings.
type CoreConfig struct {
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
}

// BlobConfig points at the S3-compatible store mirroring token state.
type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
}

// FloConfig configures the Flo by Moen plugin.
type FloConfig struct {
	Username            string `yaml:"username"`
	PasswordFile        string `yaml:"password_file"`
	BaseURL             string `yaml:"base_url"`
	StatePath           string `yaml:"state_path"`
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	SetupRetrySeconds   int    `yaml:"setup_retry_seconds"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}

	if cfg.Blob != nil && cfg.Blob.Prefix == "" {
		cfg.Blob.Prefix = DefaultBlobPrefix
	}

	if cfg.Flo != nil {
		if cfg.Flo.PollIntervalSeconds == 0 {
			cfg.Flo.PollIntervalSeconds = DefaultPollIntervalSeconds
		}
		if cfg.Flo.SetupRetrySeconds == 0 {
			cfg.Flo.SetupRetrySeconds = DefaultSetupRetrySeconds
		}
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core == nil || cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if cfg.Blob != nil {
		if cfg.Blob.Endpoint == "" {
			return fmt.Errorf("blob.endpoint is required")
		}
		if cfg.Blob.Bucket == "" {
			return fmt.Errorf("blob.bucket is required")
		}
		if cfg.Blob.AccessKeyFile == "" {
			return fmt.Errorf("blob.access_key_file is required")
		}
		if cfg.Blob.SecretKeyFile == "" {
			return fmt.Errorf("blob.secret_key_file is required")
		}
	}

	if cfg.Flo != nil {
		if cfg.Flo.Username == "" {
			return fmt.Errorf("flo.username is required")
		}
		if cfg.Flo.PasswordFile == "" {
			return fmt.Errorf("flo.password_file is required")
		}
		if cfg.Flo.StatePath == "" {
			return fmt.Errorf("flo.state_path is required")
		}
		if cfg.Flo.PollIntervalSeconds < 0 {
			return fmt.Errorf("flo.poll_interval_seconds must be positive")
		}
	}

	return nil
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Flo != nil {
		enabled["flo"] = true
	}
	return enabled
}

// PollInterval resolves the Flo poll cadence.
func PollInterval(cfg *FloConfig) time.Duration {
	if cfg == nil || cfg.PollIntervalSeconds <= 0 {
		return DefaultPollIntervalSeconds * time.Second
	}
	return time.Duration(cfg.PollIntervalSeconds) * time.Second
}

// SetupRetryInterval resolves how often plugin setup is retried when the
// vendor API is not ready.
func SetupRetryInterval(cfg *FloConfig) time.Duration {
	if cfg == nil || cfg.SetupRetrySeconds <= 0 {
		return DefaultSetupRetrySeconds * time.Second
	}
	return time.Duration(cfg.SetupRetrySeconds) * time.Second
}
