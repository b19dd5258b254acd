package flo

import (
	"fmt"
	"time"

	"github.com/joshp123/gohome-flo/internal/config"
	"github.com/joshp123/gohome-flo/internal/tokenstore"
)

// Config defines runtime configuration for the Flo client.
type Config struct {
	Username     string
	Password     string
	BaseURL      string
	PollInterval time.Duration
	SetupRetry   time.Duration
	StatePath    string
}

func ConfigFromFile(cfg *config.FloConfig) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("flo config is required")
	}
	if cfg.Username == "" {
		return Config{}, fmt.Errorf("flo username is required")
	}
	if cfg.PasswordFile == "" {
		return Config{}, fmt.Errorf("flo password_file is required")
	}

	password, err := tokenstore.ReadSecretFile(cfg.PasswordFile)
	if err != nil {
		return Config{}, fmt.Errorf("read flo password: %w", err)
	}
	if password == "" {
		return Config{}, fmt.Errorf("flo password is empty")
	}

	return Config{
		Username:     cfg.Username,
		Password:     password,
		BaseURL:      cfg.BaseURL,
		PollInterval: config.PollInterval(cfg),
		SetupRetry:   config.SetupRetryInterval(cfg),
		StatePath:    cfg.StatePath,
	}, nil
}
