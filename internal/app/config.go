package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ProfilePath string // hcl files

	LogFormat string
	LogLevel  string
	Workers   int
	QueueSize int
	// Strict promotes unrecognized-property violations to fatal even when the
	// profile leaves strict mode off.
	Strict bool
}

func NewConfig(cfg Config) (*Config, error) {
	if cfg.ProfilePath == "" {
		return nil, errors.New("ProfilePath is a required configuration field and cannot be empty")
	}

	return &cfg, nil
}
