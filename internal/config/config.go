package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.loom/config.toml.
type Config struct {
	// APIBaseURL is the REST backend, e.g. "https://api.example.com".
	APIBaseURL string `toml:"api_base_url"`
	// SocketURL is the realtime channel endpoint, e.g. "wss://api.example.com/rt".
	SocketURL string `toml:"socket_url"`
	// DefaultProfile selects the profile used when --profile is not given.
	DefaultProfile string `toml:"default_profile"`
}

// Load reads config from the given path. Returns an error if the file
// is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
