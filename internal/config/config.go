// Package config loads cmsg's optional JSON settings file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"cmsg/internal/logging"
)

type Config struct {
	LogLevel string `json:"log_level"` // debug, info, warn, error
	Backend  string `json:"backend"`   // git, native
	Editor   string `json:"editor"`

	Native struct {
		CacheSize int `json:"cache_size"`
	} `json:"native"`

	History struct {
		MaxWalk int `json:"max_walk"`
	} `json:"history"`
}

// Default is the configuration used when no file exists.
func Default() *Config {
	c := &Config{LogLevel: "warn", Backend: "git"}
	c.Native.CacheSize = 1024
	return c
}

// Path picks the config file: CMSG_CONFIG if set, otherwise
// config/config.<CMSG_ENV>.json with CMSG_ENV defaulting to development.
func Path(getenv func(string) string) string {
	if getenv == nil {
		getenv = os.Getenv
	}
	if p := getenv("CMSG_CONFIG"); p != "" {
		return p
	}
	env := getenv("CMSG_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Backend {
	case "git", "native":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.Native.CacheSize < 0 {
		return fmt.Errorf("native.cache_size must not be negative")
	}
	if c.History.MaxWalk < 0 {
		return fmt.Errorf("history.max_walk must not be negative")
	}
	return nil
}
