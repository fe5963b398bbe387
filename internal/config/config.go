// Package config loads server configuration from a YAML file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Backend selects the record store implementation.
type Backend string

const (
	BackendFirestore Backend = "firestore"
	BackendSQLite    Backend = "sqlite"
	BackendMemory    Backend = "memory"
)

// Config holds everything the server needs to start.
type Config struct {
	// Backend is one of firestore, sqlite or memory.
	Backend Backend `yaml:"backend"`

	// ProjectID and Collection configure the Firestore backend.
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`

	// Bucket receives uploaded statement files. Empty disables archiving.
	Bucket string `yaml:"bucket"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`

	// ListenAddr is the HTTP bind address.
	ListenAddr string `yaml:"listen_addr"`

	// SkipAuth treats the Authorization header as the user id instead of
	// verifying it as a Firebase token. Refused for the firestore backend.
	SkipAuth bool `yaml:"skip_auth"`
}

// Default returns a config suitable for local development.
func Default() *Config {
	return &Config{
		Backend:    BackendSQLite,
		Collection: "activities",
		SQLitePath: "spendtrack.db",
		ListenAddr: ":8080",
		SkipAuth:   true,
	}
}

// Load reads a YAML config file and applies defaults for omitted fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendFirestore:
		if c.ProjectID == "" {
			return fmt.Errorf("backend firestore requires project_id")
		}
		if c.SkipAuth {
			return fmt.Errorf("skip_auth is not allowed with the firestore backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("backend sqlite requires sqlite_path")
		}
		if !c.SkipAuth {
			return fmt.Errorf("backend sqlite has no token verifier, set skip_auth")
		}
	case BackendMemory:
		if !c.SkipAuth {
			return fmt.Errorf("backend memory has no token verifier, set skip_auth")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	return nil
}
