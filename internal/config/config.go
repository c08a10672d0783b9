// Package config resolves the gateway's on-disk layout and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const defaultDirName = ".deepclaude"

// Config is the resolved filesystem layout for one gateway process.
type Config struct {
	// Dir is the base directory holding the database, logs and .env.
	Dir string
}

// Load resolves the base directory (defaulting to ~/.deepclaude), creates
// it, and loads environment overrides from its .env file when present.
func Load(dir string) (*Config, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, defaultDirName)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	envFile := filepath.Join(dir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		logrus.Debugf("loaded environment from %s", envFile)
	}
	return &Config{Dir: dir}, nil
}

// DataDir is where the SQLite database lives.
func (c *Config) DataDir() string { return c.Dir }

// LogDir is where rotated log files live.
func (c *Config) LogDir() string { return filepath.Join(c.Dir, "logs") }
