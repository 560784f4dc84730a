package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// EnvPath names an explicit config file.
	EnvPath = "DPV_CONFIG"

	defaultFile = ".dpv/config.json"
)

// Discover finds the config file path.
// Priority: DPV_CONFIG env var > .dpv/config.json in CWD > walk up parents.
// When nothing is found the error wraps os.ErrNotExist.
func Discover() (string, error) {
	if env := os.Getenv(EnvPath); env != "" {
		if _, err := os.Stat(env); err != nil {
			return "", fmt.Errorf("%s=%q: %w", EnvPath, env, os.ErrNotExist)
		}
		abs, err := filepath.Abs(env)
		if err != nil {
			return "", fmt.Errorf("resolve absolute path for %s: %w", env, err)
		}
		return abs, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, defaultFile)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("no config file found (looked for %s): %w", defaultFile, os.ErrNotExist)
}
