package config

import (
	"os"
	"path/filepath"
)

// KartonPath returns the root directory for karton data.
// It uses $KARTON_PATH if set, otherwise defaults to ~/.karton.
func KartonPath() string {
	if v := os.Getenv("KARTON_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".karton")
	}
	return filepath.Join(home, ".karton")
}

// ConfigPath returns the path to the karton config file.
func ConfigPath() string {
	return filepath.Join(KartonPath(), "config.jsonc")
}

// DotenvPath returns the path to the karton .env file.
func DotenvPath() string {
	return filepath.Join(KartonPath(), ".env")
}
