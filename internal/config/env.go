package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads KEY=VALUE pairs from .env files into the process
// environment. Variables already set win over file values. Missing files are
// skipped; the workspace .env is read before .chatwidget/.env.
func LoadEnvFiles(workspace string) error {
	candidates := []string{
		filepath.Join(workspace, ".env"),
		filepath.Join(workspace, ".chatwidget", ".env"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}
