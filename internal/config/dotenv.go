package config

import (
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotenv loads environment overrides from .env files. The working
// directory takes precedence over the installation home; variables already
// present in the environment are never overwritten. A missing file is not an
// error.
func LoadDotenv() {
	candidates := []string{
		".env",
		filepath.Join(GetHome(), ".env"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Printf("[Config] Failed to load %s: %v", path, err)
		}
	}
}

// SudoPassword returns the configured sudo password, if any.
func SudoPassword() string {
	return os.Getenv("SUDO_PASSWORD")
}
