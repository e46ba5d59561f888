package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths contains all filesystem locations used by a Solstice installation.
type Paths struct {
	Home       string // Installation home directory
	DB         string // SQLite store path
	ModulesDir string // Directory scanned for installable modules
	Logs       string // Logs directory
	PIDFile    string // Daemon PID file path
}

// GetPaths returns all paths for the current installation.
func GetPaths() Paths {
	home := GetHome()
	return Paths{
		Home:       home,
		DB:         filepath.Join(home, "solstice.db"),
		ModulesDir: filepath.Join(home, "modules"),
		Logs:       filepath.Join(home, "logs"),
		PIDFile:    filepath.Join(home, "solsticed.pid"),
	}
}

// GetHome returns the Solstice home directory. SOLSTICE_HOME overrides the
// default ~/.solstice.
func GetHome() string {
	if custom := strings.TrimSpace(os.Getenv("SOLSTICE_HOME")); custom != "" {
		return custom
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".solstice")
}

// EnsureDirs creates the home directory tree if it does not exist yet and
// returns the resolved paths.
func EnsureDirs() (Paths, error) {
	paths := GetPaths()
	for _, dir := range []string{paths.Home, paths.ModulesDir, paths.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Paths{}, fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return paths, nil
}

// ExpandPath expands a leading ~ to the user home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(userHome, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}
