package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	manifestYAML = "module.yaml"
	manifestYML  = "module.yml"
)

// Manifest describes a module shipped as a directory under the modules
// root instead of compiled-in Go code.
type Manifest struct {
	Dir  string `yaml:"-"`
	File string `yaml:"-"`

	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Version     string `yaml:"version"`
	Icon        string `yaml:"icon"`

	// StatusCommand and VersionCommand are probe argvs run by the command
	// runner. Their combined output is fed to the probe script when one is
	// declared, otherwise interpreted directly.
	StatusCommand  []string `yaml:"status_command"`
	VersionCommand []string `yaml:"version_command"`

	// Probe names a JS file (relative to the manifest directory) exporting
	// status(output) and/or version(output).
	Probe string `yaml:"probe"`

	// InstallScript names an executable (relative to the manifest
	// directory) run with sudo during installation.
	InstallScript string `yaml:"install_script"`

	ResourceTabs []ManifestTab         `yaml:"resource_tabs"`
	SessionTypes []ManifestSessionType `yaml:"session_types"`
}

// ManifestTab mirrors ResourceTab in manifest form.
type ManifestTab struct {
	ID             string `yaml:"id"`
	Label          string `yaml:"label"`
	Template       string `yaml:"template"`
	RefreshSeconds int    `yaml:"refresh_seconds"`
}

// ManifestSessionType declares a terminal session kind served by running
// argv on a pty. Argv entries may contain {param} placeholders filled
// from the session parameters.
type ManifestSessionType struct {
	Kind string   `yaml:"kind"`
	Argv []string `yaml:"argv"`
}

// LoadManifest reads and validates the manifest file in dir, looking for
// module.yaml then module.yml.
func LoadManifest(dir string) (*Manifest, error) {
	var path string
	for _, name := range []string{manifestYAML, manifestYML} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil, fmt.Errorf("plugin: no manifest in %s", dir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("plugin: parse %s: %w", path, err)
	}
	m.Dir = dir
	m.File = path

	if m.ID == "" {
		m.ID = filepath.Base(dir)
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("plugin: manifest %s: %w", path, err)
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	if strings.ContainsAny(m.ID, "/\\ ") {
		return fmt.Errorf("invalid module id %q", m.ID)
	}
	for _, st := range m.SessionTypes {
		if st.Kind == "" {
			return fmt.Errorf("session type missing kind")
		}
		if len(st.Argv) == 0 {
			return fmt.Errorf("session type %s missing argv", st.Kind)
		}
	}
	return nil
}
