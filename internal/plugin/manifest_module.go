package plugin

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/solstice-ops/solstice/internal/cmdrun"
	"github.com/solstice-ops/solstice/internal/config/store"
	"github.com/solstice-ops/solstice/internal/term"
)

// installTimeout bounds manifest install scripts. Package installs can
// legitimately take minutes.
const installTimeout = 5 * time.Minute

// manifestModule adapts a directory manifest to the Module contract.
type manifestModule struct {
	Base
	manifest *Manifest
	runner   *cmdrun.Runner
	probe    *Probe
}

// NewManifestModule builds a module from a loaded manifest. The probe
// script, when declared, is compiled eagerly so a broken script fails the
// module at discovery time rather than on first request.
func NewManifestModule(m *Manifest, runner *cmdrun.Runner) (Module, error) {
	mod := &manifestModule{
		Base: Base{
			ModuleID:   m.ID,
			ModuleName: m.Name,
			ModuleDesc: m.Description,
			ModuleVer:  m.Version,
			ModuleIcon: m.Icon,
		},
		manifest: m,
		runner:   runner,
	}

	if m.Probe != "" {
		probe, err := LoadProbe(filepath.Join(m.Dir, m.Probe))
		if err != nil {
			return nil, err
		}
		mod.probe = probe
	}
	return mod, nil
}

func (m *manifestModule) ResourceTabs() []ResourceTab {
	tabs := make([]ResourceTab, 0, len(m.manifest.ResourceTabs))
	for _, t := range m.manifest.ResourceTabs {
		tabs = append(tabs, ResourceTab{
			ID:             t.ID,
			Label:          t.Label,
			Template:       t.Template,
			RefreshSeconds: t.RefreshSeconds,
		})
	}
	return tabs
}

func (m *manifestModule) Install(ctx context.Context, tool *store.Tool) error {
	script := m.manifest.InstallScript
	if script == "" {
		return fmt.Errorf("module %s: no install script", m.ID())
	}

	_, err := m.runner.Run(ctx, cmdrun.Spec{
		Argv:    []string{filepath.Join(m.manifest.Dir, script)},
		Dir:     m.manifest.Dir,
		Timeout: installTimeout,
		Sudo:    true,
	})
	return err
}

func (m *manifestModule) ServiceStatus(ctx context.Context, _ *store.Tool) ServiceState {
	argv := m.manifest.StatusCommand
	if len(argv) == 0 {
		return m.Base.ServiceStatus(ctx, nil)
	}

	output, err := m.runner.Run(ctx, cmdrun.Spec{Argv: argv})
	if err != nil {
		// Probe commands report "down" through their exit code; the output
		// still carries the state string.
		var exit *cmdrun.ExitError
		if errors.As(err, &exit) {
			output = exit.Output
		} else {
			return ServiceUnknown
		}
	}

	raw := strings.TrimSpace(string(output))
	if m.probe != nil && m.probe.HasStatus() {
		interpreted, err := m.probe.Status(raw)
		if err != nil {
			log.Printf("[Plugin] Module %s status probe failed: %v", m.ID(), err)
			return ServiceUnknown
		}
		raw = interpreted
	}
	return ClassifyState(raw)
}

func (m *manifestModule) ServiceVersion(ctx context.Context) (string, bool) {
	argv := m.manifest.VersionCommand
	if len(argv) == 0 {
		return "", false
	}

	output, err := m.runner.Run(ctx, cmdrun.Spec{Argv: argv})
	if err != nil {
		return "", false
	}

	raw := strings.TrimSpace(string(output))
	if m.probe != nil && m.probe.HasVersion() {
		interpreted, err := m.probe.Version(raw)
		if err != nil {
			log.Printf("[Plugin] Module %s version probe failed: %v", m.ID(), err)
			return "", false
		}
		raw = strings.TrimSpace(interpreted)
	} else if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		raw = strings.TrimSpace(raw[:idx])
	}
	return raw, raw != ""
}

func (m *manifestModule) SessionTypes() map[string]term.Factory {
	if len(m.manifest.SessionTypes) == 0 {
		return nil
	}

	types := make(map[string]term.Factory, len(m.manifest.SessionTypes))
	for _, st := range m.manifest.SessionTypes {
		argv := st.Argv
		types[st.Kind] = func(params map[string]string) (term.Process, error) {
			return term.NewCommandProcess(ExpandArgv(argv, params), nil)
		}
	}
	return types
}

// ExpandArgv substitutes {param} placeholders with values from params.
// Unknown placeholders are left verbatim.
func ExpandArgv(argv []string, params map[string]string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		for name, value := range params {
			arg = strings.ReplaceAll(arg, "{"+name+"}", value)
		}
		out[i] = arg
	}
	return out
}

// ClassifyState folds probe output into the service state vocabulary.
// systemctl's is-active strings are understood directly.
func ClassifyState(raw string) ServiceState {
	switch strings.ToLower(raw) {
	case "running", "active", "activating":
		return ServiceRunning
	case "stopped", "inactive", "deactivating", "dead":
		return ServiceStopped
	case "error", "failed":
		return ServiceError
	case "":
		return ServiceUnknown
	default:
		return ServiceUnknown
	}
}
