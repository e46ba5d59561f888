package plugin

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/solstice-ops/solstice/internal/cmdrun"
)

func loadTestModule(t *testing.T, manifest string, extras map[string]string) Module {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "mod")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "module.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	for name, content := range extras {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
	mod, err := NewManifestModule(m, &cmdrun.Runner{})
	if err != nil {
		t.Fatalf("NewManifestModule: %v", err)
	}
	return mod
}

func TestManifestModuleIdentityDefaults(t *testing.T) {
	mod := loadTestModule(t, "id: sample\nname: Sample\nversion: 2.1.0\n", nil)

	if mod.ID() != "sample" || mod.Name() != "Sample" || mod.Version() != "2.1.0" {
		t.Fatalf("identity = %s/%s/%s", mod.ID(), mod.Name(), mod.Version())
	}
	if mod.Icon() != "sample" {
		t.Fatalf("default icon = %q, want module id", mod.Icon())
	}
	if mod.DetailTemplate() != "core/modules/sample.html" {
		t.Fatalf("default template = %q", mod.DetailTemplate())
	}
	if mod.ServiceStatus(context.Background(), nil) != ServiceRunning {
		t.Fatal("module without status command must default to running")
	}
	if _, ok := mod.ServiceVersion(context.Background()); ok {
		t.Fatal("module without version command reported a version")
	}
}

func TestManifestModuleStatusCommand(t *testing.T) {
	mod := loadTestModule(t, `id: svc
version: 1.0.0
status_command: ["sh", "-c", "echo active"]
`, nil)

	if got := mod.ServiceStatus(context.Background(), nil); got != ServiceRunning {
		t.Fatalf("ServiceStatus = %q, want running", got)
	}
}

func TestManifestModuleStatusUsesProbe(t *testing.T) {
	mod := loadTestModule(t, `id: svc
version: 1.0.0
status_command: ["sh", "-c", "echo 'STATE: healthy'"]
probe: probe.js
`, map[string]string{
		"probe.js": `exports.status = function (output) {
  return output.indexOf("healthy") >= 0 ? "running" : "error";
};`,
	})

	if got := mod.ServiceStatus(context.Background(), nil); got != ServiceRunning {
		t.Fatalf("ServiceStatus = %q, want running", got)
	}
}

func TestManifestModuleStatusFromFailingCommand(t *testing.T) {
	// systemctl-style probes exit non-zero for a stopped unit while still
	// printing the state.
	mod := loadTestModule(t, `id: svc
version: 1.0.0
status_command: ["sh", "-c", "echo inactive; exit 3"]
`, nil)

	if got := mod.ServiceStatus(context.Background(), nil); got != ServiceStopped {
		t.Fatalf("ServiceStatus = %q, want stopped", got)
	}
}

func TestManifestModuleVersionFirstLine(t *testing.T) {
	mod := loadTestModule(t, `id: svc
version: 1.0.0
version_command: ["sh", "-c", "printf 'v3.4.5\nbuild: abc\n'"]
`, nil)

	got, ok := mod.ServiceVersion(context.Background())
	if !ok || got != "v3.4.5" {
		t.Fatalf("ServiceVersion = %q, %v", got, ok)
	}
}

func TestManifestModuleResourceTabs(t *testing.T) {
	mod := loadTestModule(t, `id: svc
version: 1.0.0
resource_tabs:
  - id: items
    label: Items
    template: svc/items.html
    refresh_seconds: 10
`, nil)

	tabs := mod.ResourceTabs()
	want := []ResourceTab{{ID: "items", Label: "Items", Template: "svc/items.html", RefreshSeconds: 10}}
	if !reflect.DeepEqual(tabs, want) {
		t.Fatalf("ResourceTabs = %+v", tabs)
	}
}

func TestManifestModuleSessionTypes(t *testing.T) {
	mod := loadTestModule(t, `id: svc
version: 1.0.0
session_types:
  - kind: box
    argv: ["enter", "{box_id}"]
`, nil)

	types := mod.SessionTypes()
	if _, ok := types["box"]; !ok {
		t.Fatal("declared session kind missing")
	}
}

func TestExpandArgv(t *testing.T) {
	got := ExpandArgv(
		[]string{"kubectl", "exec", "-it", "-n", "{namespace}", "{pod}", "--", "sh"},
		map[string]string{"namespace": "prod", "pod": "web-0"},
	)
	want := []string{"kubectl", "exec", "-it", "-n", "prod", "web-0", "--", "sh"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExpandArgv = %v", got)
	}

	// Unknown placeholders stay verbatim.
	got = ExpandArgv([]string{"{missing}"}, nil)
	if got[0] != "{missing}" {
		t.Fatalf("unknown placeholder rewritten: %q", got[0])
	}
}

func TestClassifyState(t *testing.T) {
	cases := map[string]ServiceState{
		"active":       ServiceRunning,
		"running":      ServiceRunning,
		"inactive":     ServiceStopped,
		"deactivating": ServiceStopped,
		"failed":       ServiceError,
		"":             ServiceUnknown,
		"garbage":      ServiceUnknown,
	}
	for raw, want := range cases {
		if got := ClassifyState(raw); got != want {
			t.Errorf("ClassifyState(%q) = %q, want %q", raw, got, want)
		}
	}
}
