package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{DBPath: filepath.Join(t.TempDir(), "solstice.db")})
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEnsureToolCreatesOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created, err := s.EnsureTool(ctx, "mock-tool", "1.0.0")
	if err != nil {
		t.Fatalf("EnsureTool returned error: %v", err)
	}
	if !created {
		t.Fatal("expected first EnsureTool to create a row")
	}

	created, err = s.EnsureTool(ctx, "mock-tool", "2.0.0")
	if err != nil {
		t.Fatalf("EnsureTool (second) returned error: %v", err)
	}
	if created {
		t.Fatal("expected second EnsureTool to be a no-op")
	}

	tool, err := s.GetTool(ctx, "mock-tool")
	if err != nil {
		t.Fatalf("GetTool returned error: %v", err)
	}
	if tool.Status != ToolStatusNotInstalled {
		t.Fatalf("unexpected status %q", tool.Status)
	}
	if tool.Version != "1.0.0" {
		t.Fatalf("expected original version to survive, got %q", tool.Version)
	}
}

func TestBeginToolInstallClaimsOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureTool(ctx, "mock-tool", "1.0.0"); err != nil {
		t.Fatalf("EnsureTool returned error: %v", err)
	}

	started, err := s.BeginToolInstall(ctx, "mock-tool")
	if err != nil {
		t.Fatalf("BeginToolInstall returned error: %v", err)
	}
	if !started {
		t.Fatal("expected first claim to succeed")
	}

	started, err = s.BeginToolInstall(ctx, "mock-tool")
	if err != nil {
		t.Fatalf("BeginToolInstall (second) returned error: %v", err)
	}
	if started {
		t.Fatal("expected second claim to lose while installing")
	}

	if err := s.UpdateToolStatus(ctx, "mock-tool", ToolStatusInstalled); err != nil {
		t.Fatalf("UpdateToolStatus returned error: %v", err)
	}
	started, err = s.BeginToolInstall(ctx, "mock-tool")
	if err != nil {
		t.Fatalf("BeginToolInstall (after install) returned error: %v", err)
	}
	if !started {
		t.Fatal("expected claim to succeed once the previous install finished")
	}
}

func TestGetToolNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetTool(context.Background(), "absent")
	if !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestUpdateToolStatusAndConfig(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.EnsureTool(ctx, "docker", ""); err != nil {
		t.Fatalf("EnsureTool returned error: %v", err)
	}

	if err := s.UpdateToolStatus(ctx, "docker", ToolStatusInstalling); err != nil {
		t.Fatalf("UpdateToolStatus returned error: %v", err)
	}
	if err := s.SetToolStage(ctx, "docker", "pulling image"); err != nil {
		t.Fatalf("SetToolStage returned error: %v", err)
	}
	if err := s.SetToolConfig(ctx, "docker", map[string]any{"socket": "/var/run/docker.sock"}); err != nil {
		t.Fatalf("SetToolConfig returned error: %v", err)
	}

	tool, err := s.GetTool(ctx, "docker")
	if err != nil {
		t.Fatalf("GetTool returned error: %v", err)
	}
	if tool.Status != ToolStatusInstalling {
		t.Fatalf("unexpected status %q", tool.Status)
	}
	if tool.CurrentStage != "pulling image" {
		t.Fatalf("unexpected stage %q", tool.CurrentStage)
	}
	if tool.ConfigData["socket"] != "/var/run/docker.sock" {
		t.Fatalf("unexpected config %v", tool.ConfigData)
	}

	if err := s.UpdateToolStatus(ctx, "missing", ToolStatusError); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError for missing tool, got %v", err)
	}
}

func TestListToolsOrdered(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"k8s", "docker", "ollama"} {
		if _, err := s.EnsureTool(ctx, name, ""); err != nil {
			t.Fatalf("EnsureTool(%s) returned error: %v", name, err)
		}
	}

	tools, err := s.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools returned error: %v", err)
	}
	if len(tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(tools))
	}
	for i, want := range []string{"docker", "k8s", "ollama"} {
		if tools[i].Name != want {
			t.Fatalf("unexpected order: %v", tools)
		}
	}
}

func TestDockerRegistries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddDockerRegistry(ctx, DockerRegistry{Name: "hub", URL: "index.docker.io/v1/"})
	if err != nil {
		t.Fatalf("AddDockerRegistry returned error: %v", err)
	}

	registries, err := s.ListDockerRegistries(ctx)
	if err != nil {
		t.Fatalf("ListDockerRegistries returned error: %v", err)
	}
	if len(registries) != 1 || registries[0].ID != id {
		t.Fatalf("unexpected registries: %+v", registries)
	}

	if err := s.RemoveDockerRegistry(ctx, id); err != nil {
		t.Fatalf("RemoveDockerRegistry returned error: %v", err)
	}
	if err := s.RemoveDockerRegistry(ctx, id); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
