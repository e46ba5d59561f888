// Package dockermod is the built-in Docker module: container and image
// tabs, a systemctl status probe and an exec-into-container terminal
// session type.
package dockermod

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/solstice-ops/solstice/internal/cmdrun"
	"github.com/solstice-ops/solstice/internal/config/store"
	"github.com/solstice-ops/solstice/internal/dockercli"
	"github.com/solstice-ops/solstice/internal/plugin"
	"github.com/solstice-ops/solstice/internal/term"
)

const installTimeout = 5 * time.Minute

// Module implements the Docker capability set.
type Module struct {
	plugin.Base
	runner *cmdrun.Runner
	docker *dockercli.CLI
}

// New creates the Docker module.
func New(runner *cmdrun.Runner) *Module {
	return &Module{
		Base: plugin.Base{
			ModuleID:   "docker",
			ModuleName: "Docker",
			ModuleDesc: "Container engine: containers, images and interactive container shells.",
			ModuleVer:  "1.0.0",
		},
		runner: runner,
		docker: dockercli.New(runner),
	}
}

func (m *Module) ResourceTabs() []plugin.ResourceTab {
	return []plugin.ResourceTab{
		{ID: "containers", Label: "Containers", Template: "core/partials/docker_containers.html", RefreshSeconds: 10},
		{ID: "images", Label: "Images", Template: "core/partials/docker_images.html"},
	}
}

// ContextData resolves the active tab's resource listing.
func (m *Module) ContextData(ctx context.Context, r *http.Request) map[string]any {
	switch r.URL.Query().Get("tab") {
	case "images":
		return map[string]any{"images": m.docker.ListImages(ctx)}
	default:
		return map[string]any{"containers": m.docker.ListContainers(ctx)}
	}
}

// HandleTarget dispatches container actions. Unknown targets are left for
// the caller's fallback.
func (m *Module) HandleTarget(w http.ResponseWriter, r *http.Request, target string) bool {
	ctx := r.Context()
	id := r.URL.Query().Get("id")

	var err error
	switch target {
	case "start-container":
		err = m.docker.StartContainer(ctx, id)
	case "stop-container":
		err = m.docker.StopContainer(ctx, id)
	case "remove-container":
		err = m.docker.RemoveContainer(ctx, id)
	case "remove-image":
		err = m.docker.RemoveImage(ctx, id)
	case "container-logs":
		logs, logErr := m.docker.ContainerLogs(ctx, id, 200)
		if logErr != nil {
			http.Error(w, logErr.Error(), http.StatusBadGateway)
			return true
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, logs)
		return true
	default:
		return false
	}

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return true
	}
	w.WriteHeader(http.StatusNoContent)
	return true
}

func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Pattern: "containers", Handler: m.handleContainers},
		{Pattern: "images", Handler: m.handleImages},
	}
}

func (m *Module) handleContainers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.docker.ListContainers(r.Context()))
}

func (m *Module) handleImages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.docker.ListImages(r.Context()))
}

// Install provisions the engine through the distribution's package
// manager.
func (m *Module) Install(ctx context.Context, _ *store.Tool) error {
	_, err := m.runner.Run(ctx, cmdrun.Spec{
		Argv:    []string{"sh", "-c", "apt-get update && apt-get install -y docker.io"},
		Timeout: installTimeout,
		Sudo:    true,
	})
	return err
}

// ServiceStatus asks systemd for the docker unit state.
func (m *Module) ServiceStatus(ctx context.Context, _ *store.Tool) plugin.ServiceState {
	output, err := m.runner.Run(ctx, cmdrun.Spec{
		Argv: []string{"systemctl", "is-active", "docker"},
	})
	if err != nil {
		var exit *cmdrun.ExitError
		if errors.As(err, &exit) {
			output = exit.Output
		} else {
			return plugin.ServiceUnknown
		}
	}
	return plugin.ClassifyState(firstField(output))
}

// ServiceVersion reports the running daemon's version.
func (m *Module) ServiceVersion(ctx context.Context) (string, bool) {
	version := m.docker.ServerVersion(ctx)
	return version, version != ""
}

// SessionTypes supplies the "docker" terminal kind: an interactive shell
// inside the target container. The wrapper prefers bash, falls back to sh.
func (m *Module) SessionTypes() map[string]term.Factory {
	return map[string]term.Factory{
		"docker": func(params map[string]string) (term.Process, error) {
			id := params["container_id"]
			if id == "" {
				return nil, fmt.Errorf("dockermod: missing container_id")
			}
			return term.NewCommandProcess([]string{
				"docker", "exec", "-it", id,
				"sh", "-c", "command -v bash >/dev/null && exec bash || exec sh",
			}, nil)
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func firstField(output []byte) string {
	fields := strings.Fields(string(output))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
