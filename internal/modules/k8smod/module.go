// Package k8smod is the built-in Kubernetes module: pod, deployment and
// node tabs, cluster reachability probes and a kubectl-exec terminal
// session type.
package k8smod

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/solstice-ops/solstice/internal/cmdrun"
	"github.com/solstice-ops/solstice/internal/config/store"
	"github.com/solstice-ops/solstice/internal/k8scli"
	"github.com/solstice-ops/solstice/internal/plugin"
	"github.com/solstice-ops/solstice/internal/term"
)

// Module implements the Kubernetes capability set.
type Module struct {
	plugin.Base
	k8s *k8scli.CLI
}

// New creates the Kubernetes module.
func New(runner *cmdrun.Runner) *Module {
	return &Module{
		Base: plugin.Base{
			ModuleID:   "k8s",
			ModuleName: "Kubernetes",
			ModuleDesc: "Cluster workloads: pods, deployments, nodes and pod shells.",
			ModuleVer:  "1.0.0",
			ModuleIcon: "kubernetes",
		},
		k8s: k8scli.New(runner),
	}
}

func (m *Module) ResourceTabs() []plugin.ResourceTab {
	return []plugin.ResourceTab{
		{ID: "pods", Label: "Pods", Template: "core/partials/k8s_pods.html", RefreshSeconds: 10},
		{ID: "deployments", Label: "Deployments", Template: "core/partials/k8s_deployments.html", RefreshSeconds: 30},
		{ID: "nodes", Label: "Nodes", Template: "core/partials/k8s_nodes.html"},
	}
}

// ContextData resolves the active tab's resource listing, scoped by the
// optional namespace query parameter.
func (m *Module) ContextData(ctx context.Context, r *http.Request) map[string]any {
	namespace := r.URL.Query().Get("namespace")
	allNamespaces := namespace == ""

	data := map[string]any{
		"namespaces": m.k8s.Namespaces(ctx),
		"context":    m.k8s.CurrentContext(ctx),
	}
	switch r.URL.Query().Get("tab") {
	case "deployments":
		data["deployments"] = m.k8s.ListDeployments(ctx, namespace, allNamespaces)
	case "nodes":
		data["nodes"] = m.k8s.ListNodes(ctx)
	default:
		data["pods"] = m.k8s.ListPods(ctx, namespace, allNamespaces)
	}
	return data
}

// HandleTarget dispatches pod and deployment actions.
func (m *Module) HandleTarget(w http.ResponseWriter, r *http.Request, target string) bool {
	ctx := r.Context()
	q := r.URL.Query()
	name := q.Get("name")
	namespace := q.Get("namespace")

	var err error
	switch target {
	case "delete-pod":
		err = m.k8s.DeletePod(ctx, name, namespace)
	case "pod-logs":
		tail, _ := strconv.Atoi(q.Get("tail"))
		if tail <= 0 {
			tail = 200
		}
		logs, logErr := m.k8s.PodLogs(ctx, name, namespace, tail, q.Get("timestamps") == "1")
		if logErr != nil {
			http.Error(w, logErr.Error(), http.StatusBadGateway)
			return true
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprint(w, logs)
		return true
	case "scale-deployment":
		replicas, convErr := strconv.Atoi(q.Get("replicas"))
		if convErr != nil || replicas < 0 {
			http.Error(w, "invalid replicas", http.StatusBadRequest)
			return true
		}
		err = m.k8s.ScaleDeployment(ctx, name, namespace, replicas)
	case "restart-deployment":
		err = m.k8s.RestartDeployment(ctx, name, namespace)
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
		{Pattern: "pods", Handler: m.handlePods},
		{Pattern: "deployments", Handler: m.handleDeployments},
		{Pattern: "nodes", Handler: m.handleNodes},
	}
}

func (m *Module) handlePods(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	writeJSON(w, m.k8s.ListPods(r.Context(), namespace, namespace == ""))
}

func (m *Module) handleDeployments(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("namespace")
	writeJSON(w, m.k8s.ListDeployments(r.Context(), namespace, namespace == ""))
}

func (m *Module) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.k8s.ListNodes(r.Context()))
}

// ServiceStatus treats a reachable node list as a running cluster.
func (m *Module) ServiceStatus(ctx context.Context, _ *store.Tool) plugin.ServiceState {
	if len(m.k8s.ListNodes(ctx)) > 0 {
		return plugin.ServiceRunning
	}
	if m.k8s.CurrentContext(ctx) != "" {
		return plugin.ServiceStopped
	}
	return plugin.ServiceUnknown
}

// ServiceVersion reports the API server version.
func (m *Module) ServiceVersion(ctx context.Context) (string, bool) {
	version := m.k8s.ServerVersion(ctx)
	return version, version != ""
}

// SessionTypes supplies the "k8s" terminal kind: an interactive shell in
// the target pod, parameterised by namespace and pod name.
func (m *Module) SessionTypes() map[string]term.Factory {
	return map[string]term.Factory{
		"k8s": func(params map[string]string) (term.Process, error) {
			namespace := params["namespace"]
			pod := params["pod"]
			if namespace == "" || pod == "" {
				return nil, fmt.Errorf("k8smod: missing namespace or pod")
			}

			argv := []string{"kubectl", "exec", "-it", "-n", namespace, pod,
				"--", "sh", "-c", "command -v bash >/dev/null && exec bash || exec sh"}
			var env []string
			if path := k8scli.Kubeconfig(); path != "" {
				env = append(env, "KUBECONFIG="+path)
			}
			return term.NewCommandProcess(argv, env)
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
