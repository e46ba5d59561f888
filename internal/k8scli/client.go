package k8scli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/solstice-ops/solstice/internal/cmdrun"
)

// CLI wraps kubectl invocations. The zero value is not usable; construct
// with New.
type CLI struct {
	runner *cmdrun.Runner
}

// New creates a kubectl adapter sharing the daemon's command runner.
func New(runner *cmdrun.Runner) *CLI {
	return &CLI{runner: runner}
}

func (c *CLI) env() []string {
	if path := Kubeconfig(); path != "" {
		return []string{"KUBECONFIG=" + path}
	}
	return nil
}

// run executes kubectl with the resolved kubeconfig and returns raw
// combined output.
func (c *CLI) run(ctx context.Context, args ...string) ([]byte, error) {
	return c.runner.Run(ctx, cmdrun.Spec{
		Argv: append([]string{"kubectl"}, args...),
		Env:  c.env(),
	})
}

// list fetches a resource collection. Any failure, including malformed
// JSON from a half-broken cluster, yields an empty slice.
func (c *CLI) list(ctx context.Context, resource, namespace string, allNamespaces bool) []rawObject {
	args := []string{"get", resource, "-o", "json"}
	if allNamespaces {
		args = append(args, "-A")
	} else if namespace != "" {
		args = append(args, "-n", namespace)
	}

	output, err := c.run(ctx, args...)
	if err != nil {
		return nil
	}
	var parsed rawList
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil
	}
	return parsed.Items
}

// get fetches a single object, reporting absence as ok=false.
func (c *CLI) get(ctx context.Context, resource, name, namespace string) (rawObject, bool) {
	args := []string{"get", resource, name, "-o", "json"}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}

	output, err := c.run(ctx, args...)
	if err != nil {
		return rawObject{}, false
	}
	var parsed rawObject
	if err := json.Unmarshal(output, &parsed); err != nil {
		return rawObject{}, false
	}
	return parsed, true
}

func (c *CLI) delete(ctx context.Context, resource, name, namespace string) error {
	args := []string{"delete", resource, name}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	_, err := c.run(ctx, args...)
	return err
}

// ListPods returns the pods in namespace, or across all namespaces.
func (c *CLI) ListPods(ctx context.Context, namespace string, allNamespaces bool) []Pod {
	raw := c.list(ctx, "pod", namespace, allNamespaces)
	pods := make([]Pod, 0, len(raw))
	for i := range raw {
		pods = append(pods, raw[i].toPod())
	}
	return pods
}

// GetPod fetches one pod; ok is false when it does not exist.
func (c *CLI) GetPod(ctx context.Context, name, namespace string) (Pod, bool) {
	raw, ok := c.get(ctx, "pod", name, namespace)
	if !ok {
		return Pod{}, false
	}
	return raw.toPod(), true
}

// DeletePod removes a pod.
func (c *CLI) DeletePod(ctx context.Context, name, namespace string) error {
	return c.delete(ctx, "pod", name, namespace)
}

// PodLogs fetches recent log output. tail of zero means kubectl's default.
func (c *CLI) PodLogs(ctx context.Context, name, namespace string, tail int, timestamps bool) (string, error) {
	args := []string{"logs", name}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	if tail > 0 {
		args = append(args, "--tail", strconv.Itoa(tail))
	}
	if timestamps {
		args = append(args, "--timestamps")
	}

	output, err := c.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("k8scli: logs for %s: %w", name, err)
	}
	return string(output), nil
}

// ListDeployments returns the deployments in namespace.
func (c *CLI) ListDeployments(ctx context.Context, namespace string, allNamespaces bool) []Deployment {
	raw := c.list(ctx, "deployment", namespace, allNamespaces)
	out := make([]Deployment, 0, len(raw))
	for i := range raw {
		out = append(out, raw[i].toDeployment())
	}
	return out
}

// ScaleDeployment sets the replica count for a deployment.
func (c *CLI) ScaleDeployment(ctx context.Context, name, namespace string, replicas int) error {
	args := []string{"scale", "deployment", name, "--replicas=" + strconv.Itoa(replicas)}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	_, err := c.run(ctx, args...)
	return err
}

// RestartDeployment triggers a rolling restart.
func (c *CLI) RestartDeployment(ctx context.Context, name, namespace string) error {
	args := []string{"rollout", "restart", "deployment", name}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	_, err := c.run(ctx, args...)
	return err
}

// ListServices returns the services in namespace.
func (c *CLI) ListServices(ctx context.Context, namespace string, allNamespaces bool) []Service {
	raw := c.list(ctx, "service", namespace, allNamespaces)
	out := make([]Service, 0, len(raw))
	for i := range raw {
		out = append(out, raw[i].toService())
	}
	return out
}

// ListNodes returns the cluster nodes.
func (c *CLI) ListNodes(ctx context.Context) []Node {
	raw := c.list(ctx, "node", "", false)
	out := make([]Node, 0, len(raw))
	for i := range raw {
		out = append(out, raw[i].toNode())
	}
	return out
}

// Namespaces returns the cluster's namespace names.
func (c *CLI) Namespaces(ctx context.Context) []string {
	raw := c.list(ctx, "namespaces", "", false)
	out := make([]string, 0, len(raw))
	for i := range raw {
		if raw[i].Metadata.Name != "" {
			out = append(out, raw[i].Metadata.Name)
		}
	}
	return out
}

// CurrentContext returns the active kubectl context, or "" when kubectl
// cannot answer.
func (c *CLI) CurrentContext(ctx context.Context) string {
	output, err := c.run(ctx, "config", "current-context")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

// ServerVersion returns the API server's reported version, or "" when
// unreachable.
func (c *CLI) ServerVersion(ctx context.Context) string {
	output, err := c.run(ctx, "version", "-o", "json")
	if err != nil {
		return ""
	}
	var parsed struct {
		ServerVersion struct {
			GitVersion string `json:"gitVersion"`
		} `json:"serverVersion"`
	}
	if err := json.Unmarshal(output, &parsed); err != nil {
		return ""
	}
	return parsed.ServerVersion.GitVersion
}
