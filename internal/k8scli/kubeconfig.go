// Package k8scli shells out to kubectl and parses its JSON output into
// typed records. Every call tolerates a missing or broken cluster by
// returning empty results instead of errors.
package k8scli

import (
	"os"
	"path/filepath"
)

// kubeconfigPaths are checked in order for a readable, non-empty config.
// Covers kubeadm, k3s, microk8s and per-user installs.
func kubeconfigPaths() []string {
	paths := []string{
		"/etc/kubernetes/admin.conf",
		"/etc/rancher/k3s/k3s.yaml",
		"/var/snap/microk8s/current/credentials/client.config",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".kube", "config"))
	}
	paths = append(paths, "/root/.kube/config")
	return paths
}

// Kubeconfig returns the path to the first usable kubeconfig file, or ""
// when none is found (kubectl then falls back to its own defaults).
func Kubeconfig() string {
	for _, p := range kubeconfigPaths() {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		f.Close()
		return p
	}
	return ""
}
