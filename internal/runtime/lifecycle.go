// Package runtime hosts the daemon's long-running services and
// coordinates their startup and shutdown.
package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Service is one unit the daemon starts and stops.
type Service interface {
	Start() error
	Shutdown() error
}

// Lifecycle coordinates shutdown signalling across services.
type Lifecycle struct {
	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

// NewLifecycle creates a lifecycle controller.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{shutdownChan: make(chan struct{})}
}

// Done returns a channel closed when shutdown begins.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.shutdownChan
}

// Shutdown signals all listeners. Safe to call more than once.
func (l *Lifecycle) Shutdown() {
	l.shutdownOnce.Do(func() { close(l.shutdownChan) })
}

// WritePIDFile records pid at the given path with owner-only permissions.
func WritePIDFile(pidFile string, pid int) error {
	if pidFile == "" {
		return fmt.Errorf("runtime: pid file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(pidFile), 0o755); err != nil {
		return fmt.Errorf("runtime: create pid directory: %w", err)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o600); err != nil {
		return fmt.Errorf("runtime: write pid file: %w", err)
	}
	return nil
}

// RemovePIDFile removes the pid file if present.
func RemovePIDFile(pidFile string) {
	if pidFile == "" {
		return
	}
	_ = os.Remove(pidFile)
}

// ReadPIDFile returns the pid recorded at path, or 0 when absent or
// unparsable.
func ReadPIDFile(pidFile string) int {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
