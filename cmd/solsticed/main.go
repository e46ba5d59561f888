package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solstice-ops/solstice/internal/cmdrun"
	"github.com/solstice-ops/solstice/internal/config"
	"github.com/solstice-ops/solstice/internal/config/store"
	"github.com/solstice-ops/solstice/internal/modules/dockermod"
	"github.com/solstice-ops/solstice/internal/modules/k8smod"
	"github.com/solstice-ops/solstice/internal/plugin"
	"github.com/solstice-ops/solstice/internal/runtime"
	"github.com/solstice-ops/solstice/internal/server"
	"github.com/solstice-ops/solstice/internal/term"
	solsticeversion "github.com/solstice-ops/solstice/internal/version"
)

var (
	flagAddr       string
	flagModulesDir string
	flagDB         string
	flagContextTTL time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "solsticed",
		Short:         "Solstice daemon - serves the ops dashboard API and terminal sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemon,
	}
	rootCmd.Version = solsticeversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.Flags().StringVar(&flagAddr, "addr", "127.0.0.1:8645", "Listen address for the HTTP API")
	rootCmd.Flags().StringVar(&flagModulesDir, "modules-dir", "", "Directory scanned for module manifests (default $SOLSTICE_HOME/modules)")
	rootCmd.Flags().StringVar(&flagDB, "db", "", "SQLite database path (default $SOLSTICE_HOME/solstice.db)")
	rootCmd.Flags().DurationVar(&flagContextTTL, "context-ttl", server.DefaultContextTTL, "How long cached module context data stays fresh")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	paths, err := config.EnsureDirs()
	if err != nil {
		return fmt.Errorf("prepare home directory: %w", err)
	}

	if err := setupLogging(paths); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logging: %v\n", err)
	}

	if pid := runtime.ReadPIDFile(paths.PIDFile); pid != 0 && processAlive(pid) {
		return fmt.Errorf("daemon is already running (PID %d)", pid)
	}

	config.LoadDotenv()

	st, err := store.Open(store.Options{DBPath: flagDB})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	runner := &cmdrun.Runner{SudoPassword: config.SudoPassword()}

	registry := plugin.NewRegistry(st, runner)
	registry.Register(dockermod.New(runner))
	registry.Register(k8smod.New(runner))

	modulesDir := flagModulesDir
	if modulesDir == "" {
		modulesDir = paths.ModulesDir
	}
	registry.Discover(modulesDir)
	registry.SyncTools(cmd.Context(), false)

	sessions := term.NewManager(registry)

	api := server.New(server.Options{
		Addr:       flagAddr,
		Store:      st,
		Registry:   registry,
		Sessions:   sessions,
		Runner:     runner,
		ContextTTL: flagContextTTL,
	})

	lifecycle := runtime.NewLifecycle()
	host := runtime.NewHost()
	host.Register("sessions", sessionService{sessions})
	host.Register("api", &apiService{server: api, lifecycle: lifecycle})

	if err := host.Start(); err != nil {
		return err
	}

	if err := runtime.WritePIDFile(paths.PIDFile, os.Getpid()); err != nil {
		log.Printf("[Daemon] Failed to write PID file: %v", err)
	}
	defer runtime.RemovePIDFile(paths.PIDFile)

	log.Printf("[Daemon] Solstice daemon started (PID %d), API on %s", os.Getpid(), api.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Printf("[Daemon] Received signal %s, shutting down", sig)
	case <-lifecycle.Done():
		log.Printf("[Daemon] Shutting down after service failure")
	}

	host.Stop()
	log.Println("[Daemon] Stopped")
	return nil
}

// sessionService exposes the terminal session manager as a hosted service
// so its sessions are torn down during shutdown.
type sessionService struct {
	sessions *term.Manager
}

func (s sessionService) Start() error    { return nil }
func (s sessionService) Shutdown() error { s.sessions.CloseAll(); return nil }

// apiService runs the HTTP server in the background and folds listener
// failures into the daemon lifecycle.
type apiService struct {
	server    *server.Server
	lifecycle *runtime.Lifecycle
}

func (s *apiService) Start() error {
	go func() {
		if err := s.server.Start(); err != nil {
			log.Printf("[Daemon] API server error: %v", err)
			s.lifecycle.Shutdown()
		}
	}()
	return nil
}

func (s *apiService) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func setupLogging(paths config.Paths) error {
	logPath := filepath.Join(paths.Logs, "daemon.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	multi := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(multi)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	return nil
}
