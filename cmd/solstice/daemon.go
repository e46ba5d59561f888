package main

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solstice-ops/solstice/internal/config"
	"github.com/solstice-ops/solstice/internal/runtime"
)

func newDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the solsticed daemon",
	}

	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Show daemon status",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStatus,
	}
	stopCmd := &cobra.Command{
		Use:           "stop",
		Short:         "Stop the running daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          daemonStop,
	}

	daemonCmd.AddCommand(statusCmd, stopCmd)
	return daemonCmd
}

func daemonStatus(cmd *cobra.Command, args []string) error {
	client := newAPIClient(cmd)
	var status struct {
		Version  string `json:"version"`
		Modules  int    `json:"modules"`
		Sessions int    `json:"sessions"`
	}
	if err := client.get("/api/status", &status); err != nil {
		return err
	}

	newOutputFormatter(cmd).Print(status, func() {
		fmt.Printf("Daemon:   running (%s)\n", status.Version)
		fmt.Printf("Modules:  %d\n", status.Modules)
		fmt.Printf("Sessions: %d\n", status.Sessions)
	})
	return nil
}

func daemonStop(cmd *cobra.Command, args []string) error {
	paths := config.GetPaths()
	pid := runtime.ReadPIDFile(paths.PIDFile)
	if pid == 0 {
		return fmt.Errorf("daemon is not running (no PID file at %s)", paths.PIDFile)
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon (PID %d): %w", pid, err)
	}

	// Give the daemon a moment to exit and clear its PID file.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if syscall.Kill(pid, syscall.Signal(0)) != nil {
			fmt.Println("Daemon stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon (PID %d) did not exit within 10s", pid)
}
