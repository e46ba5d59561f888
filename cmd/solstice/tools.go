package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/solstice-ops/solstice/internal/version"
)

type toolRow struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	Stage       string `json:"current_stage,omitempty"`
	HasModule   bool   `json:"has_module"`
}

func newToolsCommand() *cobra.Command {
	toolsCmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and install managed tools",
	}

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List all managed tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listTools,
	}
	statusCmd := &cobra.Command{
		Use:           "status [tool]",
		Short:         "Show a tool's service and install status",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          toolStatus,
	}
	installCmd := &cobra.Command{
		Use:           "install [tool]",
		Short:         "Start installing a tool on this host",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          installTool,
	}

	toolsCmd.AddCommand(listCmd, statusCmd, installCmd)
	return toolsCmd
}

func listTools(cmd *cobra.Command, args []string) error {
	client := newAPIClient(cmd)
	var tools []toolRow
	if err := client.get("/api/tools", &tools); err != nil {
		return err
	}

	newOutputFormatter(cmd).Print(tools, func() {
		if len(tools) == 0 {
			fmt.Println("No tools registered")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSTATUS\tVERSION\tMODULE")
		for _, t := range tools {
			module := "-"
			if t.HasModule {
				module = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				t.Name, t.Status, version.FormatVersion(t.Version), module)
		}
		w.Flush()
	})
	return nil
}

func toolStatus(cmd *cobra.Command, args []string) error {
	client := newAPIClient(cmd)
	var status struct {
		Name          string `json:"name"`
		ServiceStatus string `json:"service_status"`
		InstallStatus string `json:"install_status"`
	}
	if err := client.get("/api/tools/"+args[0]+"/status", &status); err != nil {
		return err
	}

	newOutputFormatter(cmd).Print(status, func() {
		fmt.Printf("Tool:    %s\n", status.Name)
		fmt.Printf("Service: %s\n", status.ServiceStatus)
		fmt.Printf("Install: %s\n", status.InstallStatus)
	})
	return nil
}

func installTool(cmd *cobra.Command, args []string) error {
	client := newAPIClient(cmd)
	if err := client.post("/api/tools/"+args[0]+"/install", nil, nil); err != nil {
		return err
	}
	fmt.Printf("Installation of %s started. Watch progress with: solstice tools status %s\n",
		args[0], args[0])
	return nil
}
