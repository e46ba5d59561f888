package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type registryRow struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	Username  string `json:"username,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func newRegistriesCommand() *cobra.Command {
	registriesCmd := &cobra.Command{
		Use:   "registries",
		Short: "Manage saved container registry credentials",
	}

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List saved registries",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          listRegistries,
	}

	var username, password string
	addCmd := &cobra.Command{
		Use:           "add [name] [url]",
		Short:         "Save a container registry",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return addRegistry(cmd, args[0], args[1], username, password)
		},
	}
	addCmd.Flags().StringVar(&username, "username", "", "Registry username")
	addCmd.Flags().StringVar(&password, "password", "", "Registry password")

	removeCmd := &cobra.Command{
		Use:           "remove [id]",
		Short:         "Delete a saved registry",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          removeRegistry,
	}

	registriesCmd.AddCommand(listCmd, addCmd, removeCmd)
	return registriesCmd
}

func listRegistries(cmd *cobra.Command, args []string) error {
	client := newAPIClient(cmd)
	var registries []registryRow
	if err := client.get("/api/registries", &registries); err != nil {
		return err
	}

	newOutputFormatter(cmd).Print(registries, func() {
		if len(registries) == 0 {
			fmt.Println("No registries saved")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tURL\tUSERNAME")
		for _, r := range registries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.ID, r.Name, r.URL, r.Username)
		}
		w.Flush()
	})
	return nil
}

func addRegistry(cmd *cobra.Command, name, url, username, password string) error {
	client := newAPIClient(cmd)
	payload := map[string]string{"name": name, "url": url}
	if username != "" {
		payload["username"] = username
	}
	if password != "" {
		payload["password"] = password
	}

	var created struct {
		ID int64 `json:"id"`
	}
	if err := client.post("/api/registries", payload, &created); err != nil {
		return err
	}
	fmt.Printf("Registry %s saved (ID %d)\n", name, created.ID)
	return nil
}

func removeRegistry(cmd *cobra.Command, args []string) error {
	if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
		return fmt.Errorf("registry id must be numeric, got %q", args[0])
	}
	client := newAPIClient(cmd)
	if err := client.delete("/api/registries/" + args[0]); err != nil {
		return err
	}
	fmt.Printf("Registry %s removed\n", args[0])
	return nil
}
